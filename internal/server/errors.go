package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
	documentdomain "github.com/skarecito/verifactu/internal/document/domain"
	sequencedomain "github.com/skarecito/verifactu/internal/sequence/domain"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Count   int64  `json:"count,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts domain errors attached to the gin context
// into JSON error responses.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var pending *closingdomain.PendingSubmissionsError
	if errors.As(err, &pending) {
		return http.StatusConflict, errorPayload{
			Type:    "pending_submissions",
			Message: pending.Error(),
			Count:   pending.Count,
		}
	}

	var broken *closingdomain.BrokenChainError
	if errors.As(err, &broken) {
		return http.StatusConflict, errorPayload{
			Type:    "chain_broken",
			Message: broken.Error(),
		}
	}

	switch {
	case errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, seriesdomain.ErrInvalidOrganization):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "missing or invalid organization"}

	case errors.Is(err, seriesdomain.ErrInvalidSeriesCode),
		errors.Is(err, documentdomain.ErrInvalidDocumentType),
		errors.Is(err, documentdomain.ErrInvalidIssueDate),
		errors.Is(err, documentdomain.ErrInvalidAmount),
		errors.Is(err, documentdomain.ErrAmountMismatch),
		errors.Is(err, documentdomain.ErrRectifiesRequired),
		errors.Is(err, closingdomain.ErrReasonRequired),
		errors.Is(err, closingdomain.ErrInvalidFiscalYear),
		errors.Is(err, sequencedomain.ErrFiscalYearTooOld),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, documentdomain.ErrInvalidPageToken),
		errors.Is(err, submissiondomain.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}

	case errors.Is(err, seriesdomain.ErrSeriesNotFound),
		errors.Is(err, sequencedomain.ErrSeriesNotFound),
		errors.Is(err, documentdomain.ErrDocumentNotFound),
		errors.Is(err, documentdomain.ErrRectifiedNotFound),
		errors.Is(err, closingdomain.ErrClosingNotFound),
		errors.Is(err, submissiondomain.ErrSubmissionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, seriesdomain.ErrSeriesExists),
		errors.Is(err, sequencedomain.ErrSeriesLocked),
		errors.Is(err, sequencedomain.ErrAllocationConflict),
		errors.Is(err, documentdomain.ErrPeriodClosed),
		errors.Is(err, closingdomain.ErrAlreadyClosed),
		errors.Is(err, closingdomain.ErrNotClosed),
		errors.Is(err, closingdomain.ErrEmptyPeriod),
		errors.Is(err, chaindomain.ErrMissingPreviousFingerprint):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
