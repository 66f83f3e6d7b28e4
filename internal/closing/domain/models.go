// Package domain contains the fiscal-year closing model and contracts.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ClosingRecord tracks the lifecycle of one (organization, fiscal year)
// period. One row per period: reopening flips it back open and a later close
// recomputes the aggregates on the same row.
type ClosingRecord struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	OrgID            snowflake.ID    `gorm:"not null;uniqueIndex:ux_closing_org_year"`
	FiscalYear       int             `gorm:"not null;uniqueIndex:ux_closing_org_year"`
	Open             bool            `gorm:"not null;default:true"`
	DocumentCount    int64           `gorm:"not null;default:0"`
	TotalTaxBase     decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TotalTaxAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TotalSurcharge   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TotalWithholding decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TotalAmount      decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	FinalFingerprint string          `gorm:"type:text"`
	ArtifactPath     string          `gorm:"type:text"`
	ClosedAt         *time.Time
	ReopenedAt       *time.Time
	ReopenReason     *string   `gorm:"type:text"`
	ReopenedBy       *string   `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (ClosingRecord) TableName() string { return "closing_records" }

// SeriesSummary is the per-series slice of a closing ledger.
type SeriesSummary struct {
	SeriesCode      string
	DocumentCount   int64
	TotalAmount     decimal.Decimal
	LastLabel       string
	LastFingerprint string
}

// ClosingSummary is everything an archiver needs to render the ledger.
type ClosingSummary struct {
	OrgID            snowflake.ID
	FiscalYear       int
	DocumentCount    int64
	TotalTaxBase     decimal.Decimal
	TotalTaxAmount   decimal.Decimal
	TotalSurcharge   decimal.Decimal
	TotalWithholding decimal.Decimal
	TotalAmount      decimal.Decimal
	FinalFingerprint string
	ClosedAt         time.Time
	Series           []SeriesSummary
}

// Archiver renders and stores the closing ledger, returning a reference to
// the stored artifact. An archiver failure aborts the whole closing.
type Archiver interface {
	Archive(ctx context.Context, summary ClosingSummary) (string, error)
}

type ReopenRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type Service interface {
	Close(ctx context.Context, fiscalYear int) (*ClosingRecord, error)
	Reopen(ctx context.Context, fiscalYear int, req ReopenRequest) (*ClosingRecord, error)
	List(ctx context.Context) ([]ClosingRecord, error)
}

var (
	ErrAlreadyClosed     = errors.New("period_already_closed")
	ErrNotClosed         = errors.New("period_not_closed")
	ErrEmptyPeriod       = errors.New("period_has_no_documents")
	ErrClosingNotFound   = errors.New("closing_not_found")
	ErrReasonRequired    = errors.New("reopen_reason_required")
	ErrInvalidFiscalYear = errors.New("invalid_fiscal_year")
)

// PendingSubmissionsError blocks closing while authority submissions for the
// period are unresolved.
type PendingSubmissionsError struct {
	Count int64
}

func (e *PendingSubmissionsError) Error() string {
	return fmt.Sprintf("%d submissions still unresolved", e.Count)
}

// BrokenChainError blocks closing when a series lineage fails verification.
type BrokenChainError struct {
	SeriesCode string
	BrokenAt   int
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("chain broken in series %s at position %d", e.SeriesCode, e.BrokenAt)
}
