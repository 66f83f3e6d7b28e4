// Package domain contains the outbox model for transmissions to the tax
// authority.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/skarecito/verifactu/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	StatusPending        = "pending"
	StatusAccepted       = "accepted"
	StatusRejected       = "rejected"
	StatusError          = "error"
	StatusNeedsAttention = "needs_attention"
)

// Submission is one outbox row. Issuing a document inserts it as pending in
// the same transaction; the relay worker drives it to a terminal status.
type Submission struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	OrgID           snowflake.ID `gorm:"not null;index"`
	DocumentID      snowflake.ID `gorm:"not null;uniqueIndex"`
	Label           string       `gorm:"type:text;not null"`
	Fingerprint     string       `gorm:"type:text;not null"`
	Status          string       `gorm:"type:text;not null;index"`
	Attempts        int          `gorm:"not null;default:0"`
	NextAttemptAt   time.Time    `gorm:"not null;index"`
	CSV             string       `gorm:"type:text"`
	ResponseCode    string       `gorm:"type:text"`
	ResponseMessage string       `gorm:"type:text"`
	LastError       string       `gorm:"type:text"`
	SubmittedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Submission) TableName() string { return "submissions" }

// SubmissionAttempt is the immutable trace of one transmission attempt,
// including the raw request and response exchanged with the authority. The
// outbox row carries the current state; attempts carry the history.
type SubmissionAttempt struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	SubmissionID    snowflake.ID `gorm:"not null;index"`
	OrgID           snowflake.ID `gorm:"not null;index"`
	DocumentID      snowflake.ID `gorm:"not null;index"`
	Attempt         int          `gorm:"not null"`
	Status          string       `gorm:"type:text;not null"`
	ResponseCode    string       `gorm:"type:text"`
	ResponseMessage string       `gorm:"type:text"`
	RequestPayload  string       `gorm:"type:text"`
	ResponsePayload string       `gorm:"type:text"`
	CreatedAt       time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (SubmissionAttempt) TableName() string { return "submission_attempts" }

// SubmitRequest carries everything the authority envelope needs.
type SubmitRequest struct {
	DocumentID          snowflake.ID
	IssuerTaxID         string
	CounterpartTaxID    string
	Label               string
	IssueDate           time.Time
	KindTag             string
	TaxBase             decimal.Decimal
	TaxAmount           decimal.Decimal
	TotalAmount         decimal.Decimal
	Fingerprint         string
	PreviousFingerprint string
}

// SubmitResult is the gateway outcome for one transmission attempt. RawRequest
// and RawResponse are kept verbatim for the audit trail.
type SubmitResult struct {
	Status          string
	CSV             string
	ResponseCode    string
	ResponseMessage string
	RawRequest      string
	RawResponse     string
}

// Gateway transmits one record to the authority. Implementations decide
// whether that means a real HTTP exchange or a simulated acknowledgement.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Mode() string
}

type ListFilter struct {
	OrgID  snowflake.ID
	Status string
	pagination.Pagination
}

// ListResult carries one page of submissions plus the cursor for the next one.
type ListResult struct {
	Submissions []Submission         `json:"submissions"`
	PageInfo    *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// EnqueueTx inserts a pending outbox row inside the caller's transaction.
	EnqueueTx(ctx context.Context, tx *gorm.DB, sub Submission) error
	// Dispatch sends one pending submission through the gateway and records
	// the outcome, including the raw exchange as a SubmissionAttempt.
	Dispatch(ctx context.Context, sub *Submission) error
	// DueBatch returns submissions ready for (re)transmission.
	DueBatch(ctx context.Context, limit int) ([]Submission, error)
	List(ctx context.Context, filter ListFilter) (ListResult, error)
	GetByDocument(ctx context.Context, orgID, documentID snowflake.ID) (*Submission, error)
	// Attempts returns the transmission history of one document, oldest first.
	Attempts(ctx context.Context, orgID, documentID snowflake.ID) ([]SubmissionAttempt, error)
}

var (
	ErrSubmissionNotFound = errors.New("submission_not_found")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
