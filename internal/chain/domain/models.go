// Package domain contains the integrity envelope persisted for every issued
// document.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Kind tags entering the fingerprint. A document whose counterpart carries a
// tax id is tagged F1, otherwise F2. The rectification flag deliberately does
// not influence the tag.
const (
	KindIdentified   = "F1"
	KindUnidentified = "F2"
)

// ChainRecord is the immutable integrity envelope of one document. It is
// written once at issuance and never updated; amending a document means
// issuing a new document with a new record.
type ChainRecord struct {
	ID                  snowflake.ID    `gorm:"primaryKey"`
	OrgID               snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_chain_number"`
	DocumentID          snowflake.ID    `gorm:"not null;uniqueIndex"`
	SeriesCode          string          `gorm:"type:text;not null;uniqueIndex:ux_chain_number"`
	DocumentType        string          `gorm:"type:text;not null;uniqueIndex:ux_chain_number"`
	FiscalYear          int             `gorm:"not null;index;uniqueIndex:ux_chain_number"`
	Number              int64           `gorm:"not null;uniqueIndex:ux_chain_number"`
	Label               string          `gorm:"type:text;not null"`
	IssuerTaxID         string          `gorm:"type:text;not null"`
	CounterpartTaxID    string          `gorm:"type:text"`
	IssueDate           time.Time       `gorm:"not null"`
	KindTag             string          `gorm:"type:text;not null"`
	TaxBase             decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TaxAmount           decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TotalAmount         decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Fingerprint         string          `gorm:"type:text;not null"`
	PreviousFingerprint string          `gorm:"type:text;not null"`
	VerificationURL     string          `gorm:"type:text;not null"`
	QRCode              []byte          `gorm:""`
	CreatedAt           time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (ChainRecord) TableName() string { return "chain_records" }

// SignInput carries the document fields entering the fingerprint.
type SignInput struct {
	DocumentID       snowflake.ID
	OrgID            snowflake.ID
	IssuerTaxID      string
	SeriesCode       string
	DocumentType     string
	FiscalYear       int
	Number           int64
	Label            string
	IssueDate        time.Time
	CounterpartTaxID string
	TaxBase          decimal.Decimal
	TaxAmount        decimal.Decimal
	TotalAmount      decimal.Decimal
}

// RecordStatus is the verification outcome for one record of a lineage.
type RecordStatus struct {
	Label  string `json:"label"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// LineageReport is the verification outcome for one full lineage.
type LineageReport struct {
	OK       bool           `json:"ok"`
	BrokenAt int            `json:"broken_at"` // index of first broken record, -1 when intact
	Records  []RecordStatus `json:"records"`
}

type Service interface {
	// Sign computes the integrity envelope for a document. firstInLineage
	// asserts that no prior record exists for the (org, series) lineage.
	Sign(input SignInput, previousFingerprint string, firstInLineage bool) (ChainRecord, error)
	// VerifyLineage checks an ordered lineage for linkage and fingerprint
	// reproducibility.
	VerifyLineage(records []ChainRecord) LineageReport
	// VerifySeries loads and verifies the persisted lineage of one series.
	VerifySeries(ctx context.Context, orgID snowflake.ID, seriesCode string) (LineageReport, error)
	// LastRecordTx returns the latest record of a lineage within the caller's
	// transaction, or nil when the lineage is empty.
	LastRecordTx(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, seriesCode string) (*ChainRecord, error)
}

var (
	ErrMissingPreviousFingerprint = errors.New("missing_previous_fingerprint")
	ErrInvalidIssuer              = errors.New("invalid_issuer_tax_id")
)
