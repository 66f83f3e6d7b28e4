// Package domain contains the fiscal document model and issuing contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/skarecito/verifactu/pkg/db/pagination"
)

const (
	TypeInvoice       = "invoice"
	TypeSimplified    = "simplified"
	TypeRectificative = "rectificative"
)

// ValidType reports whether the document type is one the engine issues.
func ValidType(documentType string) bool {
	switch documentType {
	case TypeInvoice, TypeSimplified, TypeRectificative:
		return true
	default:
		return false
	}
}

// FiscalDocument is one issued document. Amount columns are denormalized from
// the issue request after default resolution so the stored row is complete on
// its own.
type FiscalDocument struct {
	ID                  snowflake.ID    `gorm:"primaryKey"`
	OrgID               snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_document_number"`
	SeriesCode          string          `gorm:"type:text;not null;uniqueIndex:ux_document_number"`
	DocumentType        string          `gorm:"type:text;not null;uniqueIndex:ux_document_number"`
	FiscalYear          int             `gorm:"not null;index;uniqueIndex:ux_document_number"`
	Number              int64           `gorm:"not null;uniqueIndex:ux_document_number"`
	Label               string          `gorm:"type:text;not null"`
	IssueDate           time.Time       `gorm:"not null"`
	IssuerTaxID         string          `gorm:"type:text;not null"`
	CounterpartTaxID    string          `gorm:"type:text"`
	CounterpartName     string          `gorm:"type:text"`
	Description         string          `gorm:"type:text"`
	TaxBase             decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TaxAmount           decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	WithholdingAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	SurchargeAmount     decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TotalAmount         decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Locked              bool            `gorm:"not null;default:false"`
	RectifiesDocumentID *snowflake.ID   `gorm:"index"`
	CreatedAt           time.Time       `gorm:"not null"`
	UpdatedAt           time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (FiscalDocument) TableName() string { return "fiscal_documents" }

// IssueRequest is the API payload for issuing a document. Withholding,
// surcharge and total are optional; missing values are resolved by
// ResolveAmounts before anything is persisted.
type IssueRequest struct {
	SeriesCode          string  `json:"series_code" binding:"required"`
	DocumentType        string  `json:"document_type" binding:"required"`
	IssueDate           string  `json:"issue_date" binding:"required"` // 2006-01-02
	IssuerTaxID         string  `json:"issuer_tax_id" binding:"required"`
	CounterpartTaxID    string  `json:"counterpart_tax_id"`
	CounterpartName     string  `json:"counterpart_name"`
	Description         string  `json:"description"`
	TaxBase             string  `json:"tax_base" binding:"required"`
	TaxAmount           string  `json:"tax_amount" binding:"required"`
	WithholdingAmount   *string `json:"withholding_amount"`
	SurchargeAmount     *string `json:"surcharge_amount"`
	TotalAmount         *string `json:"total_amount"`
	RectifiesDocumentID *string `json:"rectifies_document_id"`
}

type ListFilter struct {
	OrgID      snowflake.ID
	SeriesCode string
	FiscalYear int
	pagination.Pagination
}

// ListResult carries one page of documents plus the cursor for the next one.
type ListResult struct {
	Documents []*FiscalDocument    `json:"documents"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*FiscalDocument, error)
	Get(ctx context.Context, id snowflake.ID) (*FiscalDocument, error)
	// QRCode returns the PNG image stored with the document's chain record.
	QRCode(ctx context.Context, id snowflake.ID) ([]byte, error)
	List(ctx context.Context, filter ListFilter) (ListResult, error)
}

var (
	ErrInvalidDocumentType = errors.New("invalid_document_type")
	ErrInvalidIssueDate    = errors.New("invalid_issue_date")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrAmountMismatch      = errors.New("amount_mismatch")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrDocumentNotFound    = errors.New("document_not_found")
	ErrPeriodClosed        = errors.New("period_closed")
	ErrRectifiedNotFound   = errors.New("rectified_document_not_found")
	ErrRectifiesRequired   = errors.New("rectifies_document_required")
)
