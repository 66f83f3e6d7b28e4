package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	auditcontext "github.com/skarecito/verifactu/internal/auditcontext"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	"github.com/skarecito/verifactu/internal/clock"
	documentdomain "github.com/skarecito/verifactu/internal/document/domain"
	obsmetrics "github.com/skarecito/verifactu/internal/observability/metrics"
	"github.com/skarecito/verifactu/internal/orgcontext"
	sequencedomain "github.com/skarecito/verifactu/internal/sequence/domain"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"github.com/skarecito/verifactu/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const issueDateLayout = "2006-01-02"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Sequence   sequencedomain.Service
	Chain      chaindomain.Service
	Submission submissiondomain.Service
	Audit      auditdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	sequence   sequencedomain.Service
	chain      chaindomain.Service
	submission submissiondomain.Service
	audit      auditdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) documentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("document.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		sequence:   p.Sequence,
		chain:      p.Chain,
		submission: p.Submission,
		audit:      p.Audit,
		metrics:    p.Metrics,
	}
}

// Issue allocates the next number, extends the fingerprint chain and enqueues
// the authority submission, all inside one transaction. A failure at any step
// rolls everything back, including the allocated number, so the sequence
// stays gap-free.
func (s *Service) Issue(ctx context.Context, req documentdomain.IssueRequest) (*documentdomain.FiscalDocument, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}

	if !documentdomain.ValidType(req.DocumentType) {
		return nil, documentdomain.ErrInvalidDocumentType
	}

	issueDate, err := time.ParseInLocation(issueDateLayout, strings.TrimSpace(req.IssueDate), time.UTC)
	if err != nil {
		return nil, documentdomain.ErrInvalidIssueDate
	}

	amounts, err := documentdomain.ResolveAmounts(req)
	if err != nil {
		return nil, err
	}

	rectifiesID, err := s.parseRectifies(req)
	if err != nil {
		return nil, err
	}

	fiscalYear := issueDate.Year()
	seriesCode := strings.ToUpper(strings.TrimSpace(req.SeriesCode))
	now := s.clock.Now()

	doc := &documentdomain.FiscalDocument{
		ID:                  s.genID.Generate(),
		OrgID:               orgID,
		SeriesCode:          seriesCode,
		DocumentType:        req.DocumentType,
		FiscalYear:          fiscalYear,
		IssueDate:           issueDate,
		IssuerTaxID:         strings.TrimSpace(req.IssuerTaxID),
		CounterpartTaxID:    strings.TrimSpace(req.CounterpartTaxID),
		CounterpartName:     strings.TrimSpace(req.CounterpartName),
		Description:         strings.TrimSpace(req.Description),
		TaxBase:             amounts.TaxBase,
		TaxAmount:           amounts.TaxAmount,
		WithholdingAmount:   amounts.Withholding,
		SurchargeAmount:     amounts.Surcharge,
		TotalAmount:         amounts.Total,
		RectifiesDocumentID: rectifiesID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Allocation locks the series row, which is the serialization point
		// against a concurrent closing: closing takes the same locks before
		// aggregating, so the period check below always sees the closing's
		// committed outcome.
		allocation, err := s.sequence.AllocateTx(ctx, tx, sequencedomain.AllocateRequest{
			OrgID:        orgID,
			SeriesCode:   seriesCode,
			DocumentType: req.DocumentType,
			FiscalYear:   fiscalYear,
		})
		if err != nil {
			return err
		}
		doc.Number = allocation.Number
		doc.Label = allocation.Label

		if err := s.ensurePeriodOpen(ctx, tx, orgID, fiscalYear); err != nil {
			return err
		}
		if rectifiesID != nil {
			if err := s.ensureRectifiedExists(ctx, tx, orgID, *rectifiesID); err != nil {
				return err
			}
		}

		last, err := s.chain.LastRecordTx(ctx, tx, orgID, seriesCode)
		if err != nil {
			return err
		}
		previous := ""
		if last != nil {
			previous = last.Fingerprint
		}

		record, err := s.chain.Sign(chaindomain.SignInput{
			DocumentID:       doc.ID,
			OrgID:            orgID,
			IssuerTaxID:      doc.IssuerTaxID,
			SeriesCode:       seriesCode,
			DocumentType:     doc.DocumentType,
			FiscalYear:       fiscalYear,
			Number:           doc.Number,
			Label:            doc.Label,
			IssueDate:        doc.IssueDate,
			CounterpartTaxID: doc.CounterpartTaxID,
			TaxBase:          doc.TaxBase,
			TaxAmount:        doc.TaxAmount,
			TotalAmount:      doc.TotalAmount,
		}, previous, last == nil)
		if err != nil {
			return err
		}
		record.CreatedAt = now

		if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
		return s.submission.EnqueueTx(ctx, tx, submissiondomain.Submission{
			OrgID:       orgID,
			DocumentID:  doc.ID,
			Label:       doc.Label,
			Fingerprint: record.Fingerprint,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDocumentIssued(ctx, doc.DocumentType)
	s.emitAudit(ctx, doc, "document.issued")
	s.log.Info("document issued",
		zap.String("org_id", orgID.String()),
		zap.String("label", doc.Label),
		zap.String("document_type", doc.DocumentType),
	)

	return doc, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*documentdomain.FiscalDocument, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}

	var doc documentdomain.FiscalDocument
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", id, orgID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, documentdomain.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Service) QRCode(ctx context.Context, id snowflake.ID) ([]byte, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}

	var record chaindomain.ChainRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND org_id = ?", id, orgID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, documentdomain.ErrDocumentNotFound
		}
		return nil, err
	}
	return record.QRCode, nil
}

func (s *Service) List(ctx context.Context, filter documentdomain.ListFilter) (documentdomain.ListResult, error) {
	if filter.OrgID == 0 {
		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		if !ok || orgID == 0 {
			return documentdomain.ListResult{}, auditdomain.ErrInvalidOrganization
		}
		filter.OrgID = orgID
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	query := s.db.WithContext(ctx).
		Model(&documentdomain.FiscalDocument{}).
		Where("org_id = ?", filter.OrgID)
	if filter.SeriesCode != "" {
		query = query.Where("series_code = ?", strings.ToUpper(strings.TrimSpace(filter.SeriesCode)))
	}
	if filter.FiscalYear > 0 {
		query = query.Where("fiscal_year = ?", filter.FiscalYear)
	}
	if strings.TrimSpace(filter.PageToken) != "" {
		cursor, err := decodeListCursor(filter.PageToken)
		if err != nil {
			return documentdomain.ListResult{}, documentdomain.ErrInvalidPageToken
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var docs []*documentdomain.FiscalDocument
	err := query.Order("created_at DESC, id DESC").Limit(pageSize + 1).Find(&docs).Error
	if err != nil {
		return documentdomain.ListResult{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(docs, pageSize, func(doc *documentdomain.FiscalDocument) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        doc.ID.String(),
			CreatedAt: doc.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(docs) > pageSize {
		docs = docs[:pageSize]
	}

	return documentdomain.ListResult{Documents: docs, PageInfo: pageInfo}, nil
}

type listCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

func decodeListCursor(token string) (*listCursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, documentdomain.ErrInvalidPageToken
	}
	return &listCursor{ID: id, CreatedAt: createdAt}, nil
}

func (s *Service) parseRectifies(req documentdomain.IssueRequest) (*snowflake.ID, error) {
	if req.DocumentType != documentdomain.TypeRectificative {
		return nil, nil
	}
	if req.RectifiesDocumentID == nil || strings.TrimSpace(*req.RectifiesDocumentID) == "" {
		return nil, documentdomain.ErrRectifiesRequired
	}
	id, err := snowflake.ParseString(strings.TrimSpace(*req.RectifiesDocumentID))
	if err != nil {
		return nil, documentdomain.ErrRectifiedNotFound
	}
	return &id, nil
}

func (s *Service) ensurePeriodOpen(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) error {
	var closing struct {
		ID   int64
		Open bool
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, open
		 FROM closing_records
		 WHERE org_id = ? AND fiscal_year = ?`,
		orgID,
		fiscalYear,
	).Scan(&closing).Error
	if err != nil {
		return err
	}
	if closing.ID != 0 && !closing.Open {
		return documentdomain.ErrPeriodClosed
	}
	return nil
}

func (s *Service) ensureRectifiedExists(ctx context.Context, tx *gorm.DB, orgID, rectifiesID snowflake.ID) error {
	var row struct {
		ID int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM fiscal_documents WHERE id = ? AND org_id = ?`,
		rectifiesID,
		orgID,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.ID == 0 {
		return documentdomain.ErrRectifiedNotFound
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, doc *documentdomain.FiscalDocument, action string) {
	targetID := doc.ID.String()
	_ = s.audit.AuditLog(ctx, &doc.OrgID, auditcontext.ActorTypeUser, nil, action, "fiscal_document", &targetID, map[string]any{
		"label":         doc.Label,
		"series_code":   doc.SeriesCode,
		"document_type": doc.DocumentType,
		"fiscal_year":   doc.FiscalYear,
		"total_amount":  doc.TotalAmount.StringFixed(2),
	})
}
