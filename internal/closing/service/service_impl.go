package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	auditcontext "github.com/skarecito/verifactu/internal/auditcontext"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	"github.com/skarecito/verifactu/internal/clock"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
	obsmetrics "github.com/skarecito/verifactu/internal/observability/metrics"
	"github.com/skarecito/verifactu/internal/orgcontext"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"github.com/skarecito/verifactu/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Chain    chaindomain.Service
	Archiver closingdomain.Archiver
	Audit    auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	chain    chaindomain.Service
	archiver closingdomain.Archiver
	audit    auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) closingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("closing.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		chain:    p.Chain,
		archiver: p.Archiver,
		audit:    p.Audit,
		metrics:  p.Metrics,
	}
}

// Close validates, locks, aggregates and archives one fiscal year inside a
// single transaction. Any failure, including the archiver, rolls the whole
// closing back so the period stays open and unlocked.
func (s *Service) Close(ctx context.Context, fiscalYear int) (*closingdomain.ClosingRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}
	if fiscalYear <= 0 {
		return nil, closingdomain.ErrInvalidFiscalYear
	}

	var record *closingdomain.ClosingRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.lockClosing(ctx, tx, orgID, fiscalYear)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Open {
			return closingdomain.ErrAlreadyClosed
		}

		// Issuance locks its series row before anything else, so holding all
		// of them guarantees no document creation is in flight while the
		// period is validated and aggregated.
		if err := s.lockSeriesRows(ctx, tx, orgID); err != nil {
			return err
		}

		if err := s.ensureSubmissionsResolved(ctx, tx, orgID, fiscalYear); err != nil {
			return err
		}

		count, err := s.lockDocuments(ctx, tx, orgID, fiscalYear)
		if err != nil {
			return err
		}
		if count == 0 {
			return closingdomain.ErrEmptyPeriod
		}

		series, err := s.seriesSummaries(ctx, tx, orgID, fiscalYear)
		if err != nil {
			return err
		}
		if err := s.verifyChains(ctx, tx, orgID, series); err != nil {
			return err
		}

		totals, err := s.aggregate(ctx, tx, orgID, fiscalYear)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		final, err := s.terminalFingerprint(ctx, tx, orgID, fiscalYear)
		if err != nil {
			return err
		}

		summary := closingdomain.ClosingSummary{
			OrgID:            orgID,
			FiscalYear:       fiscalYear,
			DocumentCount:    count,
			TotalTaxBase:     totals.TaxBase,
			TotalTaxAmount:   totals.TaxAmount,
			TotalSurcharge:   totals.Surcharge,
			TotalWithholding: totals.Withholding,
			TotalAmount:      totals.Total,
			FinalFingerprint: final,
			ClosedAt:         now,
			Series:           series,
		}
		artifactPath, err := s.archiver.Archive(ctx, summary)
		if err != nil {
			return err
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE fiscal_documents SET locked = ?, updated_at = ?
			 WHERE org_id = ? AND fiscal_year = ?`,
			true, now, orgID, fiscalYear,
		)
		if result.Error != nil {
			return result.Error
		}

		isNew := existing == nil
		if isNew {
			record = &closingdomain.ClosingRecord{
				ID:         s.genID.Generate(),
				OrgID:      orgID,
				FiscalYear: fiscalYear,
				CreatedAt:  now,
			}
		} else {
			record = existing
		}
		record.Open = false
		record.DocumentCount = count
		record.TotalTaxBase = totals.TaxBase
		record.TotalTaxAmount = totals.TaxAmount
		record.TotalSurcharge = totals.Surcharge
		record.TotalWithholding = totals.Withholding
		record.TotalAmount = totals.Total
		record.FinalFingerprint = final
		record.ArtifactPath = artifactPath
		record.ClosedAt = &now
		record.UpdatedAt = now

		if isNew {
			return tx.WithContext(ctx).Create(record).Error
		}
		return tx.WithContext(ctx).Save(record).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordClosing(ctx, "close")
	s.emitAudit(ctx, record, "closing.closed", map[string]any{
		"document_count":    record.DocumentCount,
		"total_amount":      record.TotalAmount.StringFixed(2),
		"final_fingerprint": record.FinalFingerprint,
		"artifact_path":     record.ArtifactPath,
	})
	s.log.Info("fiscal year closed",
		zap.String("org_id", orgID.String()),
		zap.Int("fiscal_year", fiscalYear),
		zap.Int64("document_count", record.DocumentCount),
	)

	return record, nil
}

// Reopen flips a closed period back open and unlocks its documents. The
// mandatory reason lands in the audit trail alongside the acting user.
func (s *Service) Reopen(ctx context.Context, fiscalYear int, req closingdomain.ReopenRequest) (*closingdomain.ClosingRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, closingdomain.ErrReasonRequired
	}

	var record *closingdomain.ClosingRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.lockClosing(ctx, tx, orgID, fiscalYear)
		if err != nil {
			return err
		}
		if existing == nil {
			return closingdomain.ErrClosingNotFound
		}
		if existing.Open {
			return closingdomain.ErrNotClosed
		}

		now := s.clock.Now()
		_, actorID := auditcontext.ActorFromContext(ctx)

		existing.Open = true
		existing.ReopenedAt = &now
		existing.ReopenReason = &reason
		existing.UpdatedAt = now
		if actorID != "" {
			existing.ReopenedBy = &actorID
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE fiscal_documents SET locked = ?, updated_at = ?
			 WHERE org_id = ? AND fiscal_year = ?`,
			false, now, orgID, fiscalYear,
		)
		if result.Error != nil {
			return result.Error
		}

		record = existing
		return tx.WithContext(ctx).Save(record).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordClosing(ctx, "reopen")
	s.emitAudit(ctx, record, "closing.reopened", map[string]any{
		"reason": reason,
	})
	s.log.Info("fiscal year reopened",
		zap.String("org_id", orgID.String()),
		zap.Int("fiscal_year", fiscalYear),
		zap.String("reason", reason),
	)

	return record, nil
}

func (s *Service) List(ctx context.Context) ([]closingdomain.ClosingRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}

	var records []closingdomain.ClosingRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("fiscal_year DESC").
		Find(&records).Error
	return records, err
}

func (s *Service) lockClosing(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) (*closingdomain.ClosingRecord, error) {
	var record closingdomain.ClosingRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM closing_records
		 WHERE org_id = ? AND fiscal_year = ?`+db.LockSuffix(tx),
		orgID,
		fiscalYear,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (s *Service) ensureSubmissionsResolved(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) error {
	var row struct {
		Count int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count
		 FROM submissions s
		 JOIN fiscal_documents d ON d.id = s.document_id
		 WHERE s.org_id = ? AND d.fiscal_year = ? AND s.status IN (?, ?, ?)`,
		orgID,
		fiscalYear,
		submissiondomain.StatusPending,
		submissiondomain.StatusError,
		submissiondomain.StatusNeedsAttention,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.Count > 0 {
		return &closingdomain.PendingSubmissionsError{Count: row.Count}
	}
	return nil
}

func (s *Service) lockDocuments(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) (int64, error) {
	var ids []int64
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM fiscal_documents
		 WHERE org_id = ? AND fiscal_year = ?
		 ORDER BY id`+db.LockSuffix(tx),
		orgID,
		fiscalYear,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (s *Service) seriesSummaries(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) ([]closingdomain.SeriesSummary, error) {
	var rows []struct {
		SeriesCode    string
		DocumentCount int64
		TotalAmount   decimal.Decimal
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT series_code,
		        COUNT(*) AS document_count,
		        COALESCE(SUM(total_amount), 0) AS total_amount
		 FROM fiscal_documents
		 WHERE org_id = ? AND fiscal_year = ?
		 GROUP BY series_code
		 ORDER BY series_code`,
		orgID,
		fiscalYear,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]closingdomain.SeriesSummary, 0, len(rows))
	for _, row := range rows {
		var last chaindomain.ChainRecord
		err := tx.WithContext(ctx).Raw(
			`SELECT * FROM chain_records
			 WHERE org_id = ? AND series_code = ? AND fiscal_year = ?
			 ORDER BY id DESC
			 LIMIT 1`,
			orgID,
			row.SeriesCode,
			fiscalYear,
		).Scan(&last).Error
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, closingdomain.SeriesSummary{
			SeriesCode:      row.SeriesCode,
			DocumentCount:   row.DocumentCount,
			TotalAmount:     row.TotalAmount,
			LastLabel:       last.Label,
			LastFingerprint: last.Fingerprint,
		})
	}
	return summaries, nil
}

// verifyChains re-verifies every lineage touched by the period before the
// closing is allowed to lock it in.
func (s *Service) verifyChains(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, series []closingdomain.SeriesSummary) error {
	for _, summary := range series {
		var records []chaindomain.ChainRecord
		err := tx.WithContext(ctx).
			Where("org_id = ? AND series_code = ?", orgID, summary.SeriesCode).
			Order("id ASC").
			Find(&records).Error
		if err != nil {
			return err
		}
		report := s.chain.VerifyLineage(records)
		if !report.OK {
			s.metrics.RecordChainBreak(ctx, summary.SeriesCode)
			return &closingdomain.BrokenChainError{
				SeriesCode: summary.SeriesCode,
				BrokenAt:   report.BrokenAt,
			}
		}
	}
	return nil
}

type periodTotals struct {
	TaxBase     decimal.Decimal
	TaxAmount   decimal.Decimal
	Surcharge   decimal.Decimal
	Withholding decimal.Decimal
	Total       decimal.Decimal
}

func (s *Service) aggregate(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) (periodTotals, error) {
	var row periodTotals
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(tax_base), 0) AS tax_base,
		        COALESCE(SUM(tax_amount), 0) AS tax_amount,
		        COALESCE(SUM(surcharge_amount), 0) AS surcharge,
		        COALESCE(SUM(withholding_amount), 0) AS withholding,
		        COALESCE(SUM(total_amount), 0) AS total
		 FROM fiscal_documents
		 WHERE org_id = ? AND fiscal_year = ?`,
		orgID,
		fiscalYear,
	).Scan(&row).Error
	if err != nil {
		return periodTotals{}, err
	}
	return row, nil
}

// terminalFingerprint is the fingerprint of the chronologically last chain
// record of the period, across all of the organization's series.
func (s *Service) terminalFingerprint(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fiscalYear int) (string, error) {
	var last chaindomain.ChainRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM chain_records
		 WHERE org_id = ? AND fiscal_year = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		orgID,
		fiscalYear,
	).Scan(&last).Error
	if err != nil {
		return "", err
	}
	return last.Fingerprint, nil
}

func (s *Service) lockSeriesRows(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	var ids []int64
	return tx.WithContext(ctx).Raw(
		`SELECT id FROM fiscal_series
		 WHERE org_id = ?
		 ORDER BY id`+db.LockSuffix(tx),
		orgID,
	).Scan(&ids).Error
}

func (s *Service) emitAudit(ctx context.Context, record *closingdomain.ClosingRecord, action string, metadata map[string]any) {
	targetID := record.ID.String()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["fiscal_year"] = record.FiscalYear
	_ = s.audit.AuditLog(ctx, &record.OrgID, auditcontext.ActorTypeUser, nil, action, "closing_record", &targetID, metadata)
}
