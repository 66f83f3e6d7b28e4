package service

import (
	"context"
	"errors"
	"strings"
	"time"

	appconfig "github.com/skarecito/verifactu/internal/config"
	obsmetrics "github.com/skarecito/verifactu/internal/observability/metrics"
	sequencedomain "github.com/skarecito/verifactu/internal/sequence/domain"
	"github.com/skarecito/verifactu/internal/sequence/format"
	"github.com/skarecito/verifactu/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config controls allocation validation and retry behavior.
type Config struct {
	MinFiscalYear int
	MaxAttempts   int
	RetryBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinFiscalYear: 2020,
		MaxAttempts:   5,
		RetryBackoff:  10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MinFiscalYear <= 0 {
		c.MinFiscalYear = defaults.MinFiscalYear
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{MinFiscalYear: cfg.MinFiscalYear}
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  Config              `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	metrics *obsmetrics.Metrics
}

func NewService(p Params) sequencedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("sequence.allocator"),
		cfg:     p.Config.withDefaults(),
		metrics: p.Metrics,
	}
}

func (s *Service) Allocate(ctx context.Context, req sequencedomain.AllocateRequest) (sequencedomain.Allocation, error) {
	var allocation sequencedomain.Allocation

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inner, err := s.AllocateTx(ctx, tx, req)
			if err != nil {
				return err
			}
			allocation = inner
			return nil
		})
		if err == nil {
			return allocation, nil
		}
		if !errors.Is(err, sequencedomain.ErrAllocationConflict) &&
			!db.IsDuplicateKeyErr(err) && !db.IsSerializationErr(err) {
			return sequencedomain.Allocation{}, err
		}

		s.metrics.RecordAllocationConflict(ctx)
		s.log.Debug("allocation conflict, retrying",
			zap.String("series_code", req.SeriesCode),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return sequencedomain.Allocation{}, ctx.Err()
		case <-time.After(s.cfg.RetryBackoff):
		}
	}

	return sequencedomain.Allocation{}, sequencedomain.ErrAllocationConflict
}

func (s *Service) AllocateTx(ctx context.Context, tx *gorm.DB, req sequencedomain.AllocateRequest) (sequencedomain.Allocation, error) {
	if req.FiscalYear < s.cfg.MinFiscalYear {
		return sequencedomain.Allocation{}, sequencedomain.ErrFiscalYearTooOld
	}

	seriesCode := strings.ToUpper(strings.TrimSpace(req.SeriesCode))
	if seriesCode == "" {
		return sequencedomain.Allocation{}, sequencedomain.ErrSeriesNotFound
	}

	if err := s.lockSeries(ctx, tx, req, seriesCode); err != nil {
		return sequencedomain.Allocation{}, err
	}

	number, err := s.nextNumber(ctx, tx, req, seriesCode)
	if err != nil {
		return sequencedomain.Allocation{}, err
	}

	label, err := format.DocumentLabel(seriesCode, req.FiscalYear, number)
	if err != nil {
		return sequencedomain.Allocation{}, err
	}

	return sequencedomain.Allocation{Number: number, Label: label}, nil
}

type seriesRow struct {
	ID     int64
	Locked bool
}

func (s *Service) lockSeries(ctx context.Context, tx *gorm.DB, req sequencedomain.AllocateRequest, seriesCode string) error {
	var row seriesRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, locked
		 FROM fiscal_series
		 WHERE org_id = ? AND code = ?`+db.LockSuffix(tx),
		req.OrgID,
		seriesCode,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.ID == 0 {
		return sequencedomain.ErrSeriesNotFound
	}
	if row.Locked {
		return sequencedomain.ErrSeriesLocked
	}
	return nil
}

func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, req sequencedomain.AllocateRequest, seriesCode string) (int64, error) {
	var counter struct {
		NextNumber int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT next_number
		 FROM sequence_counters
		 WHERE org_id = ? AND series_code = ? AND document_type = ? AND fiscal_year = ?`+db.LockSuffix(tx),
		req.OrgID,
		seriesCode,
		req.DocumentType,
		req.FiscalYear,
	).Scan(&counter).Error
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()

	if counter.NextNumber == 0 {
		// First allocation for this key: create the counter already advanced
		// past the number handed out here.
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO sequence_counters (
				org_id, series_code, document_type, fiscal_year, next_number, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			req.OrgID,
			seriesCode,
			req.DocumentType,
			req.FiscalYear,
			2,
			now,
			now,
		)
		if result.Error != nil {
			return 0, result.Error
		}
		if result.RowsAffected == 0 {
			return 0, sequencedomain.ErrAllocationConflict
		}
		return 1, nil
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE sequence_counters
		 SET next_number = ?, updated_at = ?
		 WHERE org_id = ? AND series_code = ? AND document_type = ? AND fiscal_year = ? AND next_number = ?`,
		counter.NextNumber+1,
		now,
		req.OrgID,
		seriesCode,
		req.DocumentType,
		req.FiscalYear,
		counter.NextNumber,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		// Another transaction advanced the counter between read and write.
		return 0, sequencedomain.ErrAllocationConflict
	}

	return counter.NextNumber, nil
}
