package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	"github.com/skarecito/verifactu/internal/clock"
	appconfig "github.com/skarecito/verifactu/internal/config"
	obsmetrics "github.com/skarecito/verifactu/internal/observability/metrics"
	"github.com/skarecito/verifactu/internal/orgcontext"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"github.com/skarecito/verifactu/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config controls retry exhaustion and the pacing of retransmissions.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  8,
		InitialDelay: 30 * time.Second,
		MaxDelay:     time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{MaxAttempts: cfg.MaxSubmissionAttempts}
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Gateway submissiondomain.Gateway
	Config  Config              `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	gateway submissiondomain.Gateway
	cfg     Config
	metrics *obsmetrics.Metrics
}

func NewService(p Params) submissiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("submission.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		gateway: p.Gateway,
		cfg:     p.Config.withDefaults(),
		metrics: p.Metrics,
	}
}

func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, sub submissiondomain.Submission) error {
	now := s.clock.Now()
	if sub.ID == 0 {
		sub.ID = s.genID.Generate()
	}
	sub.Status = submissiondomain.StatusPending
	sub.Attempts = 0
	sub.NextAttemptAt = now
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return tx.WithContext(ctx).Create(&sub).Error
}

// Dispatch sends one outbox row through the gateway and records the outcome.
// Transport-level failures keep the row retryable until attempts run out,
// then it is parked as needs_attention for an operator.
func (s *Service) Dispatch(ctx context.Context, sub *submissiondomain.Submission) error {
	record, err := s.chainRecord(ctx, sub.DocumentID)
	if err != nil {
		return err
	}

	result, err := s.gateway.Submit(ctx, submissiondomain.SubmitRequest{
		DocumentID:          record.DocumentID,
		IssuerTaxID:         record.IssuerTaxID,
		CounterpartTaxID:    record.CounterpartTaxID,
		Label:               record.Label,
		IssueDate:           record.IssueDate,
		KindTag:             record.KindTag,
		TaxBase:             record.TaxBase,
		TaxAmount:           record.TaxAmount,
		TotalAmount:         record.TotalAmount,
		Fingerprint:         record.Fingerprint,
		PreviousFingerprint: record.PreviousFingerprint,
	})
	if err != nil {
		return err
	}

	now := s.clock.Now()
	sub.Attempts++
	sub.Status = result.Status
	sub.CSV = result.CSV
	sub.ResponseCode = result.ResponseCode
	sub.ResponseMessage = result.ResponseMessage
	sub.LastError = ""
	sub.UpdatedAt = now

	switch result.Status {
	case submissiondomain.StatusAccepted, submissiondomain.StatusRejected:
		submittedAt := now
		sub.SubmittedAt = &submittedAt
	case submissiondomain.StatusError:
		sub.LastError = result.ResponseMessage
		if sub.Attempts >= s.cfg.MaxAttempts {
			sub.Status = submissiondomain.StatusNeedsAttention
			s.log.Warn("submission retries exhausted",
				zap.String("label", sub.Label),
				zap.Int("attempts", sub.Attempts),
			)
		} else {
			sub.NextAttemptAt = now.Add(s.retryDelay(sub.Attempts))
		}
	}

	s.metrics.RecordSubmission(ctx, sub.Status)
	s.log.Info("submission dispatched",
		zap.String("label", sub.Label),
		zap.String("mode", s.gateway.Mode()),
		zap.String("status", sub.Status),
		zap.Int("attempts", sub.Attempts),
	)

	attempt := submissiondomain.SubmissionAttempt{
		ID:              s.genID.Generate(),
		SubmissionID:    sub.ID,
		OrgID:           sub.OrgID,
		DocumentID:      sub.DocumentID,
		Attempt:         sub.Attempts,
		Status:          sub.Status,
		ResponseCode:    result.ResponseCode,
		ResponseMessage: result.ResponseMessage,
		RequestPayload:  result.RawRequest,
		ResponsePayload: result.RawResponse,
		CreatedAt:       now,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}
		return tx.Save(sub).Error
	})
}

func (s *Service) DueBatch(ctx context.Context, limit int) ([]submissiondomain.Submission, error) {
	if limit <= 0 {
		limit = 25
	}
	var batch []submissiondomain.Submission
	err := s.db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?",
			[]string{submissiondomain.StatusPending, submissiondomain.StatusError},
			s.clock.Now(),
		).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&batch).Error
	return batch, err
}

func (s *Service) List(ctx context.Context, filter submissiondomain.ListFilter) (submissiondomain.ListResult, error) {
	if filter.OrgID == 0 {
		if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
			filter.OrgID = orgID
		}
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	query := s.db.WithContext(ctx).Model(&submissiondomain.Submission{})
	if filter.OrgID != 0 {
		query = query.Where("org_id = ?", filter.OrgID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if strings.TrimSpace(filter.PageToken) != "" {
		cursor, err := decodeListCursor(filter.PageToken)
		if err != nil {
			return submissiondomain.ListResult{}, submissiondomain.ErrInvalidPageToken
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var items []submissiondomain.Submission
	err := query.Order("created_at DESC, id DESC").Limit(pageSize + 1).Find(&items).Error
	if err != nil {
		return submissiondomain.ListResult{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(sub submissiondomain.Submission) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        sub.ID.String(),
			CreatedAt: sub.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	return submissiondomain.ListResult{Submissions: items, PageInfo: pageInfo}, nil
}

func (s *Service) Attempts(ctx context.Context, orgID, documentID snowflake.ID) ([]submissiondomain.SubmissionAttempt, error) {
	var attempts []submissiondomain.SubmissionAttempt
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND document_id = ?", orgID, documentID).
		Order("attempt ASC").
		Find(&attempts).Error
	return attempts, err
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
		return nil, submissiondomain.ErrInvalidPageToken
	}
	return &listCursor{ID: id, CreatedAt: createdAt}, nil
}

func (s *Service) GetByDocument(ctx context.Context, orgID, documentID snowflake.ID) (*submissiondomain.Submission, error) {
	var sub submissiondomain.Submission
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND document_id = ?", orgID, documentID).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, submissiondomain.ErrSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) chainRecord(ctx context.Context, documentID snowflake.ID) (*chaindomain.ChainRecord, error) {
	var record chaindomain.ChainRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// retryDelay walks the exponential schedule up to the given attempt count.
// Randomization is disabled so the schedule is reproducible.
func (s *Service) retryDelay(attempts int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialDelay
	policy.MaxInterval = s.cfg.MaxDelay
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	delay := policy.NextBackOff()
	for i := 1; i < attempts; i++ {
		next := policy.NextBackOff()
		if next == backoff.Stop {
			break
		}
		delay = next
	}
	return delay
}
