package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	"github.com/skarecito/verifactu/internal/orgcontext"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
	"github.com/skarecito/verifactu/pkg/db"
	"github.com/skarecito/verifactu/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	AuditSvc auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	seriesrepo repository.Repository[seriesdomain.Series]
	auditSvc   auditdomain.Service
}

func NewService(p Params) seriesdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("series.service"),
		genID: p.GenID,

		seriesrepo: repository.ProvideStore[seriesdomain.Series](p.DB),
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req seriesdomain.CreateSeriesRequest) (seriesdomain.Series, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return seriesdomain.Series{}, err
	}

	code := normalizeCode(req.Code)
	if code == "" {
		return seriesdomain.Series{}, seriesdomain.ErrInvalidSeriesCode
	}

	now := time.Now().UTC()
	series := seriesdomain.Series{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Code:      code,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.seriesrepo.Create(ctx, &series); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return seriesdomain.Series{}, seriesdomain.ErrSeriesExists
		}
		return seriesdomain.Series{}, err
	}

	s.emitAudit(ctx, "series.created", series, nil)
	return series, nil
}

func (s *Service) List(ctx context.Context) ([]seriesdomain.Series, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.seriesrepo.Find(ctx, &seriesdomain.Series{OrgID: orgID})
	if err != nil {
		return nil, err
	}

	series := make([]seriesdomain.Series, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		series = append(series, *item)
	}
	return series, nil
}

func (s *Service) Lock(ctx context.Context, code string) error {
	return s.setLocked(ctx, code, true, "series.locked")
}

func (s *Service) Unlock(ctx context.Context, code string) error {
	return s.setLocked(ctx, code, false, "series.unlocked")
}

func (s *Service) setLocked(ctx context.Context, code string, locked bool, action string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}

	code = normalizeCode(code)
	if code == "" {
		return seriesdomain.ErrInvalidSeriesCode
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE fiscal_series
		 SET locked = ?, updated_at = ?
		 WHERE org_id = ? AND code = ?`,
		locked,
		time.Now().UTC(),
		orgID,
		code,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return seriesdomain.ErrSeriesNotFound
	}

	s.emitAudit(ctx, action, seriesdomain.Series{OrgID: orgID, Code: code}, nil)
	return nil
}

func (s *Service) emitAudit(ctx context.Context, action string, series seriesdomain.Series, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"series_code": series.Code,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	orgID := series.OrgID
	targetID := series.Code
	_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "series", &targetID, metadata)
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, seriesdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
