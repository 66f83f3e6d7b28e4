package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	"github.com/skarecito/verifactu/internal/orgcontext"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAudit struct{}

func (noopAudit) AuditLog(context.Context, *snowflake.ID, string, *string, string, string, *string, map[string]any) error {
	return nil
}

func (noopAudit) List(context.Context, auditdomain.ListAuditLogsRequest) (auditdomain.ListAuditLogsResponse, error) {
	return auditdomain.ListAuditLogsResponse{}, nil
}

var testDBSeq atomic.Int64

func newTestService(t *testing.T) (seriesdomain.Service, context.Context) {
	t.Helper()

	dsn := fmt.Sprintf("file:series_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&seriesdomain.Series{}))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: noopAudit{},
	})

	ctx := orgcontext.WithOrgID(context.Background(), int64(node.Generate()))
	return svc, ctx
}

func TestCreateNormalizesCode(t *testing.T) {
	svc, ctx := newTestService(t)

	created, err := svc.Create(ctx, seriesdomain.CreateSeriesRequest{Code: " a ", Name: "General"})
	require.NoError(t, err)
	assert.Equal(t, "A", created.Code)
	assert.False(t, created.Locked)
}

func TestCreateDuplicate(t *testing.T) {
	svc, ctx := newTestService(t)

	_, err := svc.Create(ctx, seriesdomain.CreateSeriesRequest{Code: "A"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, seriesdomain.CreateSeriesRequest{Code: "a"})
	assert.ErrorIs(t, err, seriesdomain.ErrSeriesExists)
}

func TestCreateValidation(t *testing.T) {
	svc, ctx := newTestService(t)

	_, err := svc.Create(ctx, seriesdomain.CreateSeriesRequest{Code: "  "})
	assert.ErrorIs(t, err, seriesdomain.ErrInvalidSeriesCode)

	_, err = svc.Create(context.Background(), seriesdomain.CreateSeriesRequest{Code: "A"})
	assert.ErrorIs(t, err, seriesdomain.ErrInvalidOrganization)
}

func TestLockUnlock(t *testing.T) {
	svc, ctx := newTestService(t)

	_, err := svc.Create(ctx, seriesdomain.CreateSeriesRequest{Code: "A"})
	require.NoError(t, err)

	require.NoError(t, svc.Lock(ctx, "A"))
	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Locked)

	require.NoError(t, svc.Unlock(ctx, "A"))
	items, err = svc.List(ctx)
	require.NoError(t, err)
	assert.False(t, items[0].Locked)

	assert.ErrorIs(t, svc.Lock(ctx, "MISSING"), seriesdomain.ErrSeriesNotFound)
}

func TestListScopedToOrganization(t *testing.T) {
	svc, ctx := newTestService(t)

	_, err := svc.Create(ctx, seriesdomain.CreateSeriesRequest{Code: "A"})
	require.NoError(t, err)

	otherOrg := orgcontext.WithOrgID(context.Background(), 999999)
	items, err := svc.List(otherOrg)
	require.NoError(t, err)
	assert.Empty(t, items)
}
