package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	chainservice "github.com/skarecito/verifactu/internal/chain/service"
	"github.com/skarecito/verifactu/internal/clock"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
	documentdomain "github.com/skarecito/verifactu/internal/document/domain"
	"github.com/skarecito/verifactu/internal/orgcontext"
	sequencedomain "github.com/skarecito/verifactu/internal/sequence/domain"
	sequenceservice "github.com/skarecito/verifactu/internal/sequence/service"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	submissionservice "github.com/skarecito/verifactu/internal/submission/service"
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

type acceptAllGateway struct{}

func (acceptAllGateway) Submit(context.Context, submissiondomain.SubmitRequest) (submissiondomain.SubmitResult, error) {
	return submissiondomain.SubmitResult{Status: submissiondomain.StatusAccepted, ResponseCode: "0"}, nil
}

func (acceptAllGateway) Mode() string { return "test" }

var testDBSeq atomic.Int64

type fixture struct {
	db    *gorm.DB
	svc   documentdomain.Service
	ctx   context.Context
	orgID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:document_test_%d?mode=memory&cache=shared&_pragma=busy_timeout(10000)", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&seriesdomain.Series{},
		&sequencedomain.SequenceCounter{},
		&documentdomain.FiscalDocument{},
		&chaindomain.ChainRecord{},
		&submissiondomain.Submission{},
		&submissiondomain.SubmissionAttempt{},
		&closingdomain.ClosingRecord{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	sequenceSvc := sequenceservice.NewService(sequenceservice.Params{DB: db, Log: log})
	chainSvc := chainservice.NewService(chainservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Config: chainservice.Config{VerificationBaseURL: "https://example.test/verify"},
	})
	submissionSvc := submissionservice.NewService(submissionservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Gateway: acceptAllGateway{},
	})

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Sequence:   sequenceSvc,
		Chain:      chainSvc,
		Submission: submissionSvc,
		Audit:      noopAudit{},
	})

	orgID := node.Generate()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&seriesdomain.Series{
		ID:        node.Generate(),
		OrgID:     orgID,
		Code:      "A",
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)

	return &fixture{
		db:    db,
		svc:   svc,
		ctx:   orgcontext.WithOrgID(context.Background(), int64(orgID)),
		orgID: orgID,
	}
}

func issueRequest() documentdomain.IssueRequest {
	return documentdomain.IssueRequest{
		SeriesCode:       "A",
		DocumentType:     documentdomain.TypeInvoice,
		IssueDate:        "2025-03-07",
		IssuerTaxID:      "B12345678",
		CounterpartTaxID: "X0000000T",
		TaxBase:          "100.00",
		TaxAmount:        "21.00",
	}
}

func TestIssueBuildsChainAndOutbox(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)
	second, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, "A2025-001", first.Label)
	assert.Equal(t, int64(2), second.Number)
	assert.Equal(t, "A2025-002", second.Label)
	assert.Equal(t, "121.00", first.TotalAmount.StringFixed(2))

	var records []chaindomain.ChainRecord
	require.NoError(t, f.db.Where("org_id = ?", f.orgID).Order("number ASC").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Empty(t, records[0].PreviousFingerprint)
	assert.Equal(t, records[0].Fingerprint, records[1].PreviousFingerprint)
	assert.Equal(t, "F1", records[0].KindTag)

	var pending int64
	require.NoError(t, f.db.Model(&submissiondomain.Submission{}).
		Where("org_id = ? AND status = ?", f.orgID, submissiondomain.StatusPending).
		Count(&pending).Error)
	assert.Equal(t, int64(2), pending)
}

func TestIssueNumbersRestartPerYearAndType(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Issue(f.ctx, issueRequest())
		require.NoError(t, err)
	}

	nextYear := issueRequest()
	nextYear.IssueDate = "2026-01-10"
	doc, err := f.svc.Issue(f.ctx, nextYear)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Number, "numbers restart per fiscal year")
	assert.Equal(t, "A2026-001", doc.Label)

	simplified := issueRequest()
	simplified.DocumentType = documentdomain.TypeSimplified
	simplified.CounterpartTaxID = ""
	simpDoc, err := f.svc.Issue(f.ctx, simplified)
	require.NoError(t, err)
	assert.Equal(t, int64(1), simpDoc.Number, "numbers restart per document type")

	// the lineage spans years and types in signing order and stays intact
	var records []chaindomain.ChainRecord
	require.NoError(t, f.db.Where("org_id = ?", f.orgID).Order("id ASC").Find(&records).Error)
	require.Len(t, records, 4)
	for i := 1; i < len(records); i++ {
		assert.Equal(t, records[i-1].Fingerprint, records[i].PreviousFingerprint)
	}
}

func TestListPaginatesByCursor(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Issue(f.ctx, issueRequest())
		require.NoError(t, err)
	}

	filter := documentdomain.ListFilter{SeriesCode: "A"}
	filter.PageSize = 2
	first, err := f.svc.List(f.ctx, filter)
	require.NoError(t, err)
	require.Len(t, first.Documents, 2)
	require.True(t, first.PageInfo.HasMore)

	filter.PageToken = first.PageInfo.NextPageToken
	second, err := f.svc.List(f.ctx, filter)
	require.NoError(t, err)
	require.Len(t, second.Documents, 1)
	assert.False(t, second.PageInfo.HasMore)

	seen := map[snowflake.ID]bool{}
	for _, doc := range append(first.Documents, second.Documents...) {
		assert.False(t, seen[doc.ID], "pages must not overlap")
		seen[doc.ID] = true
	}

	bad := documentdomain.ListFilter{}
	bad.PageToken = "not-a-cursor"
	_, err = f.svc.List(f.ctx, bad)
	assert.ErrorIs(t, err, documentdomain.ErrInvalidPageToken)
}

func TestIssueFailureLeavesNoGap(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Number)

	require.NoError(t, f.db.Exec(`UPDATE fiscal_series SET locked = ? WHERE org_id = ?`, true, f.orgID).Error)
	_, err = f.svc.Issue(f.ctx, issueRequest())
	assert.ErrorIs(t, err, sequencedomain.ErrSeriesLocked)

	require.NoError(t, f.db.Exec(`UPDATE fiscal_series SET locked = ? WHERE org_id = ?`, false, f.orgID).Error)
	third, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.Number, "failed issuance must not consume a number")
}

func TestIssueRejectsClosedPeriod(t *testing.T) {
	f := newFixture(t)

	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&closingdomain.ClosingRecord{
		ID:         snowflake.ID(42),
		OrgID:      f.orgID,
		FiscalYear: 2025,
		Open:       false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error)

	_, err := f.svc.Issue(f.ctx, issueRequest())
	assert.ErrorIs(t, err, documentdomain.ErrPeriodClosed)
}

func TestIssueReopenedPeriodAccepted(t *testing.T) {
	f := newFixture(t)

	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&closingdomain.ClosingRecord{
		ID:         snowflake.ID(43),
		OrgID:      f.orgID,
		FiscalYear: 2025,
		Open:       true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error)

	doc, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Number)
}

func TestIssueUnidentifiedCounterpart(t *testing.T) {
	f := newFixture(t)

	req := issueRequest()
	req.DocumentType = documentdomain.TypeSimplified
	req.CounterpartTaxID = ""

	doc, err := f.svc.Issue(f.ctx, req)
	require.NoError(t, err)

	var record chaindomain.ChainRecord
	require.NoError(t, f.db.Where("document_id = ?", doc.ID).First(&record).Error)
	assert.Equal(t, "F2", record.KindTag)
}

func TestIssueRectificative(t *testing.T) {
	f := newFixture(t)

	base, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)

	req := issueRequest()
	req.DocumentType = documentdomain.TypeRectificative
	baseID := base.ID.String()
	req.RectifiesDocumentID = &baseID

	rect, err := f.svc.Issue(f.ctx, req)
	require.NoError(t, err)
	require.NotNil(t, rect.RectifiesDocumentID)
	assert.Equal(t, base.ID, *rect.RectifiesDocumentID)

	// rectificative without a reference is rejected
	bad := issueRequest()
	bad.DocumentType = documentdomain.TypeRectificative
	_, err = f.svc.Issue(f.ctx, bad)
	assert.ErrorIs(t, err, documentdomain.ErrRectifiesRequired)

	// reference must exist within the organization
	missing := "999999999"
	bad.RectifiesDocumentID = &missing
	_, err = f.svc.Issue(f.ctx, bad)
	assert.ErrorIs(t, err, documentdomain.ErrRectifiedNotFound)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)

	badType := issueRequest()
	badType.DocumentType = "quote"
	_, err := f.svc.Issue(f.ctx, badType)
	assert.ErrorIs(t, err, documentdomain.ErrInvalidDocumentType)

	badDate := issueRequest()
	badDate.IssueDate = "07/03/2025"
	_, err = f.svc.Issue(f.ctx, badDate)
	assert.ErrorIs(t, err, documentdomain.ErrInvalidIssueDate)

	_, err = f.svc.Issue(context.Background(), issueRequest())
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}

func TestGetAndQRCode(t *testing.T) {
	f := newFixture(t)

	doc, err := f.svc.Issue(f.ctx, issueRequest())
	require.NoError(t, err)

	loaded, err := f.svc.Get(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Label, loaded.Label)

	qrPNG, err := f.svc.QRCode(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, qrPNG)

	otherOrg := orgcontext.WithOrgID(context.Background(), 424242)
	_, err = f.svc.Get(otherOrg, doc.ID)
	assert.ErrorIs(t, err, documentdomain.ErrDocumentNotFound)
}
