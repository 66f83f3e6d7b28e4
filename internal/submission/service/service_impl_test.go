package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	"github.com/skarecito/verifactu/internal/clock"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubGateway struct {
	result  submissiondomain.SubmitResult
	err     error
	calls   int
	lastReq submissiondomain.SubmitRequest
}

func (g *stubGateway) Submit(ctx context.Context, req submissiondomain.SubmitRequest) (submissiondomain.SubmitResult, error) {
	g.calls++
	g.lastReq = req
	return g.result, g.err
}

func (g *stubGateway) Mode() string { return "stub" }

var testDBSeq atomic.Int64

func newTestService(t *testing.T, gw submissiondomain.Gateway, cfg Config) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:submission_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&chaindomain.ChainRecord{}, &submissiondomain.Submission{}, &submissiondomain.SubmissionAttempt{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Gateway: gw,
		Config:  cfg,
	}).(*Service)
	return svc, db, clk
}

func seedChainRecord(t *testing.T, db *gorm.DB, documentID snowflake.ID) {
	t.Helper()
	require.NoError(t, db.Create(&chaindomain.ChainRecord{
		ID:               documentID + 1,
		OrgID:            snowflake.ID(1001),
		DocumentID:       documentID,
		SeriesCode:       "A",
		DocumentType:     "invoice",
		FiscalYear:       2025,
		Number:           1,
		Label:            "A2025-001",
		IssuerTaxID:      "B12345678",
		CounterpartTaxID: "X0000000T",
		IssueDate:        time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		KindTag:          "F1",
		TaxBase:          decimal.NewFromInt(100),
		TaxAmount:        decimal.NewFromInt(21),
		TotalAmount:      decimal.NewFromInt(121),
		Fingerprint:      "hash",
		CreatedAt:        time.Now().UTC(),
	}).Error)
}

func enqueue(t *testing.T, svc *Service, db *gorm.DB, documentID snowflake.ID) *submissiondomain.Submission {
	t.Helper()
	require.NoError(t, svc.EnqueueTx(context.Background(), db, submissiondomain.Submission{
		OrgID:       snowflake.ID(1001),
		DocumentID:  documentID,
		Label:       "A2025-001",
		Fingerprint: "hash",
	}))

	var sub submissiondomain.Submission
	require.NoError(t, db.Where("document_id = ?", documentID).First(&sub).Error)
	return &sub
}

func TestEnqueueTxCreatesPendingRow(t *testing.T) {
	svc, db, clk := newTestService(t, &stubGateway{}, Config{})
	seedChainRecord(t, db, snowflake.ID(501))

	sub := enqueue(t, svc, db, snowflake.ID(501))
	assert.Equal(t, submissiondomain.StatusPending, sub.Status)
	assert.Equal(t, 0, sub.Attempts)
	assert.Equal(t, clk.Now(), sub.NextAttemptAt.UTC())
}

func TestDispatchAccepted(t *testing.T) {
	gw := &stubGateway{result: submissiondomain.SubmitResult{
		Status:       submissiondomain.StatusAccepted,
		CSV:          "CSV123",
		ResponseCode: "0",
	}}
	svc, db, clk := newTestService(t, gw, Config{})
	seedChainRecord(t, db, snowflake.ID(502))
	sub := enqueue(t, svc, db, snowflake.ID(502))

	require.NoError(t, svc.Dispatch(context.Background(), sub))

	assert.Equal(t, submissiondomain.StatusAccepted, sub.Status)
	assert.Equal(t, "CSV123", sub.CSV)
	assert.Equal(t, 1, sub.Attempts)
	require.NotNil(t, sub.SubmittedAt)
	assert.Equal(t, clk.Now(), sub.SubmittedAt.UTC())
	assert.Equal(t, 1, gw.calls)
}

func TestDispatchPassesChainRecordToGateway(t *testing.T) {
	gw := &stubGateway{result: submissiondomain.SubmitResult{
		Status: submissiondomain.StatusAccepted,
	}}
	svc, db, _ := newTestService(t, gw, Config{})
	seedChainRecord(t, db, snowflake.ID(510))
	sub := enqueue(t, svc, db, snowflake.ID(510))

	require.NoError(t, svc.Dispatch(context.Background(), sub))

	assert.Equal(t, snowflake.ID(510), gw.lastReq.DocumentID)
	assert.Equal(t, "X0000000T", gw.lastReq.CounterpartTaxID)
	assert.Equal(t, "B12345678", gw.lastReq.IssuerTaxID)
	assert.Equal(t, "A2025-001", gw.lastReq.Label)
}

func TestDispatchRecordsAttemptTrail(t *testing.T) {
	gw := &stubGateway{result: submissiondomain.SubmitResult{
		Status:          submissiondomain.StatusError,
		ResponseMessage: "connection refused",
		RawRequest:      "<RegistroAlta/>",
		RawResponse:     "",
	}}
	svc, db, clk := newTestService(t, gw, Config{MaxAttempts: 3, InitialDelay: time.Second})
	seedChainRecord(t, db, snowflake.ID(511))
	sub := enqueue(t, svc, db, snowflake.ID(511))

	require.NoError(t, svc.Dispatch(context.Background(), sub))

	gw.result = submissiondomain.SubmitResult{
		Status:       submissiondomain.StatusAccepted,
		CSV:          "CSV999",
		ResponseCode: "0",
		RawRequest:   "<RegistroAlta/>",
		RawResponse:  "<RespuestaRegistro><CSV>CSV999</CSV></RespuestaRegistro>",
	}
	clk.Advance(time.Minute)
	require.NoError(t, svc.Dispatch(context.Background(), sub))

	attempts, err := svc.Attempts(context.Background(), snowflake.ID(1001), snowflake.ID(511))
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, submissiondomain.StatusError, attempts[0].Status)
	assert.Equal(t, "connection refused", attempts[0].ResponseMessage)
	assert.Equal(t, "<RegistroAlta/>", attempts[0].RequestPayload)

	assert.Equal(t, 2, attempts[1].Attempt)
	assert.Equal(t, submissiondomain.StatusAccepted, attempts[1].Status)
	assert.Contains(t, attempts[1].ResponsePayload, "CSV999")
	assert.Equal(t, sub.ID, attempts[1].SubmissionID)
}

func TestDispatchRejectedIsTerminal(t *testing.T) {
	gw := &stubGateway{result: submissiondomain.SubmitResult{
		Status:          submissiondomain.StatusRejected,
		ResponseCode:    "3001",
		ResponseMessage: "duplicado",
	}}
	svc, db, _ := newTestService(t, gw, Config{})
	seedChainRecord(t, db, snowflake.ID(503))
	sub := enqueue(t, svc, db, snowflake.ID(503))

	require.NoError(t, svc.Dispatch(context.Background(), sub))

	assert.Equal(t, submissiondomain.StatusRejected, sub.Status)
	assert.NotNil(t, sub.SubmittedAt)

	due, err := svc.DueBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "rejected submissions are not retried")
}

func TestDispatchErrorSchedulesRetry(t *testing.T) {
	gw := &stubGateway{result: submissiondomain.SubmitResult{
		Status:          submissiondomain.StatusError,
		ResponseMessage: "connection refused",
	}}
	svc, db, clk := newTestService(t, gw, Config{MaxAttempts: 3, InitialDelay: 30 * time.Second})
	seedChainRecord(t, db, snowflake.ID(504))
	sub := enqueue(t, svc, db, snowflake.ID(504))

	require.NoError(t, svc.Dispatch(context.Background(), sub))

	assert.Equal(t, submissiondomain.StatusError, sub.Status)
	assert.Equal(t, 1, sub.Attempts)
	assert.Equal(t, "connection refused", sub.LastError)
	assert.Equal(t, clk.Now().Add(30*time.Second), sub.NextAttemptAt.UTC())

	// not due until the clock passes the scheduled retry
	due, err := svc.DueBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	clk.Advance(31 * time.Second)
	due, err = svc.DueBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDispatchExhaustionParksSubmission(t *testing.T) {
	gw := &stubGateway{result: submissiondomain.SubmitResult{
		Status:          submissiondomain.StatusError,
		ResponseMessage: "timeout",
	}}
	svc, db, clk := newTestService(t, gw, Config{MaxAttempts: 2, InitialDelay: time.Second})
	seedChainRecord(t, db, snowflake.ID(505))
	sub := enqueue(t, svc, db, snowflake.ID(505))

	require.NoError(t, svc.Dispatch(context.Background(), sub))
	assert.Equal(t, submissiondomain.StatusError, sub.Status)

	clk.Advance(time.Minute)
	require.NoError(t, svc.Dispatch(context.Background(), sub))
	assert.Equal(t, submissiondomain.StatusNeedsAttention, sub.Status)
	assert.Equal(t, 2, sub.Attempts)

	due, err := svc.DueBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "needs_attention rows are left for an operator")
}

func TestListPaginatesByCursor(t *testing.T) {
	svc, db, _ := newTestService(t, &stubGateway{}, Config{})
	for i := 1; i <= 3; i++ {
		require.NoError(t, svc.EnqueueTx(context.Background(), db, submissiondomain.Submission{
			OrgID:       snowflake.ID(1001),
			DocumentID:  snowflake.ID(600 + i),
			Label:       fmt.Sprintf("A2025-%03d", i),
			Fingerprint: "hash",
		}))
	}

	filter := submissiondomain.ListFilter{OrgID: snowflake.ID(1001)}
	filter.PageSize = 2
	first, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, first.Submissions, 2)
	require.True(t, first.PageInfo.HasMore)

	filter.PageToken = first.PageInfo.NextPageToken
	second, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, second.Submissions, 1)
	assert.False(t, second.PageInfo.HasMore)

	seen := map[snowflake.ID]bool{}
	for _, sub := range append(first.Submissions, second.Submissions...) {
		assert.False(t, seen[sub.ID], "pages must not overlap")
		seen[sub.ID] = true
	}
}

func TestListRejectsMalformedPageToken(t *testing.T) {
	svc, _, _ := newTestService(t, &stubGateway{}, Config{})

	filter := submissiondomain.ListFilter{OrgID: snowflake.ID(1001)}
	filter.PageToken = "not-a-cursor"
	_, err := svc.List(context.Background(), filter)
	assert.ErrorIs(t, err, submissiondomain.ErrInvalidPageToken)
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	svc, _, _ := newTestService(t, &stubGateway{}, Config{
		InitialDelay: 30 * time.Second,
		MaxDelay:     2 * time.Minute,
	})

	first := svc.retryDelay(1)
	second := svc.retryDelay(2)
	assert.Equal(t, 30*time.Second, first)
	assert.Greater(t, second, first)

	capped := svc.retryDelay(20)
	assert.LessOrEqual(t, capped, 2*time.Minute)
}
