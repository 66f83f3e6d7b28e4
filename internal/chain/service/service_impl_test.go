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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:chain_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&chaindomain.ChainRecord{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Config: Config{VerificationBaseURL: "https://example.test/verify"},
	}).(*Service)
	return svc, db
}

func signInput(label string, number int64) chaindomain.SignInput {
	return chaindomain.SignInput{
		DocumentID:       snowflake.ID(number),
		OrgID:            snowflake.ID(1001),
		IssuerTaxID:      "B12345678",
		SeriesCode:       "A",
		DocumentType:     "invoice",
		FiscalYear:       2025,
		Number:           number,
		Label:            label,
		IssueDate:        time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		CounterpartTaxID: "X0000000T",
		TaxBase:          decimal.NewFromInt(100),
		TaxAmount:        decimal.NewFromInt(21),
		TotalAmount:      decimal.NewFromInt(121),
	}
}

func TestSignFirstInLineage(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Sign(signInput("A2025-001", 1), "", true)
	require.NoError(t, err)

	assert.Empty(t, record.PreviousFingerprint)
	assert.NotEmpty(t, record.Fingerprint)
	assert.Equal(t, chaindomain.KindIdentified, record.KindTag)
	assert.Contains(t, record.VerificationURL, "num=A2025-001")
	assert.NotEmpty(t, record.QRCode)
}

func TestSignCarriesLineageKey(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Sign(signInput("A2025-001", 1), "", true)
	require.NoError(t, err)

	assert.Equal(t, "invoice", record.DocumentType)
	assert.Equal(t, 2025, record.FiscalYear)
	assert.Equal(t, "X0000000T", record.CounterpartTaxID)
}

func TestSignKindTagFollowsCounterpart(t *testing.T) {
	svc, _ := newTestService(t)

	input := signInput("A2025-001", 1)
	input.CounterpartTaxID = ""
	record, err := svc.Sign(input, "", true)
	require.NoError(t, err)
	assert.Equal(t, chaindomain.KindUnidentified, record.KindTag)
}

func TestSignRequiresPreviousFingerprint(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Sign(signInput("A2025-002", 2), "", false)
	assert.ErrorIs(t, err, chaindomain.ErrMissingPreviousFingerprint)
}

func TestSignRequiresIssuer(t *testing.T) {
	svc, _ := newTestService(t)

	input := signInput("A2025-001", 1)
	input.IssuerTaxID = "  "
	_, err := svc.Sign(input, "", true)
	assert.ErrorIs(t, err, chaindomain.ErrInvalidIssuer)
}

func buildLineage(t *testing.T, svc *Service, length int) []chaindomain.ChainRecord {
	t.Helper()

	records := make([]chaindomain.ChainRecord, 0, length)
	previous := ""
	for i := 1; i <= length; i++ {
		label := fmt.Sprintf("A2025-%03d", i)
		record, err := svc.Sign(signInput(label, int64(i)), previous, i == 1)
		require.NoError(t, err)
		records = append(records, record)
		previous = record.Fingerprint
	}
	return records
}

func TestVerifyLineageIntact(t *testing.T) {
	svc, _ := newTestService(t)
	records := buildLineage(t, svc, 3)

	report := svc.VerifyLineage(records)
	assert.True(t, report.OK)
	assert.Equal(t, -1, report.BrokenAt)
	for _, status := range report.Records {
		assert.True(t, status.Valid)
	}
}

func TestVerifyLineageTamperedAmount(t *testing.T) {
	svc, _ := newTestService(t)
	records := buildLineage(t, svc, 4)

	records[1].TotalAmount = decimal.NewFromInt(999)

	report := svc.VerifyLineage(records)
	assert.False(t, report.OK)
	assert.Equal(t, 1, report.BrokenAt)
	assert.True(t, report.Records[0].Valid)
	assert.False(t, report.Records[1].Valid)
	// everything downstream of the break is untrusted
	assert.False(t, report.Records[2].Valid)
	assert.False(t, report.Records[3].Valid)
}

func TestVerifyLineageBrokenLink(t *testing.T) {
	svc, _ := newTestService(t)
	records := buildLineage(t, svc, 3)

	records[2].PreviousFingerprint = "forged"

	report := svc.VerifyLineage(records)
	assert.False(t, report.OK)
	assert.Equal(t, 2, report.BrokenAt)
}

func TestVerifyLineageEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	report := svc.VerifyLineage(nil)
	assert.True(t, report.OK)
	assert.Equal(t, -1, report.BrokenAt)
}

func TestVerifySeriesReadsPersistedRecords(t *testing.T) {
	svc, db := newTestService(t)
	records := buildLineage(t, svc, 3)
	for i := range records {
		require.NoError(t, db.Create(&records[i]).Error)
	}

	report, err := svc.VerifySeries(context.Background(), snowflake.ID(1001), "A")
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Len(t, report.Records, 3)
}

func TestLastRecordTx(t *testing.T) {
	svc, db := newTestService(t)

	last, err := svc.LastRecordTx(context.Background(), db, snowflake.ID(1001), "A")
	require.NoError(t, err)
	assert.Nil(t, last)

	records := buildLineage(t, svc, 2)
	for i := range records {
		require.NoError(t, db.Create(&records[i]).Error)
	}

	last, err = svc.LastRecordTx(context.Background(), db, snowflake.ID(1001), "A")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, records[1].Fingerprint, last.Fingerprint)
}
