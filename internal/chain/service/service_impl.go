package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	"github.com/skarecito/verifactu/internal/chain/fingerprint"
	appconfig "github.com/skarecito/verifactu/internal/config"
	obsmetrics "github.com/skarecito/verifactu/internal/observability/metrics"
	"github.com/skarecito/verifactu/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config controls the externally visible pieces of the envelope.
type Config struct {
	VerificationBaseURL string
}

func DefaultConfig() Config {
	return Config{
		VerificationBaseURL: "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR",
	}
}

func (c Config) withDefaults() Config {
	if c.VerificationBaseURL == "" {
		c.VerificationBaseURL = DefaultConfig().VerificationBaseURL
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{VerificationBaseURL: cfg.VerificationBaseURL}
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Config  Config              `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	cfg     Config
	metrics *obsmetrics.Metrics
}

func NewService(p Params) chaindomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("chain.service"),
		genID:   p.GenID,
		cfg:     p.Config.withDefaults(),
		metrics: p.Metrics,
	}
}

// Sign computes the fingerprint, verification URL and QR image for a document
// and returns the record ready to persist. It performs no I/O besides QR
// rendering, so the caller can run it inside its issuing transaction.
func (s *Service) Sign(input chaindomain.SignInput, previousFingerprint string, firstInLineage bool) (chaindomain.ChainRecord, error) {
	issuer := strings.TrimSpace(input.IssuerTaxID)
	if issuer == "" {
		return chaindomain.ChainRecord{}, chaindomain.ErrInvalidIssuer
	}
	if !firstInLineage && previousFingerprint == "" {
		return chaindomain.ChainRecord{}, chaindomain.ErrMissingPreviousFingerprint
	}
	if firstInLineage {
		previousFingerprint = ""
	}

	kind := chaindomain.KindUnidentified
	if strings.TrimSpace(input.CounterpartTaxID) != "" {
		kind = chaindomain.KindIdentified
	}

	hash := fingerprint.Compute(fingerprint.Input{
		IssuerTaxID:         issuer,
		Label:               input.Label,
		IssueDate:           input.IssueDate,
		KindTag:             kind,
		TaxAmount:           input.TaxAmount,
		TotalAmount:         input.TotalAmount,
		PreviousFingerprint: previousFingerprint,
	})

	verificationURL := fingerprint.VerificationURL(
		s.cfg.VerificationBaseURL,
		issuer,
		input.Label,
		input.IssueDate,
		input.TotalAmount,
	)

	qrPNG, err := fingerprint.QRPNG(verificationURL)
	if err != nil {
		return chaindomain.ChainRecord{}, err
	}

	return chaindomain.ChainRecord{
		ID:                  s.genID.Generate(),
		OrgID:               input.OrgID,
		DocumentID:          input.DocumentID,
		SeriesCode:          input.SeriesCode,
		DocumentType:        input.DocumentType,
		FiscalYear:          input.FiscalYear,
		Number:              input.Number,
		Label:               input.Label,
		IssuerTaxID:         issuer,
		CounterpartTaxID:    strings.TrimSpace(input.CounterpartTaxID),
		IssueDate:           input.IssueDate,
		KindTag:             kind,
		TaxBase:             input.TaxBase,
		TaxAmount:           input.TaxAmount,
		TotalAmount:         input.TotalAmount,
		Fingerprint:         hash,
		PreviousFingerprint: previousFingerprint,
		VerificationURL:     verificationURL,
		QRCode:              qrPNG,
	}, nil
}

// VerifyLineage walks an ordered lineage checking linkage and recomputing each
// fingerprint. The first mismatch marks that record and every later record as
// broken: once a link fails, nothing downstream can be trusted.
func (s *Service) VerifyLineage(records []chaindomain.ChainRecord) chaindomain.LineageReport {
	report := chaindomain.LineageReport{
		OK:       true,
		BrokenAt: -1,
		Records:  make([]chaindomain.RecordStatus, 0, len(records)),
	}

	prev := ""
	for i, rec := range records {
		status := chaindomain.RecordStatus{Label: rec.Label, Valid: true}

		if report.BrokenAt >= 0 {
			status.Valid = false
			status.Reason = "downstream of broken link"
			report.Records = append(report.Records, status)
			continue
		}

		switch {
		case i > 0 && rec.PreviousFingerprint != prev:
			status.Valid = false
			status.Reason = "previous fingerprint mismatch"
		case i == 0 && rec.PreviousFingerprint != "":
			status.Valid = false
			status.Reason = "first record carries a previous fingerprint"
		default:
			expected := fingerprint.Compute(fingerprint.Input{
				IssuerTaxID:         rec.IssuerTaxID,
				Label:               rec.Label,
				IssueDate:           rec.IssueDate,
				KindTag:             rec.KindTag,
				TaxAmount:           rec.TaxAmount,
				TotalAmount:         rec.TotalAmount,
				PreviousFingerprint: rec.PreviousFingerprint,
			})
			if expected != rec.Fingerprint {
				status.Valid = false
				status.Reason = "fingerprint does not match record content"
			}
		}

		if !status.Valid {
			report.OK = false
			report.BrokenAt = i
		}
		prev = rec.Fingerprint
		report.Records = append(report.Records, status)
	}

	return report
}

func (s *Service) VerifySeries(ctx context.Context, orgID snowflake.ID, seriesCode string) (chaindomain.LineageReport, error) {
	var records []chaindomain.ChainRecord
	// Records are signed in creation order, and numbers restart per document
	// type and fiscal year, so id order is the signing order of the lineage.
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND series_code = ?", orgID, strings.ToUpper(strings.TrimSpace(seriesCode))).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return chaindomain.LineageReport{}, err
	}

	report := s.VerifyLineage(records)
	if !report.OK {
		s.metrics.RecordChainBreak(ctx, seriesCode)
		s.log.Warn("chain lineage broken",
			zap.String("org_id", orgID.String()),
			zap.String("series_code", seriesCode),
			zap.Int("broken_at", report.BrokenAt),
		)
	}
	return report, nil
}

func (s *Service) LastRecordTx(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, seriesCode string) (*chaindomain.ChainRecord, error) {
	var rec chaindomain.ChainRecord
	err := tx.WithContext(ctx).
		Raw(
			`SELECT * FROM chain_records
			 WHERE org_id = ? AND series_code = ?
			 ORDER BY id DESC
			 LIMIT 1`+db.LockSuffix(tx),
			orgID,
			seriesCode,
		).Scan(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}
