// Package ledgerpdf renders fiscal-year closing ledgers as PDF files.
package ledgerpdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
	appconfig "github.com/skarecito/verifactu/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config appconfig.Config
	Log    *zap.Logger
}

// Archiver writes one PDF per closing under the artifact directory.
type Archiver struct {
	dir string
	log *zap.Logger
}

func NewArchiver(p Params) closingdomain.Archiver {
	return &Archiver{
		dir: p.Config.ArtifactDir,
		log: p.Log.Named("providers.ledgerpdf"),
	}
}

func (a *Archiver) Archive(ctx context.Context, summary closingdomain.ClosingSummary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	content, err := render(summary)
	if err != nil {
		return "", fmt.Errorf("render closing ledger: %w", err)
	}

	name := fmt.Sprintf("closing-%s-%d.pdf", summary.OrgID.String(), summary.FiscalYear)
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("save closing ledger: %w", err)
	}

	a.log.Info("closing ledger archived",
		zap.String("path", path),
		zap.Int("fiscal_year", summary.FiscalYear),
	)
	return path, nil
}

func render(summary closingdomain.ClosingSummary) ([]byte, error) {
	cfg := config.NewBuilder().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, fmt.Sprintf("Fiscal Year Closing Ledger %d", summary.FiscalYear), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)

	m.AddRow(8,
		text.NewCol(6, fmt.Sprintf("Organization: %s", summary.OrgID.String()), props.Text{Size: 9}),
		text.NewCol(6, fmt.Sprintf("Closed at: %s", summary.ClosedAt.Format("2006-01-02 15:04:05 UTC")), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(8,
		text.NewCol(4, fmt.Sprintf("Documents: %d", summary.DocumentCount), props.Text{Size: 9}),
		text.NewCol(4, fmt.Sprintf("Tax base: %s", summary.TotalTaxBase.StringFixed(2)), props.Text{Size: 9}),
		text.NewCol(4, fmt.Sprintf("Total: %s", summary.TotalAmount.StringFixed(2)), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(8,
		text.NewCol(4, fmt.Sprintf("Tax: %s", summary.TotalTaxAmount.StringFixed(2)), props.Text{Size: 9}),
		text.NewCol(4, fmt.Sprintf("Surcharge: %s", summary.TotalSurcharge.StringFixed(2)), props.Text{Size: 9}),
		text.NewCol(4, fmt.Sprintf("Withholding: %s", summary.TotalWithholding.StringFixed(2)), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(6,
		text.NewCol(12, fmt.Sprintf("Final fingerprint: %s", summary.FinalFingerprint), props.Text{Size: 8}),
	)

	m.AddRow(8,
		text.NewCol(3, "Series", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, "Docs", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(3, "Total", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(4, "Last document", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	for _, s := range summary.Series {
		m.AddRow(6,
			text.NewCol(3, s.SeriesCode, props.Text{Size: 8}),
			text.NewCol(2, fmt.Sprintf("%d", s.DocumentCount), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(3, s.TotalAmount.StringFixed(2), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(4, s.LastLabel, props.Text{Size: 8, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
