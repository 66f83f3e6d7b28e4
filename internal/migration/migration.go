// Package migration applies the database schema at startup.
package migration

import (
	"context"

	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
	documentdomain "github.com/skarecito/verifactu/internal/document/domain"
	sequencedomain "github.com/skarecito/verifactu/internal/sequence/domain"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&seriesdomain.Series{},
		&sequencedomain.SequenceCounter{},
		&documentdomain.FiscalDocument{},
		&chaindomain.ChainRecord{},
		&submissiondomain.Submission{},
		&submissiondomain.SubmissionAttempt{},
		&closingdomain.ClosingRecord{},
		&auditdomain.AuditLog{},
	}
}

// Migrate applies the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func register(lc fx.Lifecycle, db *gorm.DB, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("applying database migrations")
			return Migrate(db.WithContext(ctx))
		},
	})
}

var Module = fx.Module("migration",
	fx.Invoke(register),
)
