package audit

import (
	"github.com/skarecito/verifactu/internal/audit/repository"
	"github.com/skarecito/verifactu/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
