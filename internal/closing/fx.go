package closing

import (
	"github.com/skarecito/verifactu/internal/closing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("closing.service",
	fx.Provide(service.NewService),
)
