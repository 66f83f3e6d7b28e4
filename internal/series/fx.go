package series

import (
	"github.com/skarecito/verifactu/internal/series/service"
	"go.uber.org/fx"
)

var Module = fx.Module("series.service",
	fx.Provide(service.NewService),
)
