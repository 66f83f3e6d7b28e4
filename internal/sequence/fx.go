package sequence

import (
	"github.com/skarecito/verifactu/internal/sequence/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence.allocator",
	fx.Provide(service.ProvideConfig),
	fx.Provide(service.NewService),
)
