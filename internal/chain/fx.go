package chain

import (
	"github.com/skarecito/verifactu/internal/chain/service"
	"go.uber.org/fx"
)

var Module = fx.Module("chain.service",
	fx.Provide(service.ProvideConfig),
	fx.Provide(service.NewService),
)
