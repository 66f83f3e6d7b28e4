package submission

import (
	"time"

	"github.com/skarecito/verifactu/internal/clock"
	appconfig "github.com/skarecito/verifactu/internal/config"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"github.com/skarecito/verifactu/internal/submission/gateway"
	"github.com/skarecito/verifactu/internal/submission/service"
	"github.com/skarecito/verifactu/internal/submission/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideGateway selects the transmission mode from configuration.
func ProvideGateway(cfg appconfig.Config, clk clock.Clock, log *zap.Logger) submissiondomain.Gateway {
	if cfg.IsLive() {
		timeout := time.Duration(cfg.AuthorityTimeoutSec) * time.Second
		return gateway.NewLiveGateway(cfg.AuthorityEndpoint, timeout, log)
	}
	return gateway.NewSimulatedGateway(clk, log)
}

var Module = fx.Module("submission.service",
	fx.Provide(ProvideGateway),
	fx.Provide(service.ProvideConfig),
	fx.Provide(service.NewService),
)

// WorkerModule runs the outbox relay; the API process composes Module alone,
// the worker process composes both.
var WorkerModule = fx.Module("submission.worker",
	fx.Provide(worker.ProvideConfig),
	fx.Provide(worker.NewWorker),
	fx.Invoke(worker.Register),
)
