// Package worker runs the outbox relay loop.
package worker

import (
	"context"
	"time"

	appconfig "github.com/skarecito/verifactu/internal/config"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config controls the relay cadence.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		Interval:  time.Duration(cfg.WorkerIntervalSec) * time.Second,
		BatchSize: cfg.WorkerBatchSize,
	}
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Service submissiondomain.Service
	Config  Config `optional:"true"`
}

// Worker drains due outbox rows on a fixed interval. Rows stay owned by the
// database until a dispatch updates them, so a crashed tick is simply retried
// on the next one.
type Worker struct {
	log     *zap.Logger
	service submissiondomain.Service
	cfg     Config

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:     p.Log.Named("submission.worker"),
		service: p.Service,
		cfg:     p.Config.withDefaults(),
	}
}

// Register wires the relay loop into the application lifecycle.
func Register(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}

func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
	w.log.Info("outbox relay started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
	)
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// Drain once at startup so a restart does not delay pending rows by a
	// full interval.
	w.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of due submissions.
func (w *Worker) Tick(ctx context.Context) {
	batch, err := w.service.DueBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("failed to load due submissions", zap.Error(err))
		return
	}

	for i := range batch {
		if ctx.Err() != nil {
			return
		}
		sub := batch[i]
		if err := w.service.Dispatch(ctx, &sub); err != nil {
			w.log.Error("failed to dispatch submission",
				zap.String("label", sub.Label),
				zap.Error(err),
			)
		}
	}
}
