// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skarecito/verifactu/internal/audit"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	"github.com/skarecito/verifactu/internal/chain"
	chaindomain "github.com/skarecito/verifactu/internal/chain/domain"
	"github.com/skarecito/verifactu/internal/closing"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
	"github.com/skarecito/verifactu/internal/config"
	"github.com/skarecito/verifactu/internal/document"
	documentdomain "github.com/skarecito/verifactu/internal/document/domain"
	obsmiddleware "github.com/skarecito/verifactu/internal/observability/logger"
	obstracing "github.com/skarecito/verifactu/internal/observability/tracing"
	"github.com/skarecito/verifactu/internal/providers/ledgerpdf"
	"github.com/skarecito/verifactu/internal/sequence"
	"github.com/skarecito/verifactu/internal/series"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
	"github.com/skarecito/verifactu/internal/submission"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	audit.Module,
	series.Module,
	sequence.Module,
	chain.Module,
	submission.Module,
	ledgerpdf.Module,
	closing.Module,
	document.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	seriesSvc     seriesdomain.Service
	documentSvc   documentdomain.Service
	chainSvc      chaindomain.Service
	closingSvc    closingdomain.Service
	submissionSvc submissiondomain.Service
	auditSvc      auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	SeriesSvc     seriesdomain.Service
	DocumentSvc   documentdomain.Service
	ChainSvc      chaindomain.Service
	ClosingSvc    closingdomain.Service
	SubmissionSvc submissiondomain.Service
	AuditSvc      auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		seriesSvc:     p.SeriesSvc,
		documentSvc:   p.DocumentSvc,
		chainSvc:      p.ChainSvc,
		closingSvc:    p.ClosingSvc,
		submissionSvc: p.SubmissionSvc,
		auditSvc:      p.AuditSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", OrgMiddleware())

	api.POST("/series", s.createSeries)
	api.GET("/series", s.listSeries)
	api.POST("/series/:code/lock", s.lockSeries)
	api.POST("/series/:code/unlock", s.unlockSeries)

	api.POST("/documents", s.issueDocument)
	api.GET("/documents", s.listDocuments)
	api.GET("/documents/:id", s.getDocument)
	api.GET("/documents/:id/qr", s.getDocumentQR)

	api.GET("/chains/:series/verify", s.verifyChain)

	api.GET("/closings", s.listClosings)
	api.POST("/closings/:year/close", s.closeFiscalYear)
	api.POST("/closings/:year/reopen", s.reopenFiscalYear)

	api.GET("/submissions", s.listSubmissions)
	api.GET("/submissions/:document_id/attempts", s.listSubmissionAttempts)
	api.GET("/audit-logs", s.listAuditLogs)
}
