package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/groundsignal/groundsignal/internal/attribution"
	attributiondomain "github.com/groundsignal/groundsignal/internal/attribution/domain"
	"github.com/groundsignal/groundsignal/internal/audit"
	"github.com/groundsignal/groundsignal/internal/authorization"
	"github.com/groundsignal/groundsignal/internal/backfill"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/config"
	"github.com/groundsignal/groundsignal/internal/ledger"
	"github.com/groundsignal/groundsignal/internal/mismatch"
	mismatchdomain "github.com/groundsignal/groundsignal/internal/mismatch/domain"
	"github.com/groundsignal/groundsignal/internal/observability"
	obslogger "github.com/groundsignal/groundsignal/internal/observability/logger"
	obsmetrics "github.com/groundsignal/groundsignal/internal/observability/metrics"
	obstracing "github.com/groundsignal/groundsignal/internal/observability/tracing"
	"github.com/groundsignal/groundsignal/internal/organization"
	"github.com/groundsignal/groundsignal/internal/providers"
	"github.com/groundsignal/groundsignal/internal/ratelimit"
	"github.com/groundsignal/groundsignal/internal/reconciliation"
	reconciliationdomain "github.com/groundsignal/groundsignal/internal/reconciliation/domain"
	"github.com/groundsignal/groundsignal/internal/refcode"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	organization.Module,
	ledger.Module,
	refcode.Module,
	attribution.Module,
	backfill.Module,
	providers.Module,
	reconciliation.Module,
	mismatch.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(obsmetrics.Engine()))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
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
	engine            *gin.Engine
	cfg               config.Config
	authzSvc          authorization.Service
	backfillSvc       backfilldomain.Service
	attributionSvc    attributiondomain.Service
	reconciliationSvc reconciliationdomain.Service
	mismatchSvc       mismatchdomain.Service
	limiter           *ratelimit.TriggerLimiter
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	AuthzSvc          authorization.Service
	BackfillSvc       backfilldomain.Service
	AttributionSvc    attributiondomain.Service
	ReconciliationSvc reconciliationdomain.Service
	MismatchSvc       mismatchdomain.Service
	Limiter           *ratelimit.TriggerLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		authzSvc:          p.AuthzSvc,
		backfillSvc:       p.BackfillSvc,
		attributionSvc:    p.AttributionSvc,
		reconciliationSvc: p.ReconciliationSvc,
		mismatchSvc:       p.MismatchSvc,
		limiter:           p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.AuthRequired())

	// -------- Backfills --------
	api.POST("/backfills", s.TriggerRateLimit(), s.TriggerBackfill)
	api.POST("/backfills/:job_id/cancel", s.CancelBackfill)
	api.GET("/backfills/:job_id", s.GetBackfillJob)

	// -------- Attribution --------
	api.POST("/attribution/auto-match", s.TriggerRateLimit(), s.AutoMatch)
	api.POST("/attribution/backfill", s.TriggerRateLimit(), s.AttributionBackfill)

	// -------- Reconciliation --------
	api.POST("/reconciliation/run", s.TriggerRateLimit(), s.RunReconciliation)

	// -------- Mismatches --------
	api.POST("/mismatches/detect", s.TriggerRateLimit(), s.DetectMismatches)
}
