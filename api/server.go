// Package api is the admin HTTP surface of the daemon: scheduler and sync
// stats, limit tuning, manual event publishing and the signals websocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/api/responses"
	"github.com/Aidin1998/finsync/internal/cache"
	"github.com/Aidin1998/finsync/internal/degrade"
	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/internal/syncbus"
	"github.com/Aidin1998/finsync/pkg/logger"
)

// SchedulerControl is the part of the scheduler the admin API drives.
type SchedulerControl interface {
	Stats() scheduler.Stats
	Limits() (maxConcurrent, requestsPerSecond int)
	SetMaxConcurrent(n int) int
	SetRequestsPerSecond(n int) int
	Pause()
	Resume()
}

// SyncControl is the part of the sync bus the admin API drives.
type SyncControl interface {
	Publish(evt syncbus.SyncEvent)
	ForceFullSync(ctx context.Context) error
	QueueStats() syncbus.QueueStats
}

type DegradeStatus interface {
	Status() degrade.Status
}

type CacheStatus interface {
	Status() []cache.GroupStatus
}

// CacheLevels reports hit and miss counts of the layered cache.
type CacheLevels interface {
	Stats() cache.ManagerStats
}

type FocusStatus interface {
	Focused() bool
}

// Dependencies wires the server to the daemon components. Scheduler and
// Sync are required; the rest enable optional routes.
type Dependencies struct {
	Scheduler SchedulerControl
	Sync      SyncControl
	Degrade   DegradeStatus
	Cache     CacheStatus
	Levels    CacheLevels
	Focus     FocusStatus
	Signals   http.Handler
	Metrics   http.Handler
	// Throttle runs after authentication on every mutating route.
	Throttle gin.HandlerFunc
}

type Config struct {
	JWTSecret    string
	AllowOrigins []string
}

// Server represents the admin API server
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	deps      Dependencies
	jwtSecret string
	started   time.Time
}

// NewServer creates the admin API server
func NewServer(log *zap.Logger, cfg Config, deps Dependencies) (*Server, error) {
	if deps.Scheduler == nil || deps.Sync == nil {
		return nil, errors.New("admin api requires a scheduler and a sync bus")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		logger:    log.Named("api"),
		deps:      deps,
		jwtSecret: cfg.JWTSecret,
		started:   time.Now(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware("finsync-admin"))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s, nil
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves on addr until ctx ends, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLog(s.logger, slog.LevelWarn),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin api", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("stopping admin api")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.router.NoRoute(func(c *gin.Context) {
		responses.NotFound(c, "no route for "+c.Request.Method+" "+c.Request.URL.Path)
	})
	s.router.GET("/healthz", s.healthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.Signals != nil {
		s.router.GET("/v1/signals/ws", gin.WrapH(s.deps.Signals))
	}

	guard := func(h gin.HandlerFunc) []gin.HandlerFunc {
		chain := []gin.HandlerFunc{s.authMiddleware()}
		if s.deps.Throttle != nil {
			chain = append(chain, s.deps.Throttle)
		}
		return append(chain, h)
	}

	v1 := s.router.Group("/v1")
	{
		sched := v1.Group("/scheduler")
		sched.GET("/stats", s.schedulerStats)
		sched.PUT("/limits", guard(s.updateLimits)...)
		sched.POST("/pause", guard(s.pause)...)
		sched.POST("/resume", guard(s.resume)...)

		sync := v1.Group("/sync")
		sync.GET("/stats", s.syncStats)
		sync.POST("/events", guard(s.publishEvent)...)
		sync.POST("/full", guard(s.fullSync)...)

		if s.deps.Degrade != nil {
			v1.GET("/degrade", s.degradeStatus)
		}
		if s.deps.Cache != nil {
			v1.GET("/cache/groups", s.cacheGroups)
			v1.GET("/cache/groups/:group", s.cacheGroup)
		}
		if s.deps.Levels != nil {
			v1.GET("/cache/stats", s.cacheStats)
		}
	}
}
