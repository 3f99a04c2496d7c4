package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/api/responses"
	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/service"
	"github.com/Aidin1998/perpstats/pkg/errors"
)

// LiveHub serves dashboard websocket clients.
type LiveHub interface {
	ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server represents the API server
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	svc     *service.Service
	hub     LiveHub
	health  HealthCheck
	cfg     config.ServerConfig
	service string
	ctx     context.Context
	cancel  context.CancelFunc
}

// Options configures NewServer. Hub and Health are optional.
type Options struct {
	Config      config.ServerConfig
	Service     *service.Service
	Hub         LiveHub
	Health      HealthCheck
	Logger      *zap.Logger
	ServiceName string
}

// NewServer creates the API server with its middleware chain and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("api: service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := opts.ServiceName
	if name == "" {
		name = "perpstats"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:  logger.Named("api"),
		svc:     opts.Service,
		hub:     opts.Hub,
		health:  opts.Health,
		cfg:     opts.Config,
		service: name,
		ctx:     ctx,
		cancel:  cancel,
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.CustomRecoveryWithZap(s.logger, true, func(c *gin.Context, _ any) {
		responses.Abort(c, errors.Internal.Explain("unexpected failure"))
	}))
	router.Use(otelgin.Middleware(name))

	origins := opts.Config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	router.Use(cors.New(corsCfg))

	if opts.Config.RateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(opts.Config.RateLimit)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("api: rate limit %q: %w", opts.Config.RateLimit, err)
		}
		router.Use(ginlimiter.NewMiddleware(limiter.New(memory.NewStore(), rate),
			ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
				responses.Error(c, errors.Status(http.StatusTooManyRequests).Explain("rate limit exceeded"))
			}),
		))
	}

	s.router = router
	s.registerRoutes()
	s.http = &http.Server{
		Addr:         opts.Config.Addr(),
		Handler:      router,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}
	return s, nil
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes websocket clients and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(responses.RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.NoRoute(func(c *gin.Context) {
		responses.Error(c, errors.NotFound.Explain("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		platform := v1.Group("/platform")
		{
			platform.GET("/overview", s.overview)
			platform.GET("/fees", s.fees)
			platform.GET("/activity", s.activity)
			platform.GET("/distribution", s.distribution)
			platform.GET("/growth", s.growth)
			platform.GET("/summary", s.summary)
		}

		assets := v1.Group("/assets")
		{
			assets.GET("", s.assets)
			assets.GET("/compare", s.compare)
			assets.GET("/rankings", s.rankings)
			assets.GET("/:coin", s.asset)
			assets.GET("/:coin/share", s.volumeShare)
			assets.GET("/:coin/snapshots", s.snapshots)
		}

		v1.GET("/oi", s.openInterest)
		v1.GET("/depth/:coin", s.depth)
		v1.GET("/market/:coin/health", s.marketHealth)

		oracle := v1.Group("/oracle")
		{
			oracle.GET("/health", s.oracleHealth)
			oracle.GET("/analysis", s.oracleAnalysis)
			oracle.GET("/:coin/history", s.oracleHistory)
			oracle.GET("/:coin/tightness", s.oracleTightness)
		}

		traders := v1.Group("/traders")
		{
			traders.GET("/leaderboard", s.leaderboard)
			traders.GET("/wallets", s.wallets)
			traders.GET("/:address", s.wallet)
		}

		users := v1.Group("/users")
		{
			users.GET("/cohorts", s.cohorts)
			users.GET("/retention", s.retention)
			users.GET("/segments", s.segments)
			users.GET("/frequency", s.frequency)
			users.GET("/lifecycle", s.lifecycle)
			users.GET("/preferences", s.preferences)
		}

		v1.GET("/trades/recent", s.recentTrades)
		v1.GET("/trades/large", s.largeTrades)

		ingest := v1.Group("/ingest")
		{
			ingest.POST("/trade", s.ingestTrade)
			ingest.POST("/snapshot", s.ingestSnapshot)
		}
		if s.hub != nil {
			v1.GET("/ws/trades", func(c *gin.Context) {
				s.hub.ServeWS(s.ctx, c.Writer, c.Request)
			})
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			responses.Error(c, errors.Unavailable.Explain("dependency check failed").Wrap(err))
			return
		}
	}
	responses.Success(c, gin.H{
		"status":  "ok",
		"service": s.service,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
