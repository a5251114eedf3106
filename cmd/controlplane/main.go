package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sandboxd/internal/common/cache"
	"sandboxd/internal/controlplane/controller"
	"sandboxd/internal/controlplane/events"
	"sandboxd/internal/controlplane/hub"
	"sandboxd/internal/controlplane/middleware"
	netmgr "sandboxd/internal/controlplane/network"
	"sandboxd/internal/controlplane/ratelimit"
	"sandboxd/internal/controlplane/service"
	"sandboxd/pkg/utils/logger"

	"github.com/docker/docker/client"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/controlplane.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.WithFields(context.Background())

	dockerClient, err := newDockerClient(appCfg.Docker)
	if err != nil {
		logger.Error(context.Background(), "init docker client failed", zap.Error(err))
		return
	}
	defer func() { _ = dockerClient.Close() }()

	rateStore, redisCache, err := newRateStore(appCfg)
	if err != nil {
		logger.Error(context.Background(), "init rate limit store failed", zap.Error(err))
		return
	}
	if redisCache != nil {
		defer func() { _ = redisCache.Close() }()
	}

	publisher := events.NewPublisher(appCfg.Kafka.Brokers, appCfg.Kafka.Topic, zl)
	defer func() { _ = publisher.Close() }()

	realtimeHub := hub.NewHub(zl)
	networkManager := netmgr.NewManager(dockerClient, appCfg.Environment.Prefix, appCfg.Policy.NetworkIsolation, zl)
	environmentService := service.NewEnvironmentService(dockerClient, networkManager, realtimeHub, publisher, appCfg.Policy, service.EnvironmentServiceOptions{
		Prefix:     appCfg.Environment.Prefix,
		MaxPerUser: appCfg.Environment.MaxPerUser,
		Logger:     zl,
	})
	authService := service.NewAuthService(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)

	httpServer := buildHTTPServer(appCfg, authService, environmentService, realtimeHub, rateStore, zl)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go heartbeatSweep(shutdownCtx, realtimeHub, appCfg.Realtime.HeartbeatInterval)
	if memStore, ok := rateStore.(*ratelimit.MemoryStore); ok {
		go bucketSweep(shutdownCtx, memStore, appCfg.Rate.Scopes)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "control plane http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	realtimeHub.CloseAll()
}

func newDockerClient(cfg DockerConfig) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	return client.NewClientWithOpts(opts...)
}

func newRateStore(cfg *AppConfig) (ratelimit.Store, *cache.RedisCache, error) {
	if cfg.Rate.Backend != "redis" {
		return ratelimit.NewMemoryStore(), nil, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedisStore(redisCache), redisCache, nil
}

func buildHTTPServer(cfg *AppConfig, authService *service.AuthService, environments *service.EnvironmentService, realtimeHub *hub.Hub, rateStore ratelimit.Store, zl *zap.Logger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/readyz", func(c *gin.Context) { c.Status(http.StatusOK) })

	environmentCtrl := controller.NewEnvironmentController(environments)
	realtimeCtrl := controller.NewRealtimeController(realtimeHub, environments, originChecker(cfg.Realtime.AllowedOrigins), zl)

	authed := middleware.Auth(authService, middleware.AuthPolicy{Mode: "protected"})
	adminOnly := middleware.Auth(authService, middleware.AuthPolicy{Mode: "protected", Roles: []string{"admin"}})

	api := router.Group("/api/v1")
	api.Use(authed)
	{
		// creation is limited per source address so rotating accounts
		// cannot reset the budget
		api.POST("/environments",
			middleware.RateLimit(rateStore, "env-create", cfg.Rate.Scopes["env-create"], middleware.KeyByIP),
			environmentCtrl.Create)
		api.GET("/environments",
			middleware.RateLimit(rateStore, "env-read", cfg.Rate.Scopes["env-read"], middleware.KeyByUserOrIP),
			environmentCtrl.List)
		api.GET("/environments/:id",
			middleware.RateLimit(rateStore, "env-read", cfg.Rate.Scopes["env-read"], middleware.KeyByUserOrIP),
			environmentCtrl.Get)
		api.DELETE("/environments/:id", environmentCtrl.Terminate)
		api.POST("/environments/:id/terminals",
			middleware.RateLimit(rateStore, "terminal", cfg.Rate.Scopes["terminal"], middleware.KeyByUserOrIP),
			environmentCtrl.CreateTerminal)
		api.DELETE("/terminals/:sessionId", environmentCtrl.CloseTerminal)
		api.GET("/ws", realtimeCtrl.Attach)
	}
	router.GET("/api/v1/realtime/stats", adminOnly, realtimeCtrl.Stats)

	return &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
}

// originChecker builds the websocket upgrade origin check. Nil keeps
// gorilla's same-origin default.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, item := range allowed {
			if item == "*" || item == origin {
				return true
			}
		}
		return false
	}
}

// heartbeatSweep pings every connected client on a fixed interval; the hub
// reaps connections whose transport rejects the ping.
func heartbeatSweep(ctx context.Context, realtimeHub *hub.Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			realtimeHub.PingAll()
		}
	}
}

// bucketSweep drops expired in-memory rate limit buckets so long-idle keys
// do not accumulate.
func bucketSweep(ctx context.Context, store *ratelimit.MemoryStore, scopes map[string][]ratelimit.Limit) {
	maxWindow := time.Minute
	for _, limits := range scopes {
		for _, limit := range limits {
			if limit.Window > maxWindow {
				maxWindow = limit.Window
			}
		}
	}
	ticker := time.NewTicker(maxWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep(time.Now(), maxWindow)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
