package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/mishalsheza/queue-ease/docs"
	"github.com/mishalsheza/queue-ease/internal/auth"
	"github.com/mishalsheza/queue-ease/internal/config"
	"github.com/mishalsheza/queue-ease/internal/handlers"
	"github.com/mishalsheza/queue-ease/internal/logger"
	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/storage"
	"github.com/mishalsheza/queue-ease/internal/tasks"
	"github.com/mishalsheza/queue-ease/internal/telemetry"
	"github.com/mishalsheza/queue-ease/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// @Title						Queue Ease API
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	if err := config.LoadEnv(); err != nil {
		slog.Error("env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing := telemetry.Setup("queue-ease", log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	hub := ws.NewHub(log)
	var publisher queue.Publisher = hub
	if cfg.Redis.Addr != "" {
		client := storage.NewRedisClient(cfg.Redis)
		defer client.Close()
		relay := ws.NewRedisRelay(client, hub, log)
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis relay stopped", "error", err)
			}
		}()
		log.Info("redis relay enabled", "addr", cfg.Redis.Addr)
	}

	svc := queue.NewService(store, queue.Options{
		Publisher:    publisher,
		Logger:       log,
		LockTimeout:  cfg.LockTimeout,
		RecentWindow: cfg.RecentWindow,
	})

	scheduler, err := tasks.InitScheduler(svc, cfg.ServedResetSchedule, log)
	if err != nil {
		return err
	}
	defer func() { <-scheduler.Stop().Done() }()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(newRouter(cfg, log, store, svc, hub), "queue-ease"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
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

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, state is lost on restart")
		return storage.NewMemoryStore(), nil
	}

	db, err := storage.ConnectPostgres(cfg.Postgres, log)
	if err != nil {
		return nil, err
	}
	store := storage.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newRouter(cfg config.Config, log *slog.Logger, store storage.Store, svc *queue.Service, hub *ws.Hub) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger(log))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	issuer := auth.NewIssuer(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	authHandler := auth.NewHandler(store, issuer, log)
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	api := r.Group("/api", auth.Middleware(issuer))
	handlers.NewQueueHandler(svc, log).Routes(api.Group("/queues"))

	wsHandler := ws.NewHandler(hub, log)
	api.GET("/queues/:id/ws", wsHandler.QueueWebSocket)
	api.GET("/ws", wsHandler.AllQueuesWebSocket)

	return r
}
