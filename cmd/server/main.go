// Velocity - real-time chat room server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/velocity-chat/velocity/internal/api"
	"github.com/velocity-chat/velocity/internal/config"
	"github.com/velocity-chat/velocity/internal/health"
	"github.com/velocity-chat/velocity/internal/identity"
	"github.com/velocity-chat/velocity/internal/live"
	"github.com/velocity-chat/velocity/internal/middleware"
	"github.com/velocity-chat/velocity/internal/registry"
	"github.com/velocity-chat/velocity/internal/room"
	"github.com/velocity-chat/velocity/internal/store"
)

const healthInterval = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "store", cfg.StoreBackend)

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := st.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "backend", cfg.StoreBackend)

	// Initialize services.
	reg := registry.New(st, registry.WithLogger(logger))
	defer reg.Close()

	hub := room.NewHub(st, reg,
		room.WithIdleTimeout(cfg.Room.IdleTimeout),
		room.WithEvictionInterval(cfg.Room.EvictionInterval),
		room.WithMailboxSize(cfg.Room.MailboxSize),
		room.WithLogger(logger),
	)
	tracker := live.NewTracker()

	// Initialize handlers.
	liveHandler := live.NewHandler(hub, tracker, live.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.Live.SendBuffer,
		WriteTimeout:   cfg.Live.WriteTimeout,
		RateLimit:      cfg.Live.RateLimit,
		RateBurst:      cfg.Live.RateBurst,
		Logger:         logger,
	})
	apiHandler := api.NewHandler(reg, hub, st, tracker.Count)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	apiHandler.RegisterRoutes(r, liveHandler)

	// Live sessions are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	healthSrv := health.NewServer(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	slog.Info("Room eviction worker started", "idle_timeout", cfg.Room.IdleTimeout, "interval", cfg.Room.EvictionInterval)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			healthSrv.Watch(gctx, st, healthInterval)
			return nil
		})
		g.Go(func() error {
			if err := healthSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		})
	}

	// Shutdown starts on a signal or when any worker fails.
	g.Go(func() error {
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		healthSrv.Shutdown()
		tracker.CloseAll("server shutting down")
		hub.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return
	}
	slog.Info("Server stopped successfully")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return store.NewSQLite(cfg.DBPath)
	}
}
