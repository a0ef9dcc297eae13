package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Physix85/Venus-AI/internal/auth"
	"github.com/Physix85/Venus-AI/internal/completion"
	"github.com/Physix85/Venus-AI/internal/config"
	"github.com/Physix85/Venus-AI/internal/ratelimit"
	"github.com/Physix85/Venus-AI/internal/relay"
	"github.com/Physix85/Venus-AI/internal/server"
	"github.com/Physix85/Venus-AI/internal/storage"
	"github.com/Physix85/Venus-AI/internal/store"
	"github.com/Physix85/Venus-AI/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trustedProxyCidrs: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	var st store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
	} else {
		slog.Warn("no databaseURL configured, conversations will not survive restarts")
		st = store.NewMemoryStore()
	}

	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init tokens: %v", err)
	}

	completer, err := completion.NewClient(completion.Config{
		BaseURL: cfg.OpenRouterBaseURL,
		APIKey:  cfg.OpenRouterAPIKey,
		Referer: cfg.OpenRouterReferer,
		Timeout: cfg.CompletionTimeout(),
	})
	if err != nil {
		log.Fatalf("failed to init completion client: %v", err)
	}

	orchestrator, err := relay.NewOrchestrator(relay.OrchestratorConfig{
		Store:     st,
		Completer: completer,
		Defaults: relay.Defaults{
			Model:        cfg.DefaultModel,
			Temperature:  cfg.DefaultTemperature,
			MaxTokens:    cfg.DefaultMaxTokens,
			SystemPrompt: cfg.SystemPrompt,
		},
		Timeout:                cfg.CompletionTimeout(),
		SerializeConversations: cfg.SerializeConversations,
	})
	if err != nil {
		log.Fatalf("failed to init orchestrator: %v", err)
	}

	var blobs storage.BlobStore
	if cfg.MinioEndpoint != "" {
		blobs, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	} else {
		slog.Warn("no minioEndpoint configured, attachments will not survive restarts")
		blobs = storage.NewMemoryBlobStore()
	}

	newLimiter := func(name string, limit int) *ratelimit.FixedWindowLimiter {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "venus:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			log.Fatalf("failed to init %s rate limiter: %v", name, err)
		}
		return limiter
	}

	httpServer := server.New(server.Config{
		Store:          st,
		Tokens:         tokens,
		Orchestrator:   orchestrator,
		Registry:       relay.NewRegistry(),
		Rooms:          relay.NewRooms(),
		Blobs:          blobs,
		SignupLimiter:  newLimiter("signup", cfg.SignupRateLimitPerMinute),
		LoginLimiter:   newLimiter("login", cfg.LoginRateLimitPerMinute),
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trustedProxies,
	})

	handler := util.WithRequestLog(
		util.WithSecurityHeaders(
			util.WithCORS(cfg.AllowedOrigins, httpServer.Router())))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
}
