package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/political-reasoner/backend/internal/analysis/normalize"
	"github.com/political-reasoner/backend/internal/config"
	"github.com/political-reasoner/backend/internal/handler"
	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/service/completion"
	"github.com/political-reasoner/backend/internal/service/prompt"
	"github.com/political-reasoner/backend/internal/service/reasoner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logger.Log.Infof("no .env file loaded (%v), using process environment only", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		logger.Log.Fatalf("failed to initialize logger: %v", err)
	}

	svc, err := buildService(ctx, cfg)
	if err != nil {
		logger.Log.Fatalf("failed to initialize reasoner: %v", err)
	}

	router := handler.NewRouter(cfg.Server, svc)

	if err := startServer(ctx, cfg.Server, router); err != nil {
		logger.Log.Fatalf("server error: %v", err)
	}
	logger.Log.Info("server stopped")
}

func buildService(ctx context.Context, cfg *config.Config) (*reasoner.Service, error) {
	chatModel, err := cfg.LLM.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	logger.Log.WithField("provider", cfg.LLM.Provider).WithField("model", cfg.LLM.Model).Info("chat model initialized")

	builder, err := prompt.NewBuilder(ctx, cfg.LLM.MaxInputChars, cfg.LLM.ChatHistoryLimit)
	if err != nil {
		return nil, err
	}

	table, err := normalize.LoadTable(cfg.Normalizer.MarkersFile)
	if err != nil {
		return nil, err
	}
	if cfg.Normalizer.MarkersFile != "" {
		logger.Log.WithField("file", cfg.Normalizer.MarkersFile).Info("marker table loaded")
	}

	client := completion.NewClient(chatModel, cfg.LLM.RetryBackoff, cfg.LLM.Timeout)
	overrides := completion.Overrides{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}
	return reasoner.NewService(builder, client, normalize.New(table), overrides), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Log.Infof("political reasoner listening on %s", serverCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
