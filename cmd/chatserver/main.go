package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChatPane/internal/config"
	"ChatPane/internal/llm"
	"ChatPane/internal/server"
	"ChatPane/internal/store"
	"ChatPane/internal/telemetry"

	"github.com/gin-gonic/gin"
)

type flags struct {
	configPath string
	addr       string
	storeName  string
	provider   string
	model      string
	debug      bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to the YAML config file (default config.yaml if present)")
	flag.StringVar(&f.addr, "addr", "", "Listen address (overrides config)")
	flag.StringVar(&f.storeName, "store", "", "Message store (sqlite|mongo|memory)")
	flag.StringVar(&f.provider, "provider", "", "LLM provider (openai|grok|anthropic|ollama|gemini|echo)")
	flag.StringVar(&f.model, "model", "", "LLM model (empty uses the provider default)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, f)
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:    cfg.Logging.Dir,
		Name:   "chatserver",
		Level:  cfg.Logging.Level,
		Stdout: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, "chatserver", cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	st, err := store.Open(ctx, cfg.Server.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close(context.Background())
	logger.Info("store ready", "driver", cfg.Server.Store.Driver)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	provider, err := llm.New(ctx, cfg.Server.LLM, llm.Options{
		HTTPClient: httpClient,
		Logger:     logger,
		Tracer:     tracer,
		Meter:      meter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize llm provider: %w", err)
	}
	logger.Info("llm provider ready", "provider", provider.Name(), "cache", cfg.Server.LLM.Cache)

	if cfg.Server.LLM.Provider == config.ProviderOllama {
		ollama := llm.NewOllama(cfg.Server.LLM.Model, cfg.Server.LLM.BaseURL, httpClient)
		ok, err := ollama.HasModel(ctx)
		switch {
		case err != nil:
			logger.Warn("could not list ollama models", "error", err)
		case !ok:
			logger.Warn("ollama model not installed", "model", ollama.Model())
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(st, provider, cfg.Server, logger, server.WithTracer(tracer))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func applyFlags(cfg *config.Config, f flags) {
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.storeName != "" {
		cfg.Server.Store.Driver = f.storeName
	}
	if f.provider != "" {
		cfg.Server.LLM.Provider = f.provider
	}
	if f.model != "" {
		cfg.Server.LLM.Model = f.model
	}
	if f.debug || cfg.Debug {
		cfg.Logging.Level = "debug"
	}
}
