package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ChatPane/internal/apiclient"
	"ChatPane/internal/chatclient"
	"ChatPane/internal/config"
	"ChatPane/internal/console"
	"ChatPane/internal/telemetry"
)

func main() {
	var (
		configPath string
		backendURL string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML config file (default config.yaml if present)")
	flag.StringVar(&backendURL, "backend-url", "", "Chat backend base URL (overrides config)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(configPath, backendURL, debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, backendURL string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if debug || cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the terminal belongs to the conversation, so logs only go to the file
	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:   cfg.Logging.Dir,
		Name:  "chatpane",
		Level: cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, "chatpane", cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	logger.Info("starting chatpane", "backend_url", cfg.BackendURL)

	api := apiclient.New(cfg.BackendURL,
		apiclient.WithLogger(logger),
		apiclient.WithTracer(tracer),
		apiclient.WithMeter(meter),
	)
	client := chatclient.New(api,
		chatclient.WithLogger(logger),
		chatclient.WithTracer(tracer),
		chatclient.WithMeter(meter),
	)

	con := console.New(client, os.Stdin, os.Stdout, logger, console.WithHistorySource(api))
	return con.Run(ctx)
}
