package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/runtime"
	"gopkg.in/yaml.v3"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		printConfig bool
	)

	flag.StringVar(&configPath, "config", "loqa-dub.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&printConfig, "print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if printConfig {
		if err := yaml.NewEncoder(os.Stdout).Encode(redact(cfg)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()})).
		With(slog.String("service", cfg.RuntimeName), slog.String("version", version))

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// redact masks credentials before the config is printed.
func redact(cfg config.Config) config.Config {
	for _, secret := range []*string{&cfg.Bus.Password, &cfg.Bus.Token, &cfg.Translator.APIKey, &cfg.TTS.APIKey} {
		if *secret != "" {
			*secret = "REDACTED"
		}
	}
	return cfg
}
