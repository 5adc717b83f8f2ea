package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/api"
	"dockeragent-core/internal/config"
	"dockeragent-core/internal/executor"
	"dockeragent-core/internal/gateway"
	"dockeragent-core/internal/monitor"
	"dockeragent-core/internal/shaper"
	"dockeragent-core/internal/storage"
	"dockeragent-core/pkg/seccomp"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	if err := os.MkdirAll(cfg.Workspace.Root, 0o750); err != nil {
		log.Fatal().Err(err).Str("root", cfg.Workspace.Root).Msg("failed to create workspace root")
	}

	seccompPath := cfg.Gateway.SeccompProfile
	if seccompPath != "" {
		if err := writeSeccompProfile(seccompPath); err != nil {
			log.Warn().Err(err).Msg("failed to write seccomp profile, continuing without it")
			seccompPath = ""
		}
	}

	outputShaper := shaper.New(shaper.Budgets{
		MaxStringChars:   cfg.Shaper.MaxStringChars,
		MaxListItems:     cfg.Shaper.MaxListItems,
		MaxDictItems:     cfg.Shaper.MaxDictItems,
		MaxResponseChars: cfg.Shaper.MaxResponseChars,
	})

	gatewayOpts := []gateway.Option{
		gateway.WithDockerBinary(cfg.Gateway.DockerBinary),
		gateway.WithDefaultTimeout(cfg.Gateway.DefaultTimeout),
		gateway.WithShaper(outputShaper),
	}
	if seccompPath != "" {
		gatewayOpts = append(gatewayOpts, gateway.WithSeccompProfile(seccompPath))
	}
	gw, err := gateway.New(cfg.Workspace.Root, gatewayOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize command gateway")
	}

	gatewayTimeoutSeconds := int(cfg.Gateway.DefaultTimeout.Seconds())
	ex := executor.New(
		executor.WithTimeout(cfg.Executor.Timeout),
		executor.WithMaxOutputChars(cfg.Executor.MaxOutputChars),
		executor.WithTool("docker_cli", executor.ToolFunc(func(args map[string]string) (string, error) {
			return gw.DockerCliTool(context.Background(), args["command"], args["args"], args["cwd"], gatewayTimeoutSeconds), nil
		})),
	)

	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, trajectory sink disabled")
		} else {
			defer db.Close()
		}
	}

	var writer *storage.TrajectoryWriter
	if db != nil {
		writer = storage.NewTrajectoryWriter(db, 10000)
		writer.Start()
		defer writer.Flush(10 * time.Second)
	}

	server := api.NewServer(cfg, gw, ex, db, writer, metrics)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Str("workspace_root", cfg.Workspace.Root).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

// writeSeccompProfile renders the hardened service profile (pkg/seccomp,
// built on the OCI runtime-spec types) into Docker's native
// --security-opt seccomp=<path> JSON format.
func writeSeccompProfile(path string) error {
	data, err := seccomp.ServiceProfile().DockerJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
