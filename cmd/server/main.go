package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhangun/wayang-inference/internal/bootstrap"
	"github.com/bhangun/wayang-inference/internal/config"
	"github.com/bhangun/wayang-inference/internal/httpapi"
	"github.com/bhangun/wayang-inference/internal/observe"
	"github.com/bhangun/wayang-inference/internal/registry"
	"github.com/bhangun/wayang-inference/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

const (
	Version     = "1.0.0"
	ServiceName = "github.com/bhangun/wayang-inference"
)

var (
	configFile     string
	host           string
	port           int
	verbose        bool
	logLevel       string
	modelManifest  string
	maxWorkersFlag int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   ServiceName,
		Short: "Capability-aware model inference server for local-first AI workloads",
		Long: `An inference server exposing five model capabilities over HTTP:
- text-to-text and vision completion with Server-Sent Event streaming
- text and image embedding
- text-to-image generation
Each capability is backed by its own memory-bounded worker pool, spawning
model workers on demand rather than loading every model at startup.`,
		Version: Version,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "0.0.0.0", "server host address")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 8080, "server port")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&modelManifest, "model-manifest", "", "path to the model manifest YAML file")
	rootCmd.PersistentFlags().IntVar(&maxWorkersFlag, "max-workers-per-model", 0, "max concurrent workers per model (0 keeps the config default)")

	viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("logs.level", rootCmd.PersistentFlags().Lookup("log-level"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("verbose") {
		cfg.LLM.Verbose = verbose
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logs.Level = logLevel
	}
	if cmd.Flags().Changed("model-manifest") {
		cfg.ModelManifest = modelManifest
	}
	if cmd.Flags().Changed("max-workers-per-model") && maxWorkersFlag > 0 {
		cfg.Pool.MaxWorkersPerModel = maxWorkersFlag
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logs)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.WithField("config", fmt.Sprintf("%+v", cfg)).Info("starting server with configuration")

	byCapability, err := registry.LoadManifest(cfg.ModelManifest)
	if err != nil {
		return fmt.Errorf("failed to load model manifest: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := observe.InitProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics provider: %w", err)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize metrics instruments: %w", err)
	}

	regCfg := registry.Config{
		MaxWorkersPerModel:      cfg.Pool.MaxWorkersPerModel,
		DrainTimeout:            cfg.Pool.DrainTimeout,
		SpawnWaitTimeout:        cfg.Pool.SpawnWaitTimeout,
		SystemMemoryCapFraction: cfg.Pool.SystemMemoryCapFraction,
		ChannelCapacity:         cfg.Pool.ChannelCapacity,
	}
	reg, err := registry.New(regCfg, log, byCapability, metrics)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}

	models, err := bootstrap.Build(reg)
	if err != nil {
		return fmt.Errorf("failed to bind models to loaders: %w", err)
	}

	srv := httpapi.New(cfg.GetServerAddress(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, reg, models, metrics, log, Version)

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.GetServerAddress()).Info("server starting")
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server error")
			return err
		}
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("received shutdown signal")
	}

	log.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pool.DrainTimeout+30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx, cfg.Pool.DrainTimeout); err != nil {
		log.WithError(err).Error("error during shutdown")
		return err
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		log.WithError(err).Warn("error shutting down metrics provider")
	}

	log.Info("server shutdown complete")
	return nil
}
