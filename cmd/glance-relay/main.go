package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openglance/glance/internal/capture"
	"github.com/openglance/glance/internal/config"
	"github.com/openglance/glance/internal/identify"
	"github.com/openglance/glance/internal/server"
	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/internal/storage/memory"
	"github.com/openglance/glance/internal/storage/sqlite"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "glance-relay",
	Short: "Signaling relay and profile store for the glance live demo",
	Long: `glance-relay brokers the source/sink/worker signaling for the glance
smart-glasses demo, stores recognized people as profiles, and records
conversations against them.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("glance-relay %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(func() {
		// .env file is optional, don't fail if not found.
		_ = godotenv.Load()
	})
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	identifier, cleanup, err := buildIdentifier(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	captures := capture.NewService(store, identifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _ := server.Start(ctx, cfg, store, captures)
	log.Printf("glance relay listening on http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give connections time to close
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFile(configPath)
	}
	return config.LoadConfig()
}

// buildStore selects the profile store backend from configuration.
func buildStore(cfg *config.Config) (storage.ProfileStore, error) {
	switch cfg.Storage.Engine {
	case "", "memory":
		log.Println("storage: using in-memory profile store")
		return memory.NewProfileStore(), nil
	case "sqlite":
		path := cfg.Storage.DataPath + "/glance.db"
		log.Printf("storage: using sqlite profile store at %s", path)
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewProfileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// buildIdentifier wires the face identification capability, or disables
// it. The returned cleanup closes the index connection.
func buildIdentifier(cfg *config.Config) (identify.Identifier, func(), error) {
	if !cfg.Identify.Enabled {
		log.Println("identify: disabled, every capture creates a new profile")
		return identify.Disabled{}, func() {}, nil
	}

	embedder := identify.NewHTTPEmbedder(cfg.Identify.EmbedderURL)
	index, err := identify.NewFaceIndex(cfg.Identify.PostgresDSN, embedder, cfg.Identify.MaxDistance)
	if err != nil {
		return nil, nil, err
	}

	breaker := identify.NewBreaker(index, identify.BreakerConfig{
		MaxFailures: cfg.Identify.BreakerMaxFailures,
		Timeout:     cfg.Identify.BreakerTimeout,
	})
	return breaker, func() { index.Close() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
