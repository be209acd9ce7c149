package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/groupwarden/groupwarden/internal/bot"
	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/logger"
	"github.com/groupwarden/groupwarden/internal/platform"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "groupwarden",
		Short: "Moderation and federation daemon for Telegram group chats",
	}

	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
		reconcileCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the moderation daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("groupwarden starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	client, err := platform.NewClient(platform.ClientConfig{
		Token:       cfg.BotToken,
		APIEndpoint: cfg.APIEndpoint,
		Debug:       cfg.APIDebug,
	}, log)
	if err != nil {
		return fmt.Errorf("init Telegram client: %w", err)
	}

	bot.BinaryVersion = Version
	b, err := bot.New(cfg, store, client, client, client, client, client.BotID(), log)
	if err != nil {
		return fmt.Errorf("build bot: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return b.Run(ctx)
}

// healthcheckCmd exits 0 if the daemon's health endpoint responds.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("groupwarden %s\n", Version)
		},
	}
}

// reconcileCmd runs a one-shot reconciliation sweep against the store:
// expiries that lapsed while the daemon was down are closed and their
// reversals enforced.
func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a one-shot reconciliation sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			log := buildLogger(cfg)

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := platform.NewClient(platform.ClientConfig{
				Token:       cfg.BotToken,
				APIEndpoint: cfg.APIEndpoint,
				Debug:       cfg.APIDebug,
			}, log)
			if err != nil {
				return err
			}

			bot.BinaryVersion = Version
			b, err := bot.New(cfg, store, client, client, client, client, client.BotID(), log)
			if err != nil {
				return err
			}

			ctx := context.Background()
			start := time.Now()
			result, err := b.ReconcileOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reconcile complete: enforced=%d expired=%d elapsed=%s\n",
				result.Enforced, result.Expired, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
