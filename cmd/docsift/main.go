package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/enforcement"
	"github.com/docsift/docsift/internal/license"
	"github.com/docsift/docsift/internal/logging"
	"github.com/docsift/docsift/internal/notify"
	"github.com/docsift/docsift/internal/registry"
	"github.com/docsift/docsift/internal/subscription"
	"github.com/docsift/docsift/internal/usage"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "docsift",
	Short:   "DocSift entitlement engine",
	Long:    `DocSift is a local document AI assistant; this process runs its subscription and usage-enforcement engine.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("DocSift %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(licenseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack bundles the initialized engine and its collaborators.
type stack struct {
	cfg     *config.Config
	gateway *enforcement.Gateway
	store   *registry.SQLiteStore
	events  *notify.Manager
}

func newStack() (*stack, error) {
	cfg := config.Load()
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "docsift"})

	store, err := registry.NewSQLiteStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open document registry: %w", err)
	}

	validator := license.NewValidator(
		license.ResolvePublicKey(cfg.LicensePublicKey),
		[]byte(cfg.LicenseSharedSecret),
	)
	tracker := usage.NewTracker(cfg.DataDir)
	events := notify.NewManager()
	engine := subscription.NewEngine(cfg.DataDir, validator, tracker, store, events)

	return &stack{
		cfg:     cfg,
		gateway: enforcement.NewGateway(engine),
		store:   store,
		events:  events,
	}, nil
}

func (s *stack) close() {
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close document registry")
	}
}

func runHost() error {
	s, err := newStack()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reconcile time-based transitions that happened while we were down.
	s.gateway.CheckExpiry()

	if s.cfg.MetricsAddr != "" {
		startMetricsServer(ctx, s.cfg.MetricsAddr)
	}

	rec := s.gateway.CurrentEntitlement()
	log.Info().
		Str("tier", string(rec.Tier)).
		Str("dataDir", s.cfg.DataDir).
		Msg("Entitlement engine ready")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}
