// Package main is the gateway's entry point: a cobra CLI wrapping the
// `serve` subcommand that wires config, identities, and the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"github.com/ccgateway/cloudcode-gateway/internal/api"
	"github.com/ccgateway/cloudcode-gateway/internal/api/handlers"
	"github.com/ccgateway/cloudcode-gateway/internal/api/middleware"
	"github.com/ccgateway/cloudcode-gateway/internal/config"
	"github.com/ccgateway/cloudcode-gateway/internal/dispatcher"
	"github.com/ccgateway/cloudcode-gateway/internal/identity"
	"github.com/ccgateway/cloudcode-gateway/internal/logging"
	"github.com/ccgateway/cloudcode-gateway/internal/modelrouter"
	"github.com/ccgateway/cloudcode-gateway/internal/upstream"
)

// Exit codes per the gateway's documented startup contract.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitPortInUse      = 3
	exitStoreUnreadable = 4
)

var (
	configPath      string
	identityPath    string
	logLevel        string
	logPath         string
	portOverride    int
	allowLANFlag    bool
	oauthClientID   string
	oauthClientSecr string
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Locally-hosted reverse-proxy gateway for Cloud Code upstream access",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&identityPath, "identities", "identities.json", "path to the identity store file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logPath, "log-file", "", "optional log file path (rotated); empty logs to stderr only")
	root.PersistentFlags().StringVar(&oauthClientID, "oauth-client-id", "", "Google OAuth client id used for access-token refresh")
	root.PersistentFlags().StringVar(&oauthClientSecr, "oauth-client-secret", "", "Google OAuth client secret used for access-token refresh")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "start the gateway's HTTP listener",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&portOverride, "port", 0, "override the configured listen port (0 keeps the config value)")
	serveCmd.Flags().BoolVar(&allowLANFlag, "allow-lan", false, "bind 0.0.0.0 instead of loopback, overriding the config value")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("gateway exited with error")
		os.Exit(exitConfigError)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Setup(logLevel, logPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed to load config")
		os.Exit(exitConfigError)
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}
	if allowLANFlag {
		cfg.AllowLANAccess = true
	}
	store := config.NewStore(cfg)

	watchStop := make(chan struct{})
	if err := config.Watch(configPath, store, watchStop); err != nil {
		log.WithError(err).Warn("config hot-reload watcher unavailable")
	} else {
		defer close(watchStop)
	}

	pool, err := identity.LoadPool(identityPath)
	if err != nil {
		log.WithError(err).Error("failed to load identity store")
		os.Exit(exitStoreUnreadable)
	}
	log.WithField("count", len(pool.All())).Info("identities loaded")
	reportPoolGauges(pool)

	client, err := upstream.New(upstream.Config{
		ProxyURL:            proxyURL(cfg),
		MaxIdleConnsPerHost: maxIdleConns(len(pool.All())),
	})
	if err != nil {
		log.WithError(err).Error("failed to build upstream client")
		os.Exit(exitConfigError)
	}

	refresher := identity.NewGoogleRefresher(oauthClientID, oauthClientSecr)
	selector := identity.NewSelector()
	disp := dispatcher.New(pool, selector, client, refresher)
	router := modelrouter.New(store)
	engine := handlers.NewEngine(store, pool, selector, disp, router)

	srv := api.NewServer(store, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		if startErr := srv.Start(); startErr != nil {
			serveErr <- startErr
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			if isAddrInUse(err) {
				os.Exit(exitPortInUse)
			}
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown reported an error")
	}

	if err := identity.SavePool(identityPath, pool); err != nil {
		log.WithError(err).Warn("failed to persist identity store on shutdown")
	}

	os.Exit(exitOK)
	return nil
}

func reportPoolGauges(pool *identity.Pool) {
	active, disabled := 0, 0
	for _, id := range pool.All() {
		if id.Disabled {
			disabled++
		} else {
			active++
		}
	}
	middleware.SetIdentityPoolGauges(active, disabled)
}

func proxyURL(cfg *config.Config) string {
	if !cfg.UpstreamProxy.Enabled {
		return ""
	}
	return cfg.UpstreamProxy.URL
}

func maxIdleConns(identityCount int) int {
	if identityCount*4 > 16 {
		return identityCount * 4
	}
	return 16
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "address already in use") || strings.Contains(msg, "bind: permission denied")
}
