package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rpcwarden/internal/alert"
	"github.com/ppiankov/rpcwarden/internal/audit"
	"github.com/ppiankov/rpcwarden/internal/classifier"
	"github.com/ppiankov/rpcwarden/internal/config"
	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/lifecycle"
	"github.com/ppiankov/rpcwarden/internal/metrics"
	"github.com/ppiankov/rpcwarden/internal/reputation"
	"github.com/ppiankov/rpcwarden/internal/server"
)

var (
	serveListen   string
	serveUpstream string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Gateway listen address (overrides server.listen)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "Upstream JSON-RPC URL (overrides upstream.url)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON-RPC gateway and management API",
	Long: "Runs the gateway, the management API (with /healthz and /metrics), and\n" +
		"optionally the gRPC health service. The policy section of the config\n" +
		"file is hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, hash, err := config.Load(path)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveUpstream != "" {
		cfg.Upstream.URL = serveUpstream
	}

	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, closeStore, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeStore()

	var auditLog *audit.Log
	if cfg.AuditLog != "" {
		auditLog, err = audit.Open(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()
	}

	m := metrics.New()
	alerts := alert.NewDispatcher(cfg.Alerts, log)
	defer alerts.Wait()

	var completer classifier.Completer
	if cfg.Classifier.APIURL != "" {
		completer = classifier.NewHTTPCompleter(classifier.HTTPConfig{
			APIURL:    cfg.Classifier.APIURL,
			APIKey:    cfg.Classifier.APIKey,
			Model:     cfg.Classifier.Model,
			MaxTokens: cfg.Classifier.MaxTokens,
		}, nil)
	} else {
		log.Warn("classifier.api_url is empty; classifying by fallback policy only")
	}

	mgr, err := lifecycle.New(lifecycle.Config{
		HistorySize:    cfg.HistorySize,
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		ForwardTimeout: cfg.Upstream.Timeout,
		Policy:         cfg.Policy,
		PolicyHash:     hash,
	}, lifecycle.Deps{
		Classifier: classifier.New(completer, classifier.Config{Timeout: cfg.Classifier.Timeout}, log),
		Reputation: reputation.New(engine, reputation.Config{
			LargeTransferWei: cfg.Reputation.LargeTransfer(),
			MaxReports:       cfg.Reputation.MaxReports,
		}, log),
		Ledger:    engine,
		Forwarder: lifecycle.NewHTTPForwarder(cfg.Upstream.URL, cfg.Upstream.Headers, cfg.Upstream.Timeout),
		Audit:     auditLog,
		Alerts:    alerts,
		Metrics:   m,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to create call manager: %w", err)
	}

	srv, err := server.New(server.Config{
		Listen:         cfg.Server.Listen,
		AdminListen:    cfg.Server.AdminListen,
		HealthPort:     cfg.Server.HealthPort,
		RateLimitRPS:   cfg.Server.RateLimit.RPS,
		RateLimitBurst: cfg.Server.RateLimit.Burst,
	}, server.Deps{
		Calls:   mgr,
		Ledger:  engine,
		Audit:   auditLog,
		Metrics: m,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	reloader, err := config.NewReloader(path, func(next *config.Config, nextHash string) {
		mgr.SetPolicy(next.Policy, nextHash)
	}, log)
	if err != nil {
		log.WithError(err).Warn("hot-reload disabled")
	} else {
		go func() { _ = reloader.Run(ctx) }()
	}

	log.WithFields(logrus.Fields{
		"listen":      cfg.Server.Listen,
		"admin":       cfg.Server.AdminListen,
		"upstream":    cfg.Upstream.URL,
		"policy_hash": hash,
		"ledger":      ledgerLabel(cfg.Ledger.Path),
	}).Info("rpcwarden gateway starting")

	err = srv.Run(ctx)
	log.Info("rpcwarden gateway stopped")
	return err
}

// openLedger opens the configured ledger and seeds the treasury of a fresh
// one. The returned func closes the backing store.
func openLedger(ctx context.Context, cfg config.LedgerConfig) (*ledger.Engine, func(), error) {
	var (
		store     ledger.Store
		closeFunc = func() {}
	)
	if cfg.Path != "" {
		sqlStore, err := ledger.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		store = sqlStore
		closeFunc = func() { _ = sqlStore.Close() }
	}

	engine, err := ledger.NewEngine(ctx, store)
	if err != nil {
		closeFunc()
		return nil, nil, err
	}

	seed := cfg.Treasury()
	treasury := engine.Treasury()
	if seed != nil && !seed.IsZero() && treasury.IsZero() && len(engine.Accounts()) == 0 {
		if _, err := engine.FundTreasury(ctx, seed); err != nil {
			closeFunc()
			return nil, nil, fmt.Errorf("failed to seed treasury: %w", err)
		}
	}
	return engine, closeFunc, nil
}

func ledgerLabel(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}
