package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/broker"
	"github.com/delphi-lab/delphi-trading/internal/config"
	"github.com/delphi-lab/delphi-trading/internal/engine"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/marketdata"
	"github.com/delphi-lab/delphi-trading/internal/notify"
	"github.com/delphi-lab/delphi-trading/internal/rules"
	"github.com/delphi-lab/delphi-trading/internal/server"
	"github.com/delphi-lab/delphi-trading/internal/store"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// app holds the wired service components for one command invocation.
type app struct {
	cfg    config.Config
	log    *logger.Logger
	st     store.Store
	loader *rules.Loader
	engine *engine.Engine
}

func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logr, err := logger.NewLogger()
	if err != nil {
		return nil, err
	}

	st, err := buildStore(cfg, logr)
	if err != nil {
		return nil, err
	}

	brk, err := buildBroker(cfg, logr)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg, logr)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return nil, err
	}

	loader := rules.NewLoader(cfg.Engine.RulesPath, logr)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}

	lifecycleOpts := make([]engine.LifecycleOption, 0, 2)
	if ttl := cfg.ProposalTTL(); ttl > 0 {
		lifecycleOpts = append(lifecycleOpts, engine.WithProposalTTL(ttl))
	}
	if interval := cfg.MinCycleInterval(); interval > 0 {
		lifecycleOpts = append(lifecycleOpts, engine.WithMinInterval(interval))
	}

	lifecycle, err := engine.NewLifecycle(ctx, st, brk, logr, lifecycleOpts...)
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewEngine(ctx, engine.Config{
		MaxSnapshotAge:   cfg.MaxSnapshotAge(),
		OrderSizePercent: cfg.Engine.OrderSizePercent,
		FOMCEvents:       cfg.Engine.FOMCEvents,
		Settings:         cfg.Automation,
	}, lifecycle, loader, provider, brk, notifier, st, logr)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		log:    logr,
		st:     st,
		loader: loader,
		engine: eng,
	}, nil
}

func (a *app) close() {
	if err := a.st.Close(); err != nil {
		a.log.Warn("Failed to close state store", zap.Error(err))
	}

	_ = a.log.Sync()
}

func buildStore(cfg config.Config, logr *logger.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "duckdb":
		return store.NewDuckDBStore(cfg.Store.Path, logr)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown store backend %s", cfg.Store.Backend)
	}
}

func buildBroker(cfg config.Config, logr *logger.Logger) (broker.Broker, error) {
	switch cfg.Broker.Backend {
	case "paper":
		return broker.NewPaperBroker(cfg.Broker.PaperCash, logr), nil
	case "binance":
		b := cfg.Broker.Binance
		if b.APIKey == "" || b.SecretKey == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration, "binance broker requires api_key and secret_key")
		}

		return broker.NewBinanceBroker(b.APIKey, b.SecretKey, b.Symbols, b.UseTestnet, logr), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown broker backend %s", cfg.Broker.Backend)
	}
}

func buildProvider(cfg config.Config, logr *logger.Logger) (marketdata.Provider, error) {
	if cfg.MarketData.Backend == "mock" {
		return marketdata.NewMockProvider(), nil
	}

	yields, err := marketdata.NewYieldAPIProvider(cfg.MarketData.YieldAPIBaseURL, cfg.MarketData.YieldAPIToken)
	if err != nil {
		return nil, err
	}

	quotes, err := marketdata.NewPolygonQuoteProvider(cfg.MarketData.PolygonAPIKey)
	if err != nil {
		return nil, err
	}

	live := marketdata.NewCompositeProvider(yields, quotes, cfg.MarketData.Tickers, logr)
	if cfg.MarketData.FallbackToMock {
		return marketdata.NewFallbackProvider(live, marketdata.NewMockProvider(), logr), nil
	}

	return live, nil
}

func buildNotifier(cfg config.Config) (notify.Notifier, error) {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewNoopNotifier(), nil
	}

	return notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.NewServer(a.engine, a.loader, a.log)

	address := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	if err := srv.Start(address); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := cmd.Duration("cycle-interval"); interval > 0 {
		go runEvery(ctx, interval, func() {
			if _, err := a.engine.ProcessCycle(ctx, false); err != nil {
				a.log.Warn("Scheduled cycle failed", zap.Error(err))
			}
		})
	}

	if interval := cmd.Duration("reconcile-interval"); interval > 0 {
		go runEvery(ctx, interval, func() {
			if _, err := a.engine.Reconcile(ctx); err != nil {
				a.log.Warn("Scheduled reconcile failed", zap.Error(err))
			}
		})
	}

	<-ctx.Done()
	a.log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Stop(shutdownCtx)
}

// runEvery invokes fn on a fixed interval until the context is canceled.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func cycleAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.ProcessCycle(ctx, cmd.Bool("force"))
	if err != nil {
		return err
	}

	return printJSON(result)
}

func reconcileAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.Reconcile(ctx)
	if err != nil {
		return err
	}

	return printJSON(result)
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	cfg := config.DefaultConfig()

	schema, err := cfg.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func printJSON(payload any) error {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}

func main() {
	// A missing .env file is fine; explicit environment wins either way.
	_ = godotenv.Load()

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the service configuration file",
		Value:   "config.yaml",
	}

	cmd := &cli.Command{
		Name:  "delphi",
		Usage: "Rule-based trading signal automation service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API, optionally with scheduled cycles",
				Flags: []cli.Flag{
					configFlag,
					&cli.DurationFlag{
						Name:  "cycle-interval",
						Usage: "Run a signal cycle on this interval (0 disables)",
						Value: 0,
					},
					&cli.DurationFlag{
						Name:  "reconcile-interval",
						Usage: "Run outcome reconciliation on this interval (0 disables)",
						Value: 5 * time.Minute,
					},
				},
				Action: serveAction,
			},
			{
				Name:  "cycle",
				Usage: "Run one signal cycle and print the result",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Bypass the minimum cycle interval",
					},
				},
				Action: cycleAction,
			},
			{
				Name:   "reconcile",
				Usage:  "Reconcile tracked positions against broker holdings",
				Flags:  []cli.Flag{configFlag},
				Action: reconcileAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the configuration JSON schema",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
