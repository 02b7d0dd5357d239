// Command evotraders composes the trading-cycle core: calendar, market
// service, scheduler, and settlement coordinator. Agent reasoning and the
// gateway/dashboard are external collaborators; this binary stands in for
// them with a pass-through pipeline so the core can run end to end.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evotraders/evotraders/internal/calendar"
	"github.com/evotraders/evotraders/internal/config"
	"github.com/evotraders/evotraders/internal/market"
	"github.com/evotraders/evotraders/internal/observ"
	"github.com/evotraders/evotraders/internal/portfolio"
	"github.com/evotraders/evotraders/internal/prices"
	"github.com/evotraders/evotraders/internal/sched"
	"github.com/evotraders/evotraders/internal/settlement"
	"github.com/evotraders/evotraders/internal/storage"
)

var (
	cfgPath     string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:           "evotraders",
		Short:         "multi-agent trading simulator core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	root.AddCommand(runCmd(), backtestCmd())
	if err := root.Execute(); err != nil {
		observ.Log("fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func loadConfig() (config.Root, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

func startMetrics() {
	if metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			observ.Warn("metrics_server_stopped", map[string]any{"error": err.Error()})
		}
	}()
}

func buildCore(cfg config.Root) (*market.Service, *settlement.Coordinator, *calendar.Calendar, error) {
	cal, err := calendar.New(calendar.Definition{
		Timezone: cfg.Calendar.Timezone,
		Open:     cfg.Calendar.Open,
		Close:    cfg.Calendar.Close,
		Holidays: cfg.Calendar.Holidays,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	ms, err := market.New(market.Config{
		BacktestMode: cfg.BacktestMode,
		MockMode:     cfg.MockMode,
		Tickers:      cfg.Tickers,
		PollInterval: time.Duration(cfg.Prices.PollIntervalSeconds) * time.Second,
		Volatility:   cfg.Prices.VolatilityPct,
		DataDir:      cfg.Prices.DataDir,
		Quote: prices.QuoteClientConfig{
			BaseURL:            cfg.QuoteAPI.BaseURL,
			APIKey:             cfg.QuoteAPI.APIKey,
			RateLimitPerMinute: cfg.QuoteAPI.RateLimitPerMinute,
			TimeoutSeconds:     cfg.QuoteAPI.TimeoutSeconds,
			MaxRetries:         cfg.QuoteAPI.MaxRetries,
		},
	}, cal)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := buildStore(cfg.Storage)
	if err != nil {
		return nil, nil, nil, err
	}
	coord, err := settlement.New(store, cfg.InitialCapital)
	if err != nil {
		return nil, nil, nil, err
	}
	return ms, coord, cal, nil
}

func buildStore(cfg config.Storage) (settlement.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Path)
	case "", "file":
		return storage.NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run scheduled live/mock trading cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.BacktestMode {
				return fmt.Errorf("backtest_mode is set; use the backtest command")
			}
			startMetrics()

			ms, coord, cal, err := buildCore(cfg)
			if err != nil {
				return err
			}
			if err := ms.Start(broadcastUpdate); err != nil {
				return err
			}
			defer ms.Stop()

			agent := portfolio.New(cfg.InitialCapital, 0.5)
			cycle := func(ctx context.Context, date string) error {
				openPrices, err := ms.WaitForOpenPrices(ctx)
				if err != nil {
					return err
				}
				// external agent pipeline runs here in the full system;
				// the standalone binary settles with no new decisions
				closePrices, err := ms.WaitForClosePrices(ctx)
				if err != nil {
					return err
				}
				res, err := coord.RunDailySettlement(ctx, settlement.Input{
					Date:           date,
					Tickers:        cfg.Tickers,
					OpenPrices:     openPrices,
					ClosePrices:    closePrices,
					AgentPortfolio: agent,
				})
				if err != nil {
					observ.IncCounter("settlement_cycle_errors_total", nil)
					return err
				}
				printResult(res)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := sched.New(cal, sched.Trigger{
				Mode:     cfg.Trigger.Mode,
				Time:     cfg.Trigger.Time,
				Interval: time.Duration(cfg.Trigger.IntervalMinutes) * time.Minute,
			})
			if err := scheduler.Start(ctx, cycle); err != nil {
				return err
			}
			<-ctx.Done()
			scheduler.Stop()
			return nil
		},
	}
}

func backtestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backtest",
		Short: "replay trading cycles over historical dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.BacktestMode = true
			if cfg.Backtest.StartDate == "" || cfg.Backtest.EndDate == "" {
				return fmt.Errorf("backtest requires backtest.start_date and backtest.end_date")
			}
			startMetrics()

			ms, coord, cal, err := buildCore(cfg)
			if err != nil {
				return err
			}
			if err := ms.Start(broadcastUpdate); err != nil {
				return err
			}
			defer ms.Stop()

			hist, ok := ms.Source().(*prices.HistoricalSource)
			if !ok {
				return fmt.Errorf("backtest mode did not yield a historical source")
			}

			agent := portfolio.New(cfg.InitialCapital, 0.5)
			cycle := func(ctx context.Context, date string) error {
				hist.SetDate(date)
				hist.EmitOpenPrices()
				openPrices, err := ms.WaitForOpenPrices(ctx)
				if err != nil {
					return err
				}
				hist.EmitClosePrices()
				closePrices, err := ms.WaitForClosePrices(ctx)
				if err != nil {
					return err
				}
				res, err := coord.RunDailySettlement(ctx, settlement.Input{
					Date:           date,
					Tickers:        cfg.Tickers,
					OpenPrices:     openPrices,
					ClosePrices:    closePrices,
					AgentPortfolio: agent,
				})
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bt, err := sched.NewBacktestScheduler(cal, cfg.Backtest.StartDate, cfg.Backtest.EndDate)
			if err != nil {
				return err
			}
			return bt.Run(ctx, cycle)
		},
	}
}

func broadcastUpdate(u prices.Update) {
	observ.Log("price_update", map[string]any{
		"symbol": u.Symbol, "price": u.Price, "open": u.Open,
		"ret": u.Ret, "timestamp": u.TimestampMs,
	})
}

func printResult(res *settlement.Result) {
	fmt.Printf("%s  agent=%.2f  eq=%.2f  vw=%.2f  momo=%.2f\n",
		res.Date, res.AgentValue,
		res.BaselineValues["equal_weight"],
		res.BaselineValues["market_cap_weighted"],
		res.BaselineValues["momentum"])
}
