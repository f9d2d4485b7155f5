package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"geckobot/internal/engine"
	"geckobot/internal/exchange"
	"geckobot/internal/market"
	"geckobot/internal/metrics"
	"geckobot/internal/paper"
	"geckobot/internal/strategy"
)

func newPaperCmd(a *app) *cobra.Command {
	var (
		mode     string
		provider string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Run the configured strategy live against the paper broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "" {
				a.cfg.Strategy.Mode = mode
			}
			if provider != "" {
				a.cfg.Exchange.Provider = provider
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runPaper(ctx, a)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "strategy mode (marketcap_trend|marketcap_universe|price_trend)")
	cmd.Flags().StringVar(&provider, "provider", "", "tick provider (stub|binance|coingecko)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runPaper(ctx context.Context, a *app) error {
	cfg := a.cfg
	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		a.log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	strat := a.strategy()
	ledger := paper.NewLedger(1024)
	recorders, closeFills, err := a.recorders(ledger, st, strat.Name())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFills(); err != nil {
			a.log.Warn().Err(err).Msg("close fills file")
		}
	}()
	settings, err := a.settings(recorders...)
	if err != nil {
		return err
	}

	client := a.client()
	vs := cfg.CoinGecko.VsCurrency
	feed := exchange.NewFeed(cfg.Exchange.Provider, a.feedSymbols(), a.log.With().Str("component", "feed").Logger(),
		exchange.WithPollInterval(a.pollInterval()),
		exchange.WithCoinGecko(client, vs),
	)
	discovery := exchange.NewCoinGeckoDiscovery(a.log.With().Str("component", "discovery").Logger(),
		feed, feed.Symbols(), client, vs, cfg.Exchange.Discovery)

	var liveOpts []engine.LiveOption
	if st != nil {
		liveOpts = append(liveOpts, engine.WithLiveSelectionStore(st))
	}
	live := engine.NewLive(a.log, strat, settings, liveOpts...)

	ticks := make(chan market.Tick, 1024)
	var caps chan []market.CoinGecko
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx, ticks) })
	g.Go(func() error { return discovery.Run(gctx) })
	if !strings.EqualFold(cfg.Strategy.Mode, strategy.ModePriceTrend) {
		caps = make(chan []market.CoinGecko, 4)
		poller := exchange.NewMarketCapPoller(a.log.With().Str("component", "poller").Logger(),
			client, cfg.Data.Coins, vs, pollerPageSize(cfg.Universe.TopN), a.pollInterval())
		g.Go(func() error { return poller.Run(gctx, caps) })
	}
	g.Go(func() error {
		if err := live.Run(gctx, ticks, caps); err != nil {
			return err
		}
		// the other workers only stop on cancellation
		return context.Canceled
	})

	err = g.Wait()
	summary := ledger.Summary()
	a.log.Info().
		Int("fills", summary.Fills).
		Float64("fees", summary.Fees).
		Float64("equity", live.Algorithm().Portfolio().Equity).
		Msg("paper session finished")
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// feedSymbols streams the configured pairs plus the pair the market-cap trend trades.
func (a *app) feedSymbols() []string {
	symbols := append([]string(nil), a.cfg.Exchange.Symbols...)
	if crypto := a.cfg.Strategy.Params.Crypto; crypto != "" {
		symbols = append(symbols, crypto)
	}
	return symbols
}

// pollerPageSize fetches a few more coins than the universe keeps so ranks can shift.
func pollerPageSize(topN int) int {
	if topN <= 0 {
		return 100
	}
	return topN * 4
}
