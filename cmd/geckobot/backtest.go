package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"geckobot/internal/engine"
	"geckobot/internal/paper"
)

type backtestReport struct {
	Result engine.Result `json:"result"`
	Fills  paper.Summary `json:"fills"`
}

func newBacktestCmd(a *app) *cobra.Command {
	var (
		mode       string
		start, end string
		cash       float64
		noEquity   bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay CoinGecko history through the configured strategy and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "" {
				a.cfg.Strategy.Mode = mode
			}
			if start != "" {
				a.cfg.Backtest.Start = start
			}
			if end != "" {
				a.cfg.Backtest.End = end
			}
			if cash > 0 {
				a.cfg.Backtest.Cash = cash
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return runBacktest(cmd, a, !noEquity)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "strategy mode (marketcap_trend|marketcap_universe|price_trend)")
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day (inclusive), YYYY-MM-DD")
	cmd.Flags().Float64Var(&cash, "cash", 0, "starting cash")
	cmd.Flags().BoolVar(&noEquity, "no-equity", false, "omit the equity curve from the report")
	return cmd
}

func runBacktest(cmd *cobra.Command, a *app, withEquity bool) error {
	ctx := cmd.Context()
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	source, err := a.source(st)
	if err != nil {
		return err
	}

	strat := a.strategy()
	ledger := paper.NewLedger(0)
	recorders, closeFills, err := a.recorders(ledger, st, strat.Name())
	if err != nil {
		return err
	}
	settings, err := a.settings(recorders...)
	if err != nil {
		if cerr := closeFills(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("close fills file")
		}
		return err
	}

	opts := []engine.BacktestOption{}
	if u := a.universeSource(source); u != nil {
		opts = append(opts, engine.WithUniverseSource(u))
	}
	if st != nil {
		opts = append(opts, engine.WithSelectionStore(st))
	}
	res, err := engine.NewBacktest(a.log, strat, source, settings, opts...).Run(ctx)
	if cerr := closeFills(); cerr != nil {
		a.log.Warn().Err(cerr).Msg("close fills file")
	}
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if !withEquity {
		res.Equity = nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(backtestReport{Result: res, Fills: ledger.Summary()})
}
