package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	var coins []string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download market-cap history from CoinGecko into the SQLite cache",
		Long: `fetch loads every configured coin (or --coins) over the backtest window
through the read-through cache so later backtests with data.source=cached run offline.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if len(coins) == 0 {
				coins = a.cfg.Data.Coins
			}
			if len(coins) == 0 {
				return fmt.Errorf("no coins to fetch: set data.coins or --coins")
			}
			start, end, err := a.cfg.Backtest.Window()
			if err != nil {
				return err
			}
			a.cfg.Data.Source = "cached"
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			source, err := a.source(st)
			if err != nil {
				return err
			}

			to := end.Add(24*time.Hour - time.Nanosecond)
			for _, coin := range coins {
				coin = strings.ToUpper(strings.TrimSpace(coin))
				points, err := source.Load(ctx, coin, start, to)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", coin, err)
				}
				a.log.Info().Str("coin", coin).Int("points", len(points)).Msg("cached")
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", coin, len(points))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&coins, "coins", nil, "coins to fetch, e.g. BTC,ETH")
	return cmd
}
