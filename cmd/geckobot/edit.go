package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"geckobot/internal/config"
)

func newConfigEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Interactively edit bankroll, risk and universe settings and save them to --config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.configPath == "" {
				return fmt.Errorf("config edit needs --config")
			}
			e := &editor{
				in:   bufio.NewReader(cmd.InOrStdin()),
				out:  cmd.OutOrStdout(),
				path: a.configPath,
				cfg:  a.cfg,
			}
			return e.run()
		},
	}
}

type editor struct {
	in   *bufio.Reader
	out  io.Writer
	path string
	cfg  *config.Config
}

func (e *editor) run() error {
	for {
		fmt.Fprintln(e.out, "\n=== geckobot config ===")
		fmt.Fprintln(e.out, "1) Show configuration summary")
		fmt.Fprintln(e.out, "2) Edit bankroll and risk knobs")
		fmt.Fprintln(e.out, "3) Edit universe and discovery")
		fmt.Fprintln(e.out, "4) Save config")
		fmt.Fprintln(e.out, "5) Reload config from disk")
		fmt.Fprintln(e.out, "0) Exit")
		fmt.Fprint(e.out, "Select option: ")

		line, err := e.in.ReadString('\n')
		if err != nil && line == "" {
			// stdin closed
			return nil
		}
		switch strings.TrimSpace(line) {
		case "1":
			e.summary()
		case "2":
			e.editRisk()
		case "3":
			e.editUniverse()
		case "4":
			if err := e.cfg.Validate(); err != nil {
				fmt.Fprintf(e.out, "not saved: %v\n", err)
				continue
			}
			if err := config.Save(e.path, e.cfg); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "config saved")
		case "5":
			reloaded, err := config.Load(e.path)
			if err != nil {
				fmt.Fprintf(e.out, "reload failed: %v\n", err)
				continue
			}
			e.cfg = reloaded
			fmt.Fprintln(e.out, "config reloaded")
		case "0":
			return nil
		default:
			fmt.Fprintln(e.out, "unknown option")
		}
	}
}

func (e *editor) summary() {
	c := e.cfg
	fmt.Fprintln(e.out, "\n--- Configuration Summary ---")
	fmt.Fprintf(e.out, "Strategy: %s\n", c.Strategy.Mode)
	fmt.Fprintf(e.out, "Backtest: %s..%s with $%.2f\n", c.Backtest.Start, c.Backtest.End, c.Backtest.Cash)
	fmt.Fprintf(e.out, "Fees: %.1f bps | slippage: %.1f bps | lot: %g\n", c.Paper.FeeBps, c.Paper.SlippageBps, c.Paper.LotSize)
	fmt.Fprintf(e.out, "Per-trade notional cap: $%.2f | max leverage: %.2f\n", c.Risk.MaxNotionalPerTrade, c.Risk.MaxLeverage)
	fmt.Fprintf(e.out, "Kill switch drawdown: %.2f%%\n", c.Risk.KillSwitchDrawdown*100)
	fmt.Fprintf(e.out, "Universe: top %d on %s quoted in %s\n", c.Universe.TopN, c.Universe.Market, c.Universe.Quote)
	fmt.Fprintf(e.out, "Discovery: enabled=%t max coins %d | min cap $%.0f | min volume $%.0f\n",
		c.Exchange.Discovery.Enabled, c.Exchange.Discovery.MaxCoins, c.Exchange.Discovery.MinMarketCapUSD, c.Exchange.Discovery.MinVolumeUSD)
}

func (e *editor) editRisk() {
	c := e.cfg
	fmt.Fprintln(e.out, "\n--- Edit Risk / Bankroll ---")
	c.Backtest.Cash = e.promptFloat("Starting cash", c.Backtest.Cash)
	c.Paper.FeeBps = e.promptFloat("Fee (bps)", c.Paper.FeeBps)
	c.Paper.SlippageBps = e.promptFloat("Slippage (bps)", c.Paper.SlippageBps)
	c.Risk.MaxNotionalPerTrade = e.promptFloat("Max notional per trade (USD)", c.Risk.MaxNotionalPerTrade)
	c.Risk.MaxLeverage = e.promptFloat("Max leverage", c.Risk.MaxLeverage)
	c.Risk.KillSwitchDrawdown = e.promptFloat("Kill switch drawdown (%)", c.Risk.KillSwitchDrawdown*100) / 100
}

func (e *editor) editUniverse() {
	c := e.cfg
	fmt.Fprintln(e.out, "\n--- Edit Universe / Discovery ---")
	c.Universe.TopN = int(e.promptFloat("Universe size", float64(c.Universe.TopN)))
	c.Universe.Market = e.promptString("Market", c.Universe.Market)
	c.Universe.Quote = strings.ToUpper(e.promptString("Quote currency", c.Universe.Quote))
	c.Exchange.Discovery.Enabled = e.promptString("Discovery enabled (y/n)", yesNo(c.Exchange.Discovery.Enabled)) == "y"
	c.Exchange.Discovery.MaxCoins = int(e.promptFloat("Discovery max coins", float64(c.Exchange.Discovery.MaxCoins)))
	c.Exchange.Discovery.MinMarketCapUSD = e.promptFloat("Min market cap (USD)", c.Exchange.Discovery.MinMarketCapUSD)
	c.Exchange.Discovery.MinVolumeUSD = e.promptFloat("Min volume (USD)", c.Exchange.Discovery.MinVolumeUSD)
}

func (e *editor) readLine() string {
	line, _ := e.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (e *editor) promptFloat(label string, current float64) float64 {
	fmt.Fprintf(e.out, "%s [%.2f]: ", label, current)
	line := e.readLine()
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Fprintf(e.out, "invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func (e *editor) promptString(label, current string) string {
	fmt.Fprintf(e.out, "%s [%s]: ", label, current)
	if line := e.readLine(); line != "" {
		return line
	}
	return current
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
