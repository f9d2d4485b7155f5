// Command geckobot backtests and paper-trades CoinGecko market-cap strategies.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"geckobot/internal/config"
	"geckobot/internal/util"
)

// app is the state shared by every subcommand once the root command has loaded config.
type app struct {
	configPath string
	logLevel   string
	envFiles   []string

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "geckobot",
		Short: "Backtest and paper-trade crypto strategies driven by CoinGecko market caps",
		Long: `geckobot replays daily CoinGecko market-cap history through a strategy,
or runs the same strategy live against a paper broker fed by exchange ticks
and periodic market-cap rankings.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config, e.g. internal/config/config.yaml (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override app.log_level (debug|info|warn|error)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load secrets from (default .env)")

	root.AddCommand(
		newBacktestCmd(a),
		newPaperCmd(a),
		newFetchCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg := config.Defaults()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.LoadEnv(a.envFiles...)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level := cfg.App.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.log = util.NewLoggerTo(cmd.ErrOrStderr(), level).With().Str("app", cfg.App.Name).Logger()
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
