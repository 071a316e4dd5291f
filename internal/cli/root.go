// Package cli implements the queuesched admin command.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/queuesched/internal/logging"
	"github.com/xraph/queuesched/store"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	cfg        Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{cfg: DefaultConfig()}
	var (
		storeFlag, dsnFlag, addrFlag string
		levelFlag, formatFlag        string
	)

	root := &cobra.Command{
		Use:   "queuesched",
		Short: "Administer queuesched job stores",
		Long:  "queuesched migrates job stores, inspects and retries jobs and serves the admin HTTP API.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.configPath != "" {
				cfg, err := LoadConfig(a.configPath)
				if err != nil {
					return err
				}
				a.cfg = cfg
			}
			flags := cmd.Flags()
			if flags.Changed("store") {
				a.cfg.Store = storeFlag
			}
			if flags.Changed("dsn") {
				a.cfg.DSN = dsnFlag
			}
			if flags.Changed("addr") {
				a.cfg.Addr = addrFlag
			}
			if flags.Changed("log-level") {
				a.cfg.LogLevel = levelFlag
			}
			if flags.Changed("log-format") {
				a.cfg.LogFormat = formatFlag
			}

			level, err := logging.ParseLevel(a.cfg.LogLevel)
			if err != nil {
				return err
			}
			a.logger, err = logging.NewLoggerWithWriter(level, a.cfg.LogFormat, cmd.ErrOrStderr())
			return err
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&storeFlag, "store", a.cfg.Store, "Store driver (postgres, bun, sqlite, redis, mongo, memory)")
	pf.StringVar(&dsnFlag, "dsn", a.cfg.DSN, "Store connection string or sqlite path")
	pf.StringVar(&addrFlag, "addr", a.cfg.Addr, "Listen address for serve")
	pf.StringVar(&levelFlag, "log-level", a.cfg.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&formatFlag, "log-format", a.cfg.LogFormat, "Log format (text, json)")

	root.AddCommand(
		newMigrateCmd(a),
		newStatusCmd(a),
		newCancelCmd(a),
		newRetryCmd(a),
		newServeCmd(a),
	)
	return root
}

// withStore opens the configured store, runs fn and closes it.
func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	st, closeFn, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.cfg.Store, err)
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			a.logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()
	return fn(st)
}
