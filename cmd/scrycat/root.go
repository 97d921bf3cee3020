package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-cat/internal/config"
	"github.com/phrazzld/scry-cat/internal/platform/logger"
	"github.com/phrazzld/scry-cat/internal/redact"
)

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "scrycat",
		Short:         "Adaptive testing server and IRT calibration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"path to a config file (default: ./config.yaml or /etc/scrycat/config.yaml)")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newCalibrateCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.SetupWithWriter(cfg.Server, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	c.cfg, c.logger = cfg, log

	log.Debug("configuration loaded",
		slog.String("command", cmd.Name()),
		slog.String("database_dialect", cfg.Database.Dialect),
		slog.String("database_url", redact.DSN(cfg.Database.URL)),
		slog.Int("port", cfg.Server.Port))
	return nil
}
