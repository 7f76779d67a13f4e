package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/config"
	"github.com/rovshanmuradov/launchpad/internal/logger"
)

type cli struct {
	configPath string
	logLevel   string
	pretty     bool

	cfg    *config.Config
	logger *logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "launchpad",
		Short: "Bonding-curve fair launch engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.DisableAutoGenTag = true
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logger.level")
	cmd.PersistentFlags().BoolVar(&c.pretty, "pretty", false, "colored console output")

	cmd.AddCommand(
		newSimulateCmd(c),
		newConfigCmd(c),
		newPoolsCmd(c),
		newExportCmd(c),
	)
	return cmd
}

func (c *cli) init() error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logger.Level = c.logLevel
	}
	if c.pretty {
		cfg.Logger.Pretty = true
	}

	l, err := logger.New(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	c.cfg, c.logger = cfg, l

	c.logger.Debug("Configuration loaded",
		zap.String("path", c.configPath),
		zap.Uint64("config_version", cfg.Global.Version),
		zap.Int("routers", len(cfg.Routers)))
	return nil
}

func (c *cli) sync() {
	if c.logger == nil {
		return
	}
	if err := c.logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
	}
}
