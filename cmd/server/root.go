package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

// RootCmd is the marketplace server command
var RootCmd = &cobra.Command{
	Use:   "marketplace",
	Short: "Periodic double auction marketplace",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}
		var err error
		cfg, err = config.LoadAndValidate(cfgFile)
		if err != nil {
			return err
		}
		logger, err = logging.NewDefaultLogger(cfg.Log.Format, cfg.Log.Level)
		return err
	},
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/marketplace.yaml", "Path to the YAML config file")

	RootCmd.AddCommand(ServeCmd, MigrateCmd, PeriodCmd, VersionCmd)
}
