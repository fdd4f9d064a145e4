package main

import (
	"github.com/spf13/cobra"

	"github.com/MaherFSF/Yemenactr-sub010/internal/config"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingestd",
		Short:         "Scheduled ingestion, backfills, webhooks and threshold alerts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "path to configuration file (default ./ingestd.yaml)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCommand(),
		newBackfillCommand(),
		newRunsCommand(),
		newDeliveriesCommand(),
		newWatchdogCommand(),
	)
	return root
}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"listen":    "listen",
}

// loadConfig reads the file named by --config. Precedence is flags, then
// INGESTD_* variables, then the file, then defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	v := config.New()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return config.Load(v, path)
}
