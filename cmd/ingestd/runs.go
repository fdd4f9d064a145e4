package main

import (
	"github.com/spf13/cobra"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

// openStore opens only the daemon database, for read-only commands.
func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.DBPath())
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <job id>",
		Short: "Show a job's run history, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.GetRunHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs")
	return cmd
}
