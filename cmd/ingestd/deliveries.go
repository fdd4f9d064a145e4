package main

import (
	"github.com/spf13/cobra"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

func newDeliveriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List webhook deliveries, e.g. --status abandoned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			deliveries, err := s.ListDeliveries(cmd.Context(), store.ListOpts{Status: status, Limit: limit})
			if err != nil {
				return err
			}
			renderDeliveries(cmd.OutOrStdout(), deliveries)
			return nil
		},
	}
	cmd.Flags().String("status", "", "pending, delivered, failed or abandoned")
	cmd.Flags().Int("limit", 50, "maximum number of deliveries")
	return cmd
}
