package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
)

func newBackfillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill --connector <id> --start <period> --end <period>",
		Short: "Ingest a historical range of periods",
		Long: `ingestd backfill --connector cby --start 2010 --end 2024 [--granularity year]

Periods already marked done are skipped unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			ids, _ := flags.GetStringSlice("connector")
			startRaw, _ := flags.GetString("start")
			endRaw, _ := flags.GetString("end")
			gran, _ := flags.GetString("granularity")
			force, _ := flags.GetBool("force")
			noValidate, _ := flags.GetBool("no-validate")
			asJSON, _ := flags.GetBool("json")

			if gran == "" {
				gran = cfg.Backfill.Granularity
			}
			g, err := period.Parse(gran)
			if err != nil {
				return err
			}
			start, err := g.ParseKey(startRaw)
			if err != nil {
				return err
			}
			end, err := g.ParseKey(endRaw)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.close()

			if len(ids) == 0 {
				ids = a.connectors.IDs()
			}
			res, err := a.actions.Backfill(cmd.Context(), ids, start, end, backfill.Options{
				SkipExisting: !force,
				Validate:     !noValidate,
				Granularity:  g,
			})
			if err != nil {
				return err
			}
			// Deliveries queued by the run are sent by serve's sweep.
			_, _ = a.engine.Sweep(cmd.Context(), time.Now().UTC())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			renderBackfill(out, res)
			if res.AllPeriodsFailed() {
				return fmt.Errorf("no period succeeded for %s", strings.Join(ids, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("connector", nil, "connector id (repeatable; default all)")
	cmd.Flags().String("start", "", "first period, e.g. 2010 or 2010-01")
	cmd.Flags().String("end", "", "last period, inclusive")
	cmd.Flags().String("granularity", "", "year, month or day (default backfill.granularity)")
	cmd.Flags().Bool("force", false, "re-ingest periods already marked done")
	cmd.Flags().Bool("no-validate", false, "skip record validation")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
