package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"matrice/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show archived jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryDBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No archived jobs")
				return nil
			}
			colorize := ctx.colorize(out)
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					formatTime(j.EndTime),
					shortID(j.ID),
					statusLabel(j.Status, colorize),
					fmt.Sprintf("%d", j.Seed),
					truncate(j.Params.Prompt, 40),
					jobResult(j),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Finished", "ID", "Status", "Seed", "Prompt", "Result"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	return cmd
}
