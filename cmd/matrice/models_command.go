package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"matrice/internal/backend"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models [kind]",
		Short: "List a backend model catalog",
		Long: "List a backend model catalog. Kind is one of " + strings.Join(backend.CatalogKinds, ", ") +
			", or samplers. The default is models.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "models"
			if len(args) == 1 {
				kind = args[0]
			}
			client, err := ctx.backendClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if kind == "samplers" {
				s, err := client.Samplers(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, max(len(s.Samplers), len(s.Schedulers)))
				for i := 0; i < max(len(s.Samplers), len(s.Schedulers)); i++ {
					row := []string{"", ""}
					if i < len(s.Samplers) {
						row[0] = s.Samplers[i]
					}
					if i < len(s.Schedulers) {
						row[1] = s.Schedulers[i]
					}
					rows = append(rows, row)
				}
				fmt.Fprintln(out, renderTable([]string{"Sampler", "Scheduler"}, rows, nil))
				return nil
			}

			names, err := client.ListModels(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(out, "No %s available\n", kind)
				return nil
			}
			rows := make([][]string, 0, len(names))
			for i, name := range names {
				rows = append(rows, []string{strconv.Itoa(i + 1), name})
			}
			fmt.Fprintln(out, renderTable([]string{"#", titleCaser.String(strings.ReplaceAll(kind, "-", " "))}, rows, []columnAlignment{alignRight, alignLeft}))
			return nil
		},
	}
}
