package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"matrice/internal/app"
	"matrice/internal/domain/jsoncfg"
	"matrice/internal/presets"
)

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage saved generation presets",
	}
	cmd.AddCommand(newPresetsListCommand(ctx))
	cmd.AddCommand(newPresetsShowCommand(ctx))
	cmd.AddCommand(newPresetsSaveCommand(ctx))
	cmd.AddCommand(newPresetsDeleteCommand(ctx))
	return cmd
}

func (c *commandContext) withPresets(cmd *cobra.Command, fn func(presets.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, closeFn, err := app.OpenPresets(cmd.Context(), cfg, c.logger())
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(store)
}

func newPresetsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPresets(cmd, func(store presets.Store) error {
				list, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No presets saved")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, p := range list {
					rows = append(rows, []string{
						p.Name,
						p.Config.Model,
						fmt.Sprintf("%dx%d", p.Config.Width, p.Config.Height),
						fmt.Sprintf("%d", p.Config.Steps),
						truncate(p.Config.Prompt, 48),
						formatTime(p.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Name", "Model", "Size", "Steps", "Prompt", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newPresetsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a preset as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPresets(cmd, func(store presets.Store) error {
				p, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(p.Config)
				if err != nil {
					return fmt.Errorf("encode preset: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}

func newPresetsSaveCommand(ctx *commandContext) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Save a generation config file as a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := jsoncfg.LoadFile(configFile)
			if err != nil {
				return err
			}
			return ctx.withPresets(cmd, func(store presets.Store) error {
				saved, err := store.Save(cmd.Context(), presets.FromConfig(args[0], cfg))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved preset %s\n", saved.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "YAML or JSON generation config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newPresetsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPresets(cmd, func(store presets.Store) error {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %s\n", args[0])
				return nil
			})
		},
	}
}
