package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"matrice/internal/domain"
	"matrice/internal/history"
	"matrice/internal/session"
	"matrice/pkg/zip"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		outPath string
		recent  int
	)
	cmd := &cobra.Command{
		Use:   "export [filename...]",
		Short: "Download gallery images into a zip archive",
		Long: "Download gallery images into a zip archive. Name the gallery files directly, " +
			"or use --recent to take the images of the most recent completed jobs in the history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := append([]string(nil), args...)
			if recent > 0 {
				fromHistory, err := recentGalleryFiles(ctx, cmd, recent)
				if err != nil {
					return err
				}
				names = append(names, fromHistory...)
			}
			if len(names) == 0 {
				return errors.New("nothing to export: pass filenames or --recent")
			}

			client, err := ctx.backendClient()
			if err != nil {
				return err
			}
			assets := make([]zip.Asset, 0, len(names))
			for _, name := range names {
				data, mime, err := client.FetchGalleryImage(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", name, err)
				}
				assets = append(assets, zip.Asset{Filename: name, MIME: mime, Data: data})
			}

			if dir := filepath.Dir(outPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			if err := zip.WriteAssets(f, assets); err != nil {
				f.Close()
				os.Remove(outPath)
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close archive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d images to %s\n", len(assets), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "matrice-export.zip", "Archive path")
	cmd.Flags().IntVar(&recent, "recent", 0, "Include images of the N most recent completed jobs")
	return cmd
}

func recentGalleryFiles(ctx *commandContext, cmd *cobra.Command, n int) ([]string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	// Errors are archived too; over-fetch so n completed jobs can be found.
	jobs, err := store.List(cmd.Context(), n*4)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, j := range jobs {
		if len(names) == n {
			break
		}
		if j.Status != domain.JobStatusComplete {
			continue
		}
		if name := session.GalleryFilename(j.URL); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
