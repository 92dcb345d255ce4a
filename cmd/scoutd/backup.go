package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driveteam/scoutd/internal/backup"
	"github.com/driveteam/scoutd/internal/config"
	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/scouting"
	"github.com/driveteam/scoutd/internal/storage"
)

var backupOutput string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export every store as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		scouting.Register()
		ctx := context.Background()
		if err := entity.BuildAll(ctx, store); err != nil {
			return err
		}

		out := os.Stdout
		if backupOutput != "" {
			f, err := os.Create(backupOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", backupOutput, err)
			}
			defer f.Close()
			out = f
		}

		return backup.ExportJSONL(ctx, out)
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "write the export to a file instead of stdout")
}
