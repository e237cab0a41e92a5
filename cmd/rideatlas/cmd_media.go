/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rideatlas/rideatlas/internal/db"
	"github.com/rideatlas/rideatlas/internal/media"
	"github.com/rideatlas/rideatlas/internal/trips"
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Maintain uploaded batch assets",
}

var mediaOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Find uploaded assets no trip references",
	Long: `Lists objects under batch/ that are not attached to any trip or stage.
These are left behind when a process stops between uploading a trip's assets
and saving the trip. Pass --delete to remove them.`,
	RunE: runMediaOrphans,
}

var (
	orphansDelete bool
	orphansMinAge time.Duration
)

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaOrphansCmd)

	mediaOrphansCmd.Flags().BoolVar(&orphansDelete, "delete", false, "Delete the orphans instead of only listing them")
	mediaOrphansCmd.Flags().DurationVar(&orphansMinAge, "min-age", 24*time.Hour, "Ignore objects newer than this")
}

func runMediaOrphans(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	mediaSvc, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("media storage: %w", err)
	}

	scanner := media.NewOrphanScanner(mediaSvc, trips.NewRepository(database, nil, logger), orphansMinAge, logger)
	result, err := scanner.Scan(context.Background(), orphansDelete)
	if err != nil {
		return err
	}
	printOrphans(cmd.OutOrStdout(), result, orphansDelete)
	return nil
}

func printOrphans(w io.Writer, result *media.ScanResult, deleted bool) {
	for _, o := range result.Orphans {
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Key, humanize.Bytes(uint64(o.Size)), humanize.Time(o.ModTime))
	}
	fmt.Fprintf(w, "%d oggetti analizzati, %d orfani (%s), %d troppo recenti\n",
		result.TotalObjects, len(result.Orphans), humanize.Bytes(uint64(result.OrphanBytes)), result.Skipped)
	if deleted {
		fmt.Fprintf(w, "%d eliminati, %d errori\n", result.Removed, result.Errors)
	}
}
