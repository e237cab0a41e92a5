/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rideatlas/rideatlas/internal/batch"
	"github.com/rideatlas/rideatlas/internal/db"
	"github.com/rideatlas/rideatlas/internal/eventbus"
	"github.com/rideatlas/rideatlas/internal/ingest"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/manifest"
	"github.com/rideatlas/rideatlas/internal/media"
	"github.com/rideatlas/rideatlas/internal/trips"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Validate or import a batch trip archive",
}

var ingestInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Parse an archive and print what would be imported",
	Long:  "Run every validation step on a ZIP archive without uploading or saving anything.",
	RunE:  runIngestInspect,
}

var ingestApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Import an archive synchronously",
	Long:  "Validate a ZIP archive, upload its assets and create the trips as drafts, printing progress per trip.",
	RunE:  runIngestApply,
}

var (
	ingestZipPath string
	ingestFormat  string
	ingestUserID  string
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestInspectCmd)
	ingestCmd.AddCommand(ingestApplyCmd)

	ingestCmd.PersistentFlags().StringVar(&ingestZipPath, "zip", "", "Path to the batch archive (.zip) (required)")
	_ = ingestCmd.MarkPersistentFlagRequired("zip")

	ingestInspectCmd.Flags().StringVar(&ingestFormat, "format", "text", "Output format: text, json or yaml")
	ingestApplyCmd.Flags().StringVar(&ingestUserID, "user", "", "Owner of the imported trips (required)")
	_ = ingestApplyCmd.MarkFlagRequired("user")
}

func runIngestInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(ingestZipPath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	pb, err := ingest.Prepare(data)
	if err != nil {
		printRejection(cmd.ErrOrStderr(), err)
		return fmt.Errorf("archive rejected: %s", ingest.RejectReason(err))
	}
	return writeInspect(cmd.OutOrStdout(), pb, ingestFormat)
}

type tripSummary struct {
	Index       int    `json:"index" yaml:"index"`
	Title       string `json:"title" yaml:"title"`
	Destination string `json:"destination" yaml:"destination"`
	Folder      string `json:"folder,omitempty" yaml:"folder,omitempty"`
	Hero        string `json:"hero,omitempty" yaml:"hero,omitempty"`
	Media       int    `json:"media" yaml:"media"`
	HasGPX      bool   `json:"hasGpx" yaml:"hasGpx"`
	Stages      int    `json:"stages" yaml:"stages"`
	Assets      int    `json:"assets" yaml:"assets"`
	Bytes       int64  `json:"bytes" yaml:"bytes"`
}

type inspectReport struct {
	Trips       []tripSummary `json:"trips" yaml:"trips"`
	TotalAssets int           `json:"totalAssets" yaml:"totalAssets"`
	TotalBytes  int64         `json:"totalBytes" yaml:"totalBytes"`
}

func summarize(pb *batch.ParsedBatch) inspectReport {
	report := inspectReport{Trips: make([]tripSummary, 0, len(pb.Trips))}
	for i := range pb.Trips {
		trip := &pb.Trips[i]
		s := tripSummary{
			Index:       i,
			Title:       trip.Title,
			Destination: trip.Destination,
			Folder:      trip.FolderName,
			Media:       len(trip.Media),
			HasGPX:      trip.GPXFile != nil,
			Stages:      len(trip.Stages),
			Assets:      trip.AssetCount(),
			Bytes:       trip.AssetBytes(),
		}
		if hero := trip.Hero(); hero != nil {
			s.Hero = hero.Filename
		}
		report.Trips = append(report.Trips, s)
		report.TotalAssets += s.Assets
		report.TotalBytes += s.Bytes
	}
	return report
}

func writeInspect(w io.Writer, pb *batch.ParsedBatch, format string) error {
	report := summarize(pb)

	switch strings.ToLower(format) {
	case "json":
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		fmt.Fprintf(w, "%d viaggi, %d file, %s\n", len(report.Trips), report.TotalAssets, humanize.Bytes(uint64(report.TotalBytes)))
		for i, t := range report.Trips {
			fmt.Fprintf(w, "\n[%d] %s (%s)\n", t.Index+1, t.Title, t.Destination)
			if t.Folder != "" {
				fmt.Fprintf(w, "    cartella: %s\n", t.Folder)
			}
			hero := t.Hero
			if hero == "" {
				hero = "nessuna"
			}
			fmt.Fprintf(w, "    media: %d (copertina: %s), gpx: %s\n", t.Media, hero, yesNo(t.HasGPX))
			for _, stage := range pb.Trips[i].Stages {
				fmt.Fprintf(w, "    tappa %d: %s (%d media, gpx: %s)\n", stage.OrderIndex+1, stage.Title, len(stage.Media), yesNo(stage.GPXFile != nil))
			}
			fmt.Fprintf(w, "    da caricare: %d file, %s\n", t.Assets, humanize.Bytes(uint64(t.Bytes)))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func yesNo(b bool) string {
	if b {
		return "sì"
	}
	return "no"
}

func printRejection(w io.Writer, err error) {
	fmt.Fprintf(w, "archivio rifiutato (%s)\n", ingest.RejectReason(err))

	var schemaErr *manifest.SchemaError
	var structErr *ingest.StructureError
	switch {
	case errors.As(err, &schemaErr):
		for _, f := range schemaErr.Fields {
			fmt.Fprintf(w, "  - %s\n", f.String())
		}
	case errors.As(err, &structErr):
		for _, p := range structErr.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	default:
		fmt.Fprintf(w, "  - %v\n", err)
	}
}

func runIngestApply(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(ingestZipPath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	bus, err := eventbus.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer bus.Close()

	if cfg.S3Bucket == "" {
		if err := os.MkdirAll(cfg.MediaRoot, 0o755); err != nil {
			return fmt.Errorf("create media root: %w", err)
		}
	}
	mediaSvc, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("media storage: %w", err)
	}

	repo := trips.NewRepository(database, bus, logger)
	svc := ingest.NewService(batch.NewApplier(mediaSvc, repo, logger), jobs.NewTracker(bus, logger), logger)

	out := cmd.OutOrStdout()
	job, err := svc.Run(context.Background(), data, ingest.Submission{
		Filename: filepath.Base(ingestZipPath),
		UserID:   ingestUserID,
	}, func(tripIndex int, snapshot batch.Result) {
		outcome := "ok"
		for _, e := range snapshot.Errors {
			if e.TripIndex == tripIndex {
				outcome = "errore: " + e.Message
			}
		}
		fmt.Fprintf(out, "[%d/%d] %s\n", tripIndex+1, snapshot.TotalTrips, outcome)
	})
	if err != nil {
		printRejection(cmd.ErrOrStderr(), err)
		return fmt.Errorf("archive rejected: %s", ingest.RejectReason(err))
	}

	fmt.Fprintln(out, job.Progress.Message)
	if job.Result != nil {
		for _, id := range job.Result.CreatedTripIDs {
			fmt.Fprintf(out, "  creato %s\n", id)
		}
	}
	if job.Status == jobs.StatusFailed {
		return errors.New(job.Error)
	}
	return nil
}
