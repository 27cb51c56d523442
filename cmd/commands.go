package main

import (
	"fmt"
	"io"
	"os"

	bannercolor "github.com/fatih/color"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/delivery"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/notification"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func bind(v *viper.Viper, f *pflag.Flag, key string) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", f.Name, err))
	}
}

func (a *app) writers() (io.Writer, io.Writer) {
	if a.quiet {
		return nil, nil
	}
	return os.Stderr, os.Stdout
}

func newRunCmd(a *app) *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Regrid every fine raster of the configured sites and variables",
		PreRunE: a.loadWith(map[string]string{
			"write-rasters": "write_rasters",
			"write-geojson": "write_geojson",
		}),
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := delivery.Open(a.cfg, a.log)
			if err != nil {
				return err
			}
			progress, status := a.writers()
			report, err := p.RunBatch(cmd.Context(), delivery.RunOptions{
				Progress: progress,
				Status:   status,
				Notifier: notification.NewNotifier(a.cfg.DiscordWebhookURL),
				NoCache:  noCache,
			})
			if err != nil {
				return err
			}
			fmt.Println()
			bannercolor.Cyan("%s", report.Summary.String())
			for _, t := range report.Tables {
				fmt.Printf("  -> SAVED: %s\n", t)
			}
			if report.Summary.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", report.Summary.Failed, report.Summary.Total())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&noCache, "no-cache", false, "ignore records cached by earlier runs")
	f.Bool("write-rasters", true, "write the coarse GeoTIFFs next to the tables")
	f.Bool("write-geojson", false, "also write each table as GeoJSON points")
	return cmd
}

func newExtractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extract",
		Short:   "Rebuild the CSV tables from the regridded rasters",
		PreRunE: a.loadWith(map[string]string{"write-geojson": "write_geojson"}),
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := delivery.NewPipeline(a.cfg, nil, nil, a.log)
			if err != nil {
				return err
			}
			tables, err := p.Extract(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Printf("  -> SAVED: %s\n", t)
			}
			if len(tables) == 0 {
				bannercolor.Yellow("No valid data found.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("write-geojson", false, "also write each table as GeoJSON points")
	return cmd
}

func newPrepareMasksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "prepare-masks",
		Short:   "Pre-cut the yearly land-cover masks to each site buffer",
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := delivery.Open(a.cfg, a.log)
			if err != nil {
				return err
			}
			summary, err := p.PrepareMasks(cmd.Context())
			if err != nil {
				return err
			}
			_, status := a.writers()
			if status != nil {
				for _, o := range summary.Outcomes {
					fmt.Fprintln(status, o)
				}
			}
			bannercolor.Cyan("%s", summary.String())
			if summary.Failed > 0 {
				return fmt.Errorf("%d masks failed", summary.Failed)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
