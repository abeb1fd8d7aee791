package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/calibrate/internal/config"
	"github.com/banshee-data/calibrate/internal/report"
	"github.com/banshee-data/calibrate/internal/triallog"
)

var (
	reportConfigPath string
	reportSessionID  string
	reportOut        string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a session's staircase track as an HTML chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport()
	},
	SilenceUsage: true,
}

func init() {
	reportCmd.Flags().StringVar(&reportConfigPath, "config", config.DefaultPath(), "Path to the experiment config file")
	reportCmd.Flags().StringVar(&reportSessionID, "session", "", "Session ID to report on")
	reportCmd.Flags().StringVar(&reportOut, "out", "calibration-report.html", "Output HTML path")
	reportCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(reportCmd)
}

func runReport() error {
	cfg, err := config.Load(reportConfigPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	store, err := triallog.Open(filepath.Join(cfg.Paths.DataDir, "calibration.db"))
	if err != nil {
		return fmt.Errorf("open trial store: %w", err)
	}
	defer store.Close()

	sess, err := store.GetSession(reportSessionID)
	if err != nil {
		return err
	}
	trials, err := store.Trials(reportSessionID)
	if err != nil {
		return err
	}

	f, err := os.Create(reportOut)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := report.Render(f, sess, trials); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", reportOut)
	return nil
}
