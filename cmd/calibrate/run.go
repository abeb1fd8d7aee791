package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/calibrate/internal/config"
	"github.com/banshee-data/calibrate/internal/goggles"
	"github.com/banshee-data/calibrate/internal/session"
	"github.com/banshee-data/calibrate/internal/staircase"
	"github.com/banshee-data/calibrate/internal/triallog"
	"github.com/banshee-data/calibrate/internal/ui"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a calibration session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExperiment()
	},
	SilenceUsage: true,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultPath(), "Path to the experiment config file")
	rootCmd.AddCommand(runCmd)
}

func runExperiment() error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	participant, label, startingIntensity, err := promptSessionInfo(cfg)
	if err != nil {
		return err
	}

	stair, err := staircase.New(cfg.StaircaseParams(startingIntensity))
	if err != nil {
		return err
	}

	store, err := triallog.Open(filepath.Join(cfg.Paths.DataDir, "calibration.db"))
	if err != nil {
		return fmt.Errorf("open trial store: %w", err)
	}
	defer store.Close()

	sessionID, err := store.BeginSession(participant, label, startingIntensity)
	if err != nil {
		return err
	}
	slog.Info("session started",
		"session", sessionID, "participant", participant,
		"label", label, "start", startingIntensity)

	channel, err := goggles.Open(cfg.ConnectionSpec(), cfg.Bounds())
	if err != nil {
		return err
	}
	// Normal-exit hook: runs on return and on panic unwind. The channel's
	// release latch makes this a no-op when the run already closed it.
	defer channel.Close()

	// Abnormal-termination hook: a signal may land while the trial loop is
	// blocked in a response window, so the zeroing cannot wait for it.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		slog.Warn("termination signal received", "signal", sig)
		goggles.EmergencyShutdown()
		os.Exit(1)
	}()

	prompter := ui.New()
	prompter.ShowInstructions = cfg.Display.ShowInstructions
	prompter.ShowTrialInfo = cfg.Display.ShowTrialInfo

	ctrl := &session.Controller{
		Staircase:          stair,
		Channel:            channel,
		Prompter:           prompter,
		Store:              store,
		SessionID:          sessionID,
		Participant:        participant,
		Label:              label,
		Timing:             cfg.Timing,
		ThresholdReversals: cfg.Data.ThresholdReversals,
	}

	sum, err := ctrl.Run()
	if errors.Is(err, session.ErrAborted) {
		fmt.Fprintln(os.Stderr, "Experiment aborted.")
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("Session %s complete: %d trials, %d reversals", sessionID, sum.Trials, len(sum.Reversals))
	if sum.HasThreshold {
		fmt.Printf(", threshold %.2f", sum.Threshold)
	}
	fmt.Println()
	return nil
}

// promptSessionInfo collects participant ID, session ID, and starting
// intensity on the console before any UI or hardware is touched.
func promptSessionInfo(cfg *config.Config) (participant, label string, startingIntensity int, err error) {
	in := bufio.NewReader(os.Stdin)

	readLine := func(prompt string) (string, error) {
		fmt.Print(prompt)
		line, err := in.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		participant, err = readLine("Participant ID: ")
		if err != nil {
			return "", "", 0, err
		}
		if triallog.ValidID(participant) {
			break
		}
		fmt.Println("Invalid participant ID: use letters, numbers, underscores, and hyphens.")
	}

	for {
		label, err = readLine("Session ID: ")
		if err != nil {
			return "", "", 0, err
		}
		if triallog.ValidID(label) {
			break
		}
		fmt.Println("Invalid session ID: use letters, numbers, underscores, and hyphens.")
	}

	min, max := cfg.Hardware.BrightnessMin, cfg.Hardware.BrightnessMax
	for {
		var raw string
		raw, err = readLine(fmt.Sprintf("Starting intensity [%d-%d, empty for %d]: ", min, max, cfg.Staircase.StartValue))
		if err != nil {
			return "", "", 0, err
		}
		if raw == "" {
			startingIntensity = cfg.Staircase.StartValue
			break
		}
		v, convErr := strconv.Atoi(raw)
		if convErr == nil && v >= min && v <= max {
			startingIntensity = v
			break
		}
		fmt.Printf("Invalid starting intensity: must be an integer in [%d, %d].\n", min, max)
	}

	return participant, label, startingIntensity, nil
}
