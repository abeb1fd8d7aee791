// Package session runs the calibration trial loop: it asks the staircase for
// each level, drives the goggle channel around a bounded stimulus window,
// collects the subject's response, persists the trial, and feeds the
// response back to the staircase, all in strict alternation.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/banshee-data/calibrate/internal/config"
	"github.com/banshee-data/calibrate/internal/staircase"
)

// ErrAborted is returned when the operator aborts the run. An abort always
// routes through the channel's zeroing path before the controller returns.
var ErrAborted = errors.New("run aborted by operator")

// Actuator is the slice of the goggle channel the controller needs.
type Actuator interface {
	SetLevel(level int) error
	Close() error
}

// Prompter collects operator-facing interaction. Implementations block for
// the durations they are given; the controller owns all timing.
type Prompter interface {
	Instructions(participant, label string) error
	TrialInfo(trial, total, level, reversals int) error
	Countdown(label string, d time.Duration) error
	StimulusActive(level int, d time.Duration) error
	// CollectResponse waits up to timeout for the subject's report and
	// returns true when the stimulus was uncomfortable. A window that closes
	// without a keypress counts as comfortable.
	CollectResponse(timeout time.Duration) (bool, error)
	Completion(sum staircase.Summary) error
}

// TrialStore is the slice of the trial log the controller needs.
type TrialStore interface {
	LogTrial(sessionID string, trialNumber, level int, uncomfortable bool, reversalsSoFar int) error
	FinishSession(sessionID string, sum staircase.Summary) error
	MarkAborted(sessionID string) error
}

// Controller wires the staircase, channel, UI, and store together.
type Controller struct {
	Staircase *staircase.Staircase
	Channel   Actuator
	Prompter  Prompter
	Store     TrialStore
	SessionID string

	Participant string
	Label       string

	Timing config.Timing
	// ThresholdReversals is how many trailing reversals feed the terminal
	// threshold estimate; zero means all of them.
	ThresholdReversals int

	Log *slog.Logger
}

// Run executes trials until the staircase finishes, then persists the
// terminal snapshot. Any error (operator abort included) re-asserts the
// channel's zero-level invariant via Close before it propagates.
func (c *Controller) Run() (staircase.Summary, error) {
	if c.Log == nil {
		c.Log = slog.Default()
	}

	if err := c.Prompter.Instructions(c.Participant, c.Label); err != nil {
		return staircase.Summary{}, c.fail(err)
	}

	trial := 0
	for {
		level, ok := c.Staircase.NextLevel()
		if !ok {
			break
		}
		trial++

		if err := c.runTrial(trial, level); err != nil {
			return staircase.Summary{}, c.fail(err)
		}
	}

	sum := c.Staircase.Snapshot(c.ThresholdReversals)
	if err := c.Store.FinishSession(c.SessionID, sum); err != nil {
		return sum, c.fail(err)
	}

	c.Log.Info("run complete",
		"trials", sum.Trials, "reversals", len(sum.Reversals),
		"threshold", sum.Threshold, "finished", sum.Finished)

	if err := c.Prompter.Completion(sum); err != nil && !errors.Is(err, ErrAborted) {
		return sum, err
	}
	return sum, nil
}

func (c *Controller) runTrial(trial, level int) error {
	reversals := c.Staircase.ReversalCount()
	if err := c.Prompter.TrialInfo(trial, c.Staircase.PlannedTrials(), level, reversals); err != nil {
		return err
	}

	if err := c.Prompter.Countdown("Stimulus in", seconds(c.Timing.PreStimulusDelay)); err != nil {
		return err
	}

	c.Log.Info("presenting stimulus", "trial", trial, "level", level)
	if err := c.Channel.SetLevel(level); err != nil {
		return fmt.Errorf("trial %d: %w", trial, err)
	}

	// The stimulus window is the only time the goggles may be energized.
	// Whatever the prompter reports, the zero command is sent before the
	// trial can fail.
	uiErr := c.Prompter.StimulusActive(level, seconds(c.Timing.StimulusDuration))

	if err := c.Channel.SetLevel(0); err != nil {
		return fmt.Errorf("trial %d: zeroing after stimulus: %w", trial, err)
	}
	if uiErr != nil {
		return uiErr
	}

	timeout := c.Timing.ResponseTimeout
	if timeout <= 0 {
		timeout = c.Timing.InterTrialInterval
	}
	uncomfortable, err := c.Prompter.CollectResponse(seconds(timeout))
	if err != nil {
		return err
	}

	// Persist before updating the staircase so the row survives anything
	// that happens during the update.
	if err := c.Store.LogTrial(c.SessionID, trial, level, uncomfortable, reversals); err != nil {
		return fmt.Errorf("trial %d: %w", trial, err)
	}

	// Comfortable supports probing upward toward the threshold;
	// uncomfortable supports backing off.
	c.Staircase.RecordResponse(!uncomfortable)

	c.Log.Info("trial recorded",
		"trial", trial, "level", level,
		"uncomfortable", uncomfortable,
		"reversals", c.Staircase.ReversalCount())
	return nil
}

// fail re-asserts the zero-level invariant and annotates aborted sessions.
// Store failures here are logged, never allowed to mask the original error
// or delay the channel release.
func (c *Controller) fail(err error) error {
	if cerr := c.Channel.Close(); cerr != nil {
		c.Log.Error("channel close during failure path", "error", cerr)
	}
	if errors.Is(err, ErrAborted) {
		if serr := c.Store.MarkAborted(c.SessionID); serr != nil {
			c.Log.Error("marking session aborted", "error", serr)
		}
		c.Log.Warn("run aborted by operator", "session", c.SessionID)
	}
	return err
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
