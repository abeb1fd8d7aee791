// Package ui is the operator-facing terminal interface for a calibration
// run. Each screen (instructions, countdown, stimulus window, response
// collection) is a small bubbletea program that runs to completion and
// hands control back to the trial loop, which owns all sequencing.
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/banshee-data/calibrate/internal/session"
	"github.com/banshee-data/calibrate/internal/staircase"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stimulusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

// UI implements session.Prompter on a terminal.
type UI struct {
	// ShowInstructions and ShowTrialInfo mirror the display config; screens
	// that are switched off return immediately.
	ShowInstructions bool
	ShowTrialInfo    bool
}

// New returns a UI with both informational screens enabled.
func New() *UI {
	return &UI{ShowInstructions: true, ShowTrialInfo: true}
}

var _ session.Prompter = (*UI)(nil)

// Instructions shows the pre-run briefing and waits for a keypress.
func (u *UI) Instructions(participant, label string) error {
	if !u.ShowInstructions {
		return nil
	}
	body := fmt.Sprintf(
		"%s\n\nParticipant: %s    Session: %s\n\n"+
			"On each trial the goggles will light up for a short moment.\n"+
			"Afterwards, report whether the light was uncomfortable:\n"+
			"  y = uncomfortable    n = comfortable\n\n"+
			"Press any key to begin. Esc aborts at any time.",
		titleStyle.Render("GOGGLE CALIBRATION"), participant, label)
	return runScreen(&screen{body: body, anyKey: true})
}

// TrialInfo prints the trial header. It does not block.
func (u *UI) TrialInfo(trial, total, level, reversals int) error {
	if !u.ShowTrialInfo {
		return nil
	}
	fmt.Println(infoStyle.Render(fmt.Sprintf(
		"trial %d/%d · level %d · reversals %d", trial, total, level, reversals)))
	return nil
}

// Countdown shows label with a ticking second counter for d.
func (u *UI) Countdown(label string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return runScreen(&screen{
		label:     label,
		remaining: d,
		countdown: true,
	})
}

// StimulusActive holds the stimulus screen for the presentation window.
func (u *UI) StimulusActive(level int, d time.Duration) error {
	return runScreen(&screen{
		body:      stimulusStyle.Render(fmt.Sprintf("◉ STIMULUS ACTIVE  level %d", level)),
		remaining: d,
		countdown: true,
	})
}

// CollectResponse asks for the subject's report. The window closing without
// a keypress counts as comfortable.
func (u *UI) CollectResponse(timeout time.Duration) (bool, error) {
	s := &screen{
		body:      promptStyle.Render("Was the light uncomfortable?  [y/n]"),
		remaining: timeout,
		countdown: timeout > 0,
		response:  true,
	}
	if err := runScreen(s); err != nil {
		return false, err
	}
	return s.answer, nil
}

// Completion shows the run summary and waits for a keypress.
func (u *UI) Completion(sum staircase.Summary) error {
	threshold := "n/a (no reversals)"
	if sum.HasThreshold {
		threshold = fmt.Sprintf("%.2f (spread %.2f)", sum.Threshold, sum.Spread)
	}
	body := fmt.Sprintf(
		"%s\n\nTrials completed: %d\nReversals: %d\nEstimated threshold: %s\n\nPress any key to exit.",
		titleStyle.Render("RUN COMPLETE"), sum.Trials, len(sum.Reversals), threshold)
	return runScreen(&screen{body: body, anyKey: true})
}

type tickMsg time.Time

// screen is the shared model behind every UI step.
type screen struct {
	label     string
	body      string
	remaining time.Duration
	countdown bool // quit when remaining reaches zero
	anyKey    bool // quit on any (non-abort) key
	response  bool // accept y/n and quit

	answer  bool
	aborted bool
}

func runScreen(s *screen) error {
	if _, err := tea.NewProgram(s).Run(); err != nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	if s.aborted {
		return session.ErrAborted
	}
	return nil
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (s *screen) Init() tea.Cmd {
	if s.countdown {
		return tick()
	}
	return nil
}

func (s *screen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c", "q":
			s.aborted = true
			return s, tea.Quit
		case "y", "Y":
			if s.response {
				s.answer = true
				return s, tea.Quit
			}
		case "n", "N":
			if s.response {
				s.answer = false
				return s, tea.Quit
			}
		}
		if s.anyKey {
			return s, tea.Quit
		}
		return s, nil

	case tickMsg:
		s.remaining -= time.Second
		if s.remaining <= 0 {
			return s, tea.Quit
		}
		return s, tick()
	}
	return s, nil
}

func (s *screen) View() string {
	out := ""
	if s.label != "" {
		out += promptStyle.Render(fmt.Sprintf("%s %d...", s.label, int(s.remaining.Seconds())))
	} else {
		out += s.body
		if s.countdown {
			out += infoStyle.Render(fmt.Sprintf("  (%ds)", int(s.remaining.Seconds())))
		}
	}
	return out + "\n" + helpStyle.Render("esc to abort") + "\n"
}
