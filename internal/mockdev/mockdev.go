// Package mockdev simulates the goggle controller hardware. It consumes the
// wire protocol (LF-delimited ASCII decimal levels, 0-255) from any byte
// stream, validates each command, and keeps a history so tests and manual
// runs can verify that the rig never leaves the device energized.
package mockdev

import (
	"bufio"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Command is one received level change.
type Command struct {
	At       time.Time
	Level    int
	Previous int
}

// Device is a simulated goggle controller.
type Device struct {
	log *slog.Logger

	mu      sync.Mutex
	level   int
	count   int
	invalid int
	history []Command
}

// New returns a dark device.
func New(log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	return &Device{log: log}
}

// Run consumes commands from r until EOF or a read error. The caller ends a
// run by closing the underlying stream.
func (d *Device) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d.process(scanner.Text())
	}
	return scanner.Err()
}

func (d *Device) process(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	level, err := strconv.Atoi(line)
	if err != nil {
		d.mu.Lock()
		d.invalid++
		d.mu.Unlock()
		d.log.Error("invalid command (not a number)", "command", line)
		return
	}
	if level < 0 || level > 255 {
		d.mu.Lock()
		d.invalid++
		d.mu.Unlock()
		d.log.Error("level out of range", "level", level)
		return
	}

	d.mu.Lock()
	prev := d.level
	d.level = level
	d.count++
	d.history = append(d.history, Command{At: time.Now(), Level: level, Previous: prev})
	d.mu.Unlock()

	state := "OFF"
	if level > 0 {
		state = "ON"
	}
	d.log.Info("command received", "n", d.CommandCount(), "level", level, "previous", prev, "state", state)
}

// Level returns the device's current level.
func (d *Device) Level() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// CommandCount returns the number of valid commands received.
func (d *Device) CommandCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// InvalidCount returns the number of rejected commands.
func (d *Device) InvalidCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.invalid
}

// History returns a copy of all valid commands in arrival order.
func (d *Device) History() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.history))
	copy(out, d.history)
	return out
}

// Summary describes the device state at the end of a run.
type Summary struct {
	Commands  int
	Invalid   int
	Level     int
	EndedSafe bool // true when the device was left dark
}

// Summarize reports the run outcome and logs whether the device ended dark.
func (d *Device) Summarize() Summary {
	d.mu.Lock()
	sum := Summary{
		Commands:  d.count,
		Invalid:   d.invalid,
		Level:     d.level,
		EndedSafe: d.level == 0,
	}
	d.mu.Unlock()

	if sum.EndedSafe {
		d.log.Info("device ended dark", "commands", sum.Commands)
	} else {
		d.log.Warn("device left energized", "level", sum.Level, "commands", sum.Commands)
	}
	return sum
}
