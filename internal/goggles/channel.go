// Package goggles drives the light-goggle actuator over a serial line.
//
// The channel owns the one transport handle to the device and enforces a
// single safety invariant: the goggles are commanded back to level 0 on every
// exit path: normal close, propagated error, operator abort, and process
// termination. The protocol is send-only (ASCII decimal level, one LF per
// command, no acknowledgement), so the mirrored level kept here is the
// authoritative software-side belief about the actuator state.
package goggles

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
)

// Hard protocol range. The device rejects anything outside a single byte.
const (
	protocolMin = 0
	protocolMax = 255
)

var (
	// ErrLevelRange is returned when a requested level is outside the
	// protocol's hard 0-255 range.
	ErrLevelRange = errors.New("level outside protocol range 0-255")
	// ErrNotOpen is returned when the channel is used before Open or after
	// Close.
	ErrNotOpen = errors.New("channel not open")
	// ErrWriteFailed wraps transport write failures. After such a failure the
	// device state is unknown; the channel stays open so a later Close still
	// attempts the safety zeroing.
	ErrWriteFailed = errors.New("failed to write to goggle port")
)

// Bounds is the configured soft intensity range. Levels outside it are
// clamped with a logged advisory, never rejected.
type Bounds struct {
	Min int
	Max int
}

func (b Bounds) validate() error {
	if b.Min < protocolMin || b.Min > protocolMax {
		return fmt.Errorf("bounds min must be 0-255, got %d", b.Min)
	}
	if b.Max < protocolMin || b.Max > protocolMax {
		return fmt.Errorf("bounds max must be 0-255, got %d", b.Max)
	}
	if b.Min >= b.Max {
		return fmt.Errorf("bounds min %d must be less than max %d", b.Min, b.Max)
	}
	return nil
}

// Channel is a fail-safe handle to the goggle actuator. One channel owns one
// transport. Ordinary operation is single-threaded; only the emergency
// shutdown path may touch the channel from another goroutine, and the
// released flag makes that race safe without locking the transport.
type Channel struct {
	port   Porter
	open   Opener
	spec   ConnectionSpec
	bounds Bounds
	log    *slog.Logger

	mirrored atomic.Int32
	opened   atomic.Bool
	// released latches once the forced-zero-and-close procedure has run, so
	// Close and EmergencyShutdown cannot both execute it.
	released atomic.Bool
}

// Option configures a Channel at open time.
type Option func(*Channel)

// WithOpener substitutes the transport opener, for tests and simulators.
func WithOpener(open Opener) Option {
	return func(c *Channel) { c.open = open }
}

// WithLogger routes the channel's advisories to the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// Open establishes the transport, arms the process-wide shutdown guard, and
// immediately commands level 0 so the device starts dark.
func Open(spec ConnectionSpec, bounds Bounds, opts ...Option) (*Channel, error) {
	if err := bounds.validate(); err != nil {
		return nil, fmt.Errorf("connect goggles: %w", err)
	}

	c := &Channel{
		spec:   spec.Normalize(),
		bounds: bounds,
		log:    slog.Default(),
		open:   DialSerial,
	}
	for _, opt := range opts {
		opt(c)
	}

	port, err := c.open(c.spec)
	if err != nil {
		return nil, fmt.Errorf("connect goggles on %s: %w", c.spec.Port, err)
	}
	c.port = port
	c.opened.Store(true)

	// Arming before the zero write means a termination signal delivered in
	// this window still finds the channel.
	arm(c)

	if err := c.transmit(0); err != nil {
		c.Close()
		return nil, fmt.Errorf("initial zero command: %w", err)
	}
	c.mirrored.Store(0)

	c.log.Info("goggle channel open",
		"port", c.spec.Port, "baud", c.spec.BaudRate,
		"min", bounds.Min, "max", bounds.Max)
	return c, nil
}

// SetLevel commands the goggles to the given intensity. Levels outside the
// hard protocol range fail with ErrLevelRange; levels outside the configured
// soft bounds are clamped with a logged advisory. On a transport failure the
// mirrored level is left unchanged: the device state is unknown and the
// channel does not assume the command landed.
func (c *Channel) SetLevel(level int) error {
	if !c.opened.Load() {
		return ErrNotOpen
	}
	if level < protocolMin || level > protocolMax {
		return fmt.Errorf("%w: %d", ErrLevelRange, level)
	}

	if level < c.bounds.Min {
		c.log.Warn("level below configured minimum, clamping",
			"requested", level, "min", c.bounds.Min)
		level = c.bounds.Min
	}
	if level > c.bounds.Max {
		c.log.Warn("level above configured maximum, clamping",
			"requested", level, "max", c.bounds.Max)
		level = c.bounds.Max
	}

	if err := c.transmit(level); err != nil {
		return err
	}
	c.mirrored.Store(int32(level))
	c.log.Debug("goggle level set", "level", level)
	return nil
}

// Level returns the last level successfully transmitted. The protocol has no
// read-back; this mirror is the only view of the device state.
func (c *Channel) Level() int {
	return int(c.mirrored.Load())
}

// IsOpen reports whether the transport is established.
func (c *Channel) IsOpen() bool {
	return c.opened.Load()
}

// Close forces the goggles to level 0 and releases the transport. It is
// idempotent, never returns an error for the zero write (that failure is
// logged; the release must complete unconditionally), and disarms the
// channel from the shutdown guard.
func (c *Channel) Close() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}

	// Forced zero, bypassing range and clamp checks. Best effort.
	if err := c.transmit(0); err != nil {
		c.log.Error("failed to zero goggles during close", "error", err)
	}
	c.mirrored.Store(0)

	var closeErr error
	if c.port != nil {
		closeErr = c.port.Close()
	}
	c.opened.Store(false)
	disarm(c)

	c.log.Info("goggle channel closed", "port", c.spec.Port)
	return closeErr
}

// transmit writes one protocol command: the ASCII decimal level plus LF.
// Nothing is buffered above the port; if the port can drain, it is drained
// so the command reaches the device before transmit returns.
func (c *Channel) transmit(level int) error {
	msg := strconv.Itoa(level) + "\n"
	n, err := c.port.Write([]byte(msg))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(msg) {
		return fmt.Errorf("%w: short write %d of %d bytes", ErrWriteFailed, n, len(msg))
	}
	if d, ok := c.port.(Drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("%w: drain: %v", ErrWriteFailed, err)
		}
	}
	return nil
}
