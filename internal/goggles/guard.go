package goggles

import (
	"log/slog"
	"sync/atomic"
)

// The shutdown guard is process-wide state with a deliberately narrow
// contract: a single atomic slot holding the currently armed channel. It is
// armed on channel open, disarmed on channel close, and read only by
// termination handlers. Arming a new channel silently disarms whatever was
// armed before. The slot swap is the only synchronisation; the transport
// write itself is never behind a lock a dying process could block on.
var armed atomic.Pointer[Channel]

func arm(c *Channel) {
	armed.Store(c)
}

// disarm clears the slot only if c is still the armed channel, so a newer
// channel's registration is never clobbered by an older channel closing.
func disarm(c *Channel) {
	armed.CompareAndSwap(c, nil)
}

// EmergencyShutdown forces the armed channel, if any, back to level 0 and
// releases its transport. Safe to call from a signal handler goroutine or an
// exit hook, concurrently with a normal Close: the slot swap and the
// channel's own release latch guarantee the procedure runs at most once per
// channel lifetime. Errors are swallowed: this must never fail the
// termination path.
func EmergencyShutdown() {
	c := armed.Swap(nil)
	if c == nil {
		return
	}
	slog.Warn("emergency shutdown: forcing goggles to zero", "port", c.spec.Port)
	if err := c.Close(); err != nil {
		slog.Error("emergency shutdown: transport release failed", "error", err)
	}
}

// Armed reports whether any channel is currently registered for emergency
// shutdown. Intended for tests and diagnostics.
func Armed() bool {
	return armed.Load() != nil
}
