package goggles

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Porter is the minimal transport interface the channel needs. The goggle
// protocol is send-only, so no reader is required. This abstraction enables
// unit testing without real serial hardware.
type Porter interface {
	io.Writer
	io.Closer
}

// Drainer is an optional interface a Porter may implement to block until all
// buffered output has reached the device. Real serial ports implement it.
type Drainer interface {
	Drain() error
}

// ConnectionSpec describes how to reach the goggle controller.
type ConnectionSpec struct {
	// Port is the serial device path, e.g. /dev/tty.usbserial-0001 or COM3.
	Port     string
	BaudRate int
	// Timeout is the serial port timeout from the hardware config. The
	// protocol is send-only, so it matters mainly for port teardown.
	Timeout time.Duration
}

// Normalize applies defaults for unset values.
func (c ConnectionSpec) Normalize() ConnectionSpec {
	out := c
	if out.BaudRate <= 0 {
		out.BaudRate = 9600
	}
	if out.Timeout <= 0 {
		out.Timeout = time.Second
	}
	return out
}

// Opener establishes the transport for a connection spec. Injectable so
// tests can substitute an in-memory port.
type Opener func(spec ConnectionSpec) (Porter, error)

// DialSerial opens a real serial port for the given spec.
func DialSerial(spec ConnectionSpec) (Porter, error) {
	spec = spec.Normalize()

	port, err := serial.Open(spec.Port, &serial.Mode{BaudRate: spec.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", spec.Port, err)
	}
	return port, nil
}
