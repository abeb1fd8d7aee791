package goggles_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calibrate/internal/goggles"
	"github.com/banshee-data/calibrate/internal/mockdev"
)

// Drives a channel against the protocol simulator over an in-memory pipe,
// covering the same path a real run takes through the serial port.
func TestChannelAgainstMockDevice(t *testing.T) {
	r, w := io.Pipe()

	device := mockdev.New(nil)
	done := make(chan error, 1)
	go func() { done <- device.Run(r) }()

	c, err := goggles.Open(
		goggles.ConnectionSpec{Port: "pipe"},
		goggles.Bounds{Min: 20, Max: 200},
		goggles.WithOpener(func(goggles.ConnectionSpec) (goggles.Porter, error) { return w, nil }),
	)
	require.NoError(t, err)

	require.NoError(t, c.SetLevel(128))
	require.NoError(t, c.SetLevel(10)) // clamps to 20
	require.NoError(t, c.SetLevel(0))  // clamps to 20: soft floor applies to ordinary writes
	require.NoError(t, c.Close())

	require.NoError(t, <-done)

	sum := device.Summarize()
	assert.True(t, sum.EndedSafe, "device must end dark")
	assert.Equal(t, 0, sum.Invalid)

	var levels []int
	for _, cmd := range device.History() {
		levels = append(levels, cmd.Level)
	}
	assert.Equal(t, []int{0, 128, 20, 20, 0}, levels)
}
