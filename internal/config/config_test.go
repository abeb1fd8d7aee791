package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	return cfg
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "config", "experiment_config.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	// The file now exists and loads to the same values.
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Errorf("reloaded config differs (-first +second):\n%s", diff)
	}

	// Configured directories were created.
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing serial port", func(c *Config) { c.Hardware.SerialPort = "" }},
		{"zero baud rate", func(c *Config) { c.Hardware.BaudRate = 0 }},
		{"brightness min out of range", func(c *Config) { c.Hardware.BrightnessMin = -1 }},
		{"brightness max out of range", func(c *Config) { c.Hardware.BrightnessMax = 300 }},
		{"min not below max", func(c *Config) { c.Hardware.BrightnessMin = 255; c.Hardware.BrightnessMax = 255 }},
		{"start outside brightness range", func(c *Config) { c.Hardware.BrightnessMin = 100; c.Staircase.StartValue = 50 }},
		{"empty step sizes", func(c *Config) { c.Staircase.StepSizes = nil }},
		{"step below one", func(c *Config) { c.Staircase.StepSizes = []int{16, 0} }},
		{"n_up below one", func(c *Config) { c.Staircase.NUp = 0 }},
		{"n_down below one", func(c *Config) { c.Staircase.NDown = 0 }},
		{"n_trials below one", func(c *Config) { c.Staircase.NTrials = 0 }},
		{"bad step type", func(c *Config) { c.Staircase.StepType = "quadratic" }},
		{"negative pre-stimulus delay", func(c *Config) { c.Timing.PreStimulusDelay = -1 }},
		{"zero stimulus duration", func(c *Config) { c.Timing.StimulusDuration = 0 }},
		{"negative inter-trial interval", func(c *Config) { c.Timing.InterTrialInterval = -1 }},
		{"negative threshold reversals", func(c *Config) { c.Data.ThresholdReversals = -1 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestStaircaseParams(t *testing.T) {
	t.Parallel()
	cfg := Default()

	p := cfg.StaircaseParams(0)
	assert.Equal(t, cfg.Staircase.StartValue, p.StartValue, "zero keeps the configured start")
	assert.Equal(t, cfg.Hardware.BrightnessMin, p.MinVal)
	assert.Equal(t, cfg.Hardware.BrightnessMax, p.MaxVal)

	p = cfg.StaircaseParams(77)
	assert.Equal(t, 77, p.StartValue, "operator-entered start overrides the config")
}

func TestConnectionSpec(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Hardware.SerialTimeout = 2.5

	spec := cfg.ConnectionSpec()
	assert.Equal(t, cfg.Hardware.SerialPort, spec.Port)
	assert.Equal(t, cfg.Hardware.BaudRate, spec.BaudRate)
	assert.Equal(t, "2.5s", spec.Timeout.String())
}
