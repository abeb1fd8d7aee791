// Package config loads and validates the calibration run configuration.
// A missing config file is created with defaults so a fresh install runs
// against documented values rather than failing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/calibrate/internal/goggles"
	"github.com/banshee-data/calibrate/internal/staircase"
)

// ErrInvalid is wrapped by all validation failures.
var ErrInvalid = errors.New("invalid configuration")

// DefaultRelPath is the config location relative to the user's home
// directory.
const DefaultRelPath = "Calibration/config/experiment_config.json"

const maxFileSize = 1 << 20 // 1MB safety cap on config reads

// Hardware describes the serial link to the goggle controller.
type Hardware struct {
	SerialPort    string  `json:"serial_port"`
	BaudRate      int     `json:"baud_rate"`
	BrightnessMin int     `json:"brightness_min"`
	BrightnessMax int     `json:"brightness_max"`
	SerialTimeout float64 `json:"serial_timeout"` // seconds
}

// Staircase holds the adaptive procedure parameters.
type Staircase struct {
	StartValue       int    `json:"start_value"`
	StepSizes        []int  `json:"step_sizes"`
	NUp              int    `json:"n_up"`
	NDown            int    `json:"n_down"`
	NTrials          int    `json:"n_trials"`
	StepType         string `json:"step_type"`
	ApplyInitialRule bool   `json:"apply_initial_rule"`
}

// Timing controls the per-trial schedule, all in seconds. The channel never
// times anything itself; these drive the control loop.
type Timing struct {
	PreStimulusDelay   float64 `json:"pre_stimulus_delay"`
	StimulusDuration   float64 `json:"stimulus_duration"`
	InterTrialInterval float64 `json:"inter_trial_interval"`
	ResponseTimeout    float64 `json:"response_timeout"` // 0 = use inter-trial interval
}

// Paths locates the data and log directories.
type Paths struct {
	DataDir string `json:"data_directory"`
	LogDir  string `json:"log_directory"`
}

// Data controls persistence behaviour.
type Data struct {
	ThresholdReversals int  `json:"threshold_reversals"`
	AutoSave           bool `json:"auto_save"`
}

// Display controls the operator UI.
type Display struct {
	ShowInstructions bool `json:"show_instructions"`
	ShowTrialInfo    bool `json:"show_trial_info"`
}

// Config is the root run configuration.
type Config struct {
	Hardware  Hardware  `json:"hardware"`
	Staircase Staircase `json:"staircase"`
	Timing    Timing    `json:"timing"`
	Paths     Paths     `json:"paths"`
	Data      Data      `json:"data"`
	Display   Display   `json:"display"`
}

// Default returns the documented default configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Hardware: Hardware{
			SerialPort:    "/dev/tty.usbserial-0001",
			BaudRate:      9600,
			BrightnessMin: 0,
			BrightnessMax: 255,
			SerialTimeout: 1.0,
		},
		Staircase: Staircase{
			StartValue:       128,
			StepSizes:        []int{32, 16, 8, 4, 2, 1},
			NUp:              1,
			NDown:            3,
			NTrials:          30,
			StepType:         "lin",
			ApplyInitialRule: false,
		},
		Timing: Timing{
			PreStimulusDelay:   6.0,
			StimulusDuration:   2.0,
			InterTrialInterval: 6.0,
			ResponseTimeout:    0,
		},
		Paths: Paths{
			DataDir: filepath.Join(home, "Calibration", "data"),
			LogDir:  filepath.Join(home, "Calibration", "logs"),
		},
		Data: Data{
			ThresholdReversals: 6,
			AutoSave:           true,
		},
		Display: Display{
			ShowInstructions: true,
			ShowTrialInfo:    true,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, DefaultRelPath)
}

// Load reads and validates the configuration at path, creating a default
// file first when none exists. Configured directories are created.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ErrInvalid, ext)
	}

	if _, err := os.Stat(cleanPath); errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(cleanPath); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes", ErrInvalid, info.Size())
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config JSON: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return cfg, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Validate checks every field against its documented range.
func (c *Config) Validate() error {
	hw := c.Hardware
	if hw.SerialPort == "" {
		return fmt.Errorf("%w: serial_port is required", ErrInvalid)
	}
	if hw.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate must be positive, got %d", ErrInvalid, hw.BaudRate)
	}
	if hw.BrightnessMin < 0 || hw.BrightnessMin > 255 {
		return fmt.Errorf("%w: brightness_min must be 0-255, got %d", ErrInvalid, hw.BrightnessMin)
	}
	if hw.BrightnessMax < 0 || hw.BrightnessMax > 255 {
		return fmt.Errorf("%w: brightness_max must be 0-255, got %d", ErrInvalid, hw.BrightnessMax)
	}
	if hw.BrightnessMin >= hw.BrightnessMax {
		return fmt.Errorf("%w: brightness_min must be less than brightness_max", ErrInvalid)
	}

	sc := c.Staircase
	if sc.StartValue < hw.BrightnessMin || sc.StartValue > hw.BrightnessMax {
		return fmt.Errorf("%w: start_value %d outside brightness range [%d, %d]",
			ErrInvalid, sc.StartValue, hw.BrightnessMin, hw.BrightnessMax)
	}
	if len(sc.StepSizes) == 0 {
		return fmt.Errorf("%w: step_sizes cannot be empty", ErrInvalid)
	}
	for _, s := range sc.StepSizes {
		if s < 1 {
			return fmt.Errorf("%w: all step_sizes must be >= 1", ErrInvalid)
		}
	}
	if sc.NUp < 1 {
		return fmt.Errorf("%w: n_up must be >= 1, got %d", ErrInvalid, sc.NUp)
	}
	if sc.NDown < 1 {
		return fmt.Errorf("%w: n_down must be >= 1, got %d", ErrInvalid, sc.NDown)
	}
	if sc.NTrials < 1 {
		return fmt.Errorf("%w: n_trials must be >= 1, got %d", ErrInvalid, sc.NTrials)
	}
	switch sc.StepType {
	case "lin", "log", "db":
	default:
		return fmt.Errorf("%w: step_type must be lin, log, or db, got %q", ErrInvalid, sc.StepType)
	}

	tm := c.Timing
	if tm.PreStimulusDelay < 0 {
		return fmt.Errorf("%w: pre_stimulus_delay must be >= 0", ErrInvalid)
	}
	if tm.StimulusDuration <= 0 {
		return fmt.Errorf("%w: stimulus_duration must be > 0", ErrInvalid)
	}
	if tm.InterTrialInterval < 0 {
		return fmt.Errorf("%w: inter_trial_interval must be >= 0", ErrInvalid)
	}
	if tm.ResponseTimeout < 0 {
		return fmt.Errorf("%w: response_timeout must be >= 0", ErrInvalid)
	}

	if c.Data.ThresholdReversals < 0 {
		return fmt.Errorf("%w: threshold_reversals must be >= 0", ErrInvalid)
	}

	return nil
}

// StaircaseParams maps the config onto engine parameters, overriding the
// start value when startValue is positive (operator-entered per session).
func (c *Config) StaircaseParams(startValue int) staircase.Params {
	sc := c.Staircase
	if startValue <= 0 {
		startValue = sc.StartValue
	}
	return staircase.Params{
		StartValue:       startValue,
		StepSizes:        sc.StepSizes,
		NUp:              sc.NUp,
		NDown:            sc.NDown,
		NTrials:          sc.NTrials,
		StepType:         staircase.StepType(sc.StepType),
		MinVal:           c.Hardware.BrightnessMin,
		MaxVal:           c.Hardware.BrightnessMax,
		ApplyInitialRule: sc.ApplyInitialRule,
	}
}

// ConnectionSpec maps the hardware section onto the channel's transport spec.
func (c *Config) ConnectionSpec() goggles.ConnectionSpec {
	return goggles.ConnectionSpec{
		Port:     c.Hardware.SerialPort,
		BaudRate: c.Hardware.BaudRate,
		Timeout:  time.Duration(c.Hardware.SerialTimeout * float64(time.Second)),
	}
}

// Bounds maps the brightness range onto the channel's soft clamp range.
func (c *Config) Bounds() goggles.Bounds {
	return goggles.Bounds{Min: c.Hardware.BrightnessMin, Max: c.Hardware.BrightnessMax}
}
