// Package staircase implements an adaptive n-up/m-down staircase procedure
// for estimating a subject's discomfort threshold. The engine is pure state:
// it decides the next stimulus intensity from prior binary responses, detects
// direction reversals, and estimates the threshold from reversal points. It
// performs no I/O and is deterministic for a given response sequence.
package staircase

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidParams is wrapped by all parameter validation failures from New.
var ErrInvalidParams = errors.New("invalid staircase parameters")

// Direction of an applied intensity step.
type Direction int

const (
	// Undefined means no step has been applied yet.
	Undefined Direction = iota
	Increase
	Decrease
)

func (d Direction) String() string {
	switch d {
	case Increase:
		return "increase"
	case Decrease:
		return "decrease"
	default:
		return "undefined"
	}
}

// StepType selects how a step magnitude is applied to the current intensity.
type StepType string

const (
	StepLinear  StepType = "lin"
	StepLog     StepType = "log"
	StepDecibel StepType = "db"
)

// stepScale applies one step of the given magnitude in the given direction.
// Linear scaling is the validated transform; log and db are placeholder
// strategies behind the same contract (monotonic shrinking magnitudes) until
// their exact transforms are confirmed against reference data.
type stepScale func(intensity float64, step int, dir Direction) float64

func linearScale(intensity float64, step int, dir Direction) float64 {
	if dir == Decrease {
		return intensity - float64(step)
	}
	return intensity + float64(step)
}

func logScale(intensity float64, step int, dir Direction) float64 {
	if intensity <= 0 {
		return linearScale(intensity, step, dir)
	}
	exp := float64(step)
	if dir == Decrease {
		exp = -exp
	}
	return intensity * math.Pow(10, exp)
}

func dbScale(intensity float64, step int, dir Direction) float64 {
	if intensity <= 0 {
		return linearScale(intensity, step, dir)
	}
	exp := float64(step) / 20
	if dir == Decrease {
		exp = -exp
	}
	return intensity * math.Pow(10, exp)
}

// Params configures a staircase run.
type Params struct {
	// StartValue is the first intensity to test. Must lie in [MinVal, MaxVal].
	StartValue int
	// StepSizes are the step magnitudes, consumed in order: the active step
	// advances to the next (smaller) entry at each reversal and stays at the
	// last entry once exhausted.
	StepSizes []int
	// NUp is the run length of increase-supporting responses that triggers an
	// upward step; NDown the same for downward.
	NUp   int
	NDown int
	// NTrials is the minimum number of trials before the staircase finishes.
	NTrials int
	// StepType selects the scaling of applied steps ("lin", "log", "db").
	StepType StepType
	// MinVal and MaxVal are the inclusive intensity bounds.
	MinVal int
	MaxVal int
	// ApplyInitialRule forces a 1-up/1-down rule until the first reversal so
	// the staircase reaches the threshold region quickly.
	ApplyInitialRule bool
}

func (p Params) validate() error {
	if len(p.StepSizes) == 0 {
		return fmt.Errorf("%w: step sizes cannot be empty", ErrInvalidParams)
	}
	for i, s := range p.StepSizes {
		if s < 1 {
			return fmt.Errorf("%w: step size %d at index %d must be >= 1", ErrInvalidParams, s, i)
		}
	}
	if p.NUp < 1 {
		return fmt.Errorf("%w: n-up must be >= 1, got %d", ErrInvalidParams, p.NUp)
	}
	if p.NDown < 1 {
		return fmt.Errorf("%w: n-down must be >= 1, got %d", ErrInvalidParams, p.NDown)
	}
	if p.NTrials < 1 {
		return fmt.Errorf("%w: trial count must be >= 1, got %d", ErrInvalidParams, p.NTrials)
	}
	if p.StartValue < p.MinVal || p.StartValue > p.MaxVal {
		return fmt.Errorf("%w: start value %d outside [%d, %d]", ErrInvalidParams, p.StartValue, p.MinVal, p.MaxVal)
	}
	switch p.StepType {
	case StepLinear, StepLog, StepDecibel, "":
	default:
		return fmt.Errorf("%w: step type must be lin, log, or db, got %q", ErrInvalidParams, p.StepType)
	}
	return nil
}

// Staircase holds the state of one adaptive run. Not safe for concurrent use;
// the control loop drives it strictly sequentially.
type Staircase struct {
	params Params
	scale  stepScale

	intensity int
	stepIndex int

	lastDirection Direction
	runDirection  Direction
	runLength     int

	reversals []int
	trials    int
}

// New validates the parameters and returns a staircase positioned at the
// start value.
func New(p Params) (*Staircase, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	scale := linearScale
	switch p.StepType {
	case StepLog:
		scale = logScale
	case StepDecibel:
		scale = dbScale
	}

	return &Staircase{
		params:    p,
		scale:     scale,
		intensity: p.StartValue,
	}, nil
}

// NextLevel returns the intensity to test in the next trial. The second
// return value is false once the run has finished and no further trial
// should be presented.
func (s *Staircase) NextLevel() (int, bool) {
	if s.IsFinished() {
		return 0, false
	}
	return s.intensity, true
}

// RecordResponse feeds one trial's binary response into the staircase.
//
// positive means the response supports moving toward increased intensity.
// For the discomfort-threshold procedure that is the "comfortable" response:
// the subject tolerated the level, so the staircase probes upward; an
// uncomfortable response supports backing off (positive=false).
func (s *Staircase) RecordResponse(positive bool) {
	up, down := s.activeRule()

	dir := Decrease
	if positive {
		dir = Increase
	}
	if s.runDirection == dir {
		s.runLength++
	} else {
		s.runDirection = dir
		s.runLength = 1
	}

	trigger := down
	if dir == Increase {
		trigger = up
	}

	if s.runLength >= trigger {
		pre := s.intensity
		s.applyStep(dir)
		s.runLength = 0

		if s.lastDirection != Undefined && s.lastDirection != dir {
			// Direction changed: record the pre-step intensity as a reversal
			// point and move to the next (smaller) step size.
			s.reversals = append(s.reversals, pre)
			if s.stepIndex < len(s.params.StepSizes)-1 {
				s.stepIndex++
			}
		}
		s.lastDirection = dir
	}

	s.trials++
}

// activeRule returns the effective up/down run-length thresholds. While the
// initial rule is in force (no reversal yet) the staircase behaves as
// 1-up/1-down regardless of the configured counts.
func (s *Staircase) activeRule() (up, down int) {
	if s.params.ApplyInitialRule && len(s.reversals) == 0 {
		return 1, 1
	}
	return s.params.NUp, s.params.NDown
}

// applyStep moves the intensity one step in dir, clamped to the configured
// bounds. Clamping at a boundary suppresses the intensity change but counters
// advance normally.
func (s *Staircase) applyStep(dir Direction) {
	step := s.params.StepSizes[s.stepIndex]
	next := int(math.Round(s.scale(float64(s.intensity), step, dir)))
	if next < s.params.MinVal {
		next = s.params.MinVal
	}
	if next > s.params.MaxVal {
		next = s.params.MaxVal
	}
	s.intensity = next
}

// ReversalCount returns the number of reversals detected so far.
func (s *Staircase) ReversalCount() int {
	return len(s.reversals)
}

// ReversalIntensities returns a copy of the recorded reversal points in
// trial order.
func (s *Staircase) ReversalIntensities() []int {
	out := make([]int, len(s.reversals))
	copy(out, s.reversals)
	return out
}

// TrialCount returns the number of responses recorded.
func (s *Staircase) TrialCount() int {
	return s.trials
}

// PlannedTrials returns the configured minimum trial count.
func (s *Staircase) PlannedTrials() int {
	return s.params.NTrials
}

// IsFinished reports whether the minimum trial count has been reached.
func (s *Staircase) IsFinished() bool {
	return s.trials >= s.params.NTrials
}

// EstimateThreshold returns the arithmetic mean of the last lastN reversal
// intensities. If lastN is zero or fewer reversals exist, all reversals are
// averaged. The second return value is false when no reversal has occurred.
func (s *Staircase) EstimateThreshold(lastN int) (float64, bool) {
	if len(s.reversals) == 0 {
		return 0, false
	}

	points := s.reversals
	if lastN > 0 && len(points) > lastN {
		points = points[len(points)-lastN:]
	}

	vals := make([]float64, len(points))
	for i, v := range points {
		vals[i] = float64(v)
	}
	return stat.Mean(vals, nil), true
}

// Summary is the terminal snapshot of a run, persisted by the trial logger.
type Summary struct {
	StartValue int
	MinVal     int
	MaxVal     int
	Trials     int
	Reversals  []int
	// Threshold is the mean of the reversal points used for the estimate;
	// HasThreshold is false when no reversal occurred.
	Threshold    float64
	HasThreshold bool
	// Spread is the standard deviation of the same reversal points.
	Spread   float64
	Finished bool
}

// Snapshot summarises the run for persistence, estimating the threshold from
// the last lastN reversals (all of them when lastN is zero).
func (s *Staircase) Snapshot(lastN int) Summary {
	sum := Summary{
		StartValue: s.params.StartValue,
		MinVal:     s.params.MinVal,
		MaxVal:     s.params.MaxVal,
		Trials:     s.trials,
		Reversals:  s.ReversalIntensities(),
		Finished:   s.IsFinished(),
	}

	if t, ok := s.EstimateThreshold(lastN); ok {
		sum.Threshold = t
		sum.HasThreshold = true

		points := s.reversals
		if lastN > 0 && len(points) > lastN {
			points = points[len(points)-lastN:]
		}
		if len(points) > 1 {
			vals := make([]float64, len(points))
			for i, v := range points {
				vals[i] = float64(v)
			}
			sum.Spread = stat.StdDev(vals, nil)
		}
	}
	return sum
}
