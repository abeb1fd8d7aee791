package staircase

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseParams() Params {
	return Params{
		StartValue: 128,
		StepSizes:  []int{32, 16, 8, 4, 2, 1},
		NUp:        1,
		NDown:      1,
		NTrials:    6,
		StepType:   StepLinear,
		MinVal:     0,
		MaxVal:     255,
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"empty step sizes", func(p *Params) { p.StepSizes = nil }},
		{"zero step size", func(p *Params) { p.StepSizes = []int{32, 0} }},
		{"negative step size", func(p *Params) { p.StepSizes = []int{-4} }},
		{"n-up below one", func(p *Params) { p.NUp = 0 }},
		{"n-down below one", func(p *Params) { p.NDown = 0 }},
		{"trial count below one", func(p *Params) { p.NTrials = 0 }},
		{"start below min", func(p *Params) { p.StartValue = -1 }},
		{"start above max", func(p *Params) { p.StartValue = 300 }},
		{"unknown step type", func(p *Params) { p.StepType = "exp" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := baseParams()
			tt.mutate(&p)
			_, err := New(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}

	t.Run("valid params", func(t *testing.T) {
		t.Parallel()
		s, err := New(baseParams())
		require.NoError(t, err)
		level, ok := s.NextLevel()
		assert.True(t, ok)
		assert.Equal(t, 128, level)
	})
}

// Alternating responses flip the direction on every trial after the first,
// so six trials yield exactly five reversals.
func TestAlternatingResponses(t *testing.T) {
	t.Parallel()

	s, err := New(baseParams())
	require.NoError(t, err)

	responses := []bool{true, false, true, false, true, false}
	wantLevels := []int{128, 160, 128, 144, 136, 140}

	for i, r := range responses {
		level, ok := s.NextLevel()
		require.True(t, ok, "trial %d", i+1)
		assert.Equal(t, wantLevels[i], level, "trial %d", i+1)
		s.RecordResponse(r)
	}

	assert.Equal(t, 5, s.ReversalCount())
	assert.True(t, s.IsFinished())
	_, ok := s.NextLevel()
	assert.False(t, ok)

	// Reversal points are the pre-step intensities, in trial order.
	assert.Equal(t, []int{160, 128, 144, 136, 140}, s.ReversalIntensities())
}

func TestRunLengthRule(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.NUp = 1
	p.NDown = 3
	p.NTrials = 10
	s, err := New(p)
	require.NoError(t, err)

	// Three consecutive decrease-supporting responses are needed before a
	// downward step fires.
	s.RecordResponse(false)
	level, _ := s.NextLevel()
	assert.Equal(t, 128, level, "one response must not step")

	s.RecordResponse(false)
	level, _ = s.NextLevel()
	assert.Equal(t, 128, level, "two responses must not step")

	s.RecordResponse(false)
	level, _ = s.NextLevel()
	assert.Equal(t, 96, level, "third response completes the run")

	// A single increase-supporting response steps immediately with NUp=1.
	s.RecordResponse(true)
	level, _ = s.NextLevel()
	assert.Equal(t, 128, level)
	assert.Equal(t, 1, s.ReversalCount())
}

func TestInitialRule(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.NUp = 1
	p.NDown = 3
	p.NTrials = 10
	p.ApplyInitialRule = true
	s, err := New(p)
	require.NoError(t, err)

	// Before any reversal the effective rule is 1-up/1-down: a single
	// decrease-supporting response steps immediately.
	s.RecordResponse(false)
	level, _ := s.NextLevel()
	assert.Equal(t, 96, level)

	// First reversal switches to the configured rule.
	s.RecordResponse(true)
	level, _ = s.NextLevel()
	assert.Equal(t, 128, level)
	require.Equal(t, 1, s.ReversalCount())

	// Now three decrease-supporting responses are required again.
	s.RecordResponse(false)
	s.RecordResponse(false)
	level, _ = s.NextLevel()
	assert.Equal(t, 128, level)
	s.RecordResponse(false)
	level, _ = s.NextLevel()
	assert.Equal(t, 112, level)
}

func TestBoundaryClamping(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.StartValue = 250
	p.NTrials = 8
	s, err := New(p)
	require.NoError(t, err)

	// Repeated increases pin the intensity at the max without error.
	for i := 0; i < 4; i++ {
		s.RecordResponse(true)
	}
	level, _ := s.NextLevel()
	assert.Equal(t, 255, level)
	assert.Equal(t, 0, s.ReversalCount(), "clamped steps in one direction are not reversals")
}

// Invariants hold for arbitrary response sequences.
func TestRandomisedInvariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		p := baseParams()
		p.NTrials = 40
		p.NUp = 1 + rng.Intn(3)
		p.NDown = 1 + rng.Intn(3)
		p.ApplyInitialRule = rng.Intn(2) == 0
		s, err := New(p)
		require.NoError(t, err)

		for !s.IsFinished() {
			level, ok := s.NextLevel()
			require.True(t, ok)
			require.GreaterOrEqual(t, level, p.MinVal)
			require.LessOrEqual(t, level, p.MaxVal)

			s.RecordResponse(rng.Intn(2) == 0)
			require.LessOrEqual(t, s.ReversalCount(), s.TrialCount())
		}
		assert.Equal(t, p.NTrials, s.TrialCount())
	}
}

func TestFinishedNeverReverts(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.NTrials = 2
	s, err := New(p)
	require.NoError(t, err)

	s.RecordResponse(true)
	s.RecordResponse(false)
	require.True(t, s.IsFinished())

	s.RecordResponse(true)
	assert.True(t, s.IsFinished())
}

func TestEstimateThreshold(t *testing.T) {
	t.Parallel()

	t.Run("no reversals", func(t *testing.T) {
		t.Parallel()
		s, err := New(baseParams())
		require.NoError(t, err)
		_, ok := s.EstimateThreshold(6)
		assert.False(t, ok)
	})

	t.Run("mean of all and of last n", func(t *testing.T) {
		t.Parallel()
		s, err := New(baseParams())
		require.NoError(t, err)
		for _, r := range []bool{true, false, true, false, true, false} {
			s.RecordResponse(r)
		}
		// Reversal points: 160, 128, 144, 136, 140.

		got, ok := s.EstimateThreshold(0)
		require.True(t, ok)
		assert.InDelta(t, 141.6, got, 0.01)

		got, ok = s.EstimateThreshold(2)
		require.True(t, ok)
		assert.InDelta(t, 138.0, got, 0.01)

		// Asking for more reversals than exist falls back to all of them.
		got, ok = s.EstimateThreshold(50)
		require.True(t, ok)
		assert.InDelta(t, 141.6, got, 0.01)
	})
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	s, err := New(baseParams())
	require.NoError(t, err)
	for _, r := range []bool{true, false, true, false, true, false} {
		s.RecordResponse(r)
	}

	sum := s.Snapshot(0)
	assert.Equal(t, 6, sum.Trials)
	assert.Equal(t, []int{160, 128, 144, 136, 140}, sum.Reversals)
	assert.True(t, sum.Finished)
	require.True(t, sum.HasThreshold)
	assert.InDelta(t, 141.6, sum.Threshold, 0.01)
	assert.Greater(t, sum.Spread, 0.0)
}

func TestLogAndDecibelScalesShrinkMonotonically(t *testing.T) {
	t.Parallel()

	for _, st := range []StepType{StepLog, StepDecibel} {
		p := baseParams()
		p.StepType = st
		p.StepSizes = []int{2, 1}
		p.StartValue = 10
		p.NTrials = 4
		s, err := New(p)
		require.NoError(t, err)

		s.RecordResponse(true)
		level, _ := s.NextLevel()
		assert.Greater(t, level, 10, "step type %s must move upward", st)
		assert.LessOrEqual(t, level, 255)

		s.RecordResponse(false)
		level, _ = s.NextLevel()
		assert.GreaterOrEqual(t, level, 0)
	}
}
