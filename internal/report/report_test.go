package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calibrate/internal/triallog"
)

func testSession() (*triallog.Session, []triallog.Trial) {
	sess := &triallog.Session{
		ID:             "abc",
		Participant:    "P001",
		Label:          "s1",
		TotalTrials:    4,
		TotalReversals: 2,
		Threshold:      144,
		HasThreshold:   true,
		Finished:       true,
	}
	trials := []triallog.Trial{
		{TrialNumber: 1, Level: 128, Uncomfortable: false, ReversalsSoFar: 0},
		{TrialNumber: 2, Level: 160, Uncomfortable: true, ReversalsSoFar: 0},
		{TrialNumber: 3, Level: 128, Uncomfortable: false, ReversalsSoFar: 1},
		{TrialNumber: 4, Level: 144, Uncomfortable: true, ReversalsSoFar: 2},
	}
	return sess, trials
}

func TestRender(t *testing.T) {
	t.Parallel()

	sess, trials := testSession()
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sess, trials))

	html := buf.String()
	assert.True(t, strings.Contains(html, "Staircase intensity track"))
	assert.True(t, strings.Contains(html, "participant=P001"))
	assert.True(t, strings.Contains(html, "threshold=144.00"))
	assert.True(t, strings.Contains(html, "reversal"), "reversal series present")
}

func TestRenderEmptySession(t *testing.T) {
	t.Parallel()

	sess, _ := testSession()
	var buf bytes.Buffer
	err := Render(&buf, sess, nil)
	assert.Error(t, err)
}
