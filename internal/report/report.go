// Package report renders a stored calibration session as a standalone HTML
// chart: the intensity track across trials with reversal points marked and
// the estimated threshold overlaid.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/calibrate/internal/triallog"
)

// Render writes the chart for one session to w.
func Render(w io.Writer, sess *triallog.Session, trials []triallog.Trial) error {
	if len(trials) == 0 {
		return fmt.Errorf("session %s has no trials", sess.ID)
	}

	xAxis := make([]string, len(trials))
	track := make([]opts.LineData, len(trials))
	var reversals []opts.ScatterData

	for i, t := range trials {
		xAxis[i] = strconv.Itoa(t.TrialNumber)
		track[i] = opts.LineData{Value: t.Level}

		// A reversal landed on trial i when the running count grew by the
		// next trial (or, for the last trial, in the session total).
		after := sess.TotalReversals
		if i+1 < len(trials) {
			after = trials[i+1].ReversalsSoFar
		}
		if after > t.ReversalsSoFar {
			reversals = append(reversals, opts.ScatterData{
				Value: []interface{}{xAxis[i], t.Level},
			})
		}
	}

	subtitle := fmt.Sprintf("participant=%s session=%s trials=%d reversals=%d",
		sess.Participant, sess.Label, sess.TotalTrials, sess.TotalReversals)
	if sess.HasThreshold {
		subtitle += fmt.Sprintf(" threshold=%.2f", sess.Threshold)
	}
	if sess.Aborted {
		subtitle += " (aborted)"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Goggle Calibration", Width: "1000px", Height: "600px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Staircase intensity track", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "trial"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "level", Min: 0, Max: 255}),
	)
	line.SetXAxis(xAxis).AddSeries("level", track)

	if sess.HasThreshold {
		threshold := make([]opts.LineData, len(trials))
		for i := range threshold {
			threshold[i] = opts.LineData{Value: sess.Threshold}
		}
		line.AddSeries("threshold", threshold)
	}

	if len(reversals) > 0 {
		scatter := charts.NewScatter()
		scatter.SetXAxis(xAxis).AddSeries("reversal", reversals)
		line.Overlap(scatter)
	}

	return line.Render(w)
}
