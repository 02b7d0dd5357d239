package analyst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateScoresDirections(t *testing.T) {
	tr := NewTracker()
	tr.RecordPredictions(map[string]map[string]string{
		"warren": {
			"AAPL": "up",   // close > open: correct
			"MSFT": "down", // close > open: incorrect
			"NVDA": "down", // close < open: correct
		},
	})

	open := map[string]float64{"AAPL": 100, "MSFT": 200, "NVDA": 50}
	close := map[string]float64{"AAPL": 110, "MSFT": 210, "NVDA": 45}
	evals := tr.EvaluatePredictions(open, close, "2024-01-05")

	ev, ok := evals["warren"]
	require.True(t, ok)
	assert.Equal(t, 3, ev.Total)
	assert.Equal(t, 2, ev.Correct)
	require.NotNil(t, ev.WinRate)
	assert.InDelta(t, 2.0/3.0, *ev.WinRate, 1e-9)
	assert.Equal(t, SideStats{N: 1, Win: 1}, ev.Bull)
	assert.Equal(t, SideStats{N: 2, Win: 1}, ev.Bear)
	assert.Len(t, ev.Signals, 3)
}

func TestEvaluateExcludesUnknownFromWinRate(t *testing.T) {
	tr := NewTracker()
	tr.RecordPredictions(map[string]map[string]string{
		"cathie": {
			"AAPL": "up", // priced, correct
			"MSFT": "up", // no close price: unknown
		},
	})

	open := map[string]float64{"AAPL": 100, "MSFT": 200}
	close := map[string]float64{"AAPL": 110}
	ev := tr.EvaluatePredictions(open, close, "2024-01-05")["cathie"]

	assert.Equal(t, 1, ev.Total, "unknown excluded from the denominator")
	assert.Equal(t, 1, ev.Correct)
	assert.Equal(t, 1, ev.Unknown)
	require.NotNil(t, ev.WinRate)
	assert.InDelta(t, 1.0, *ev.WinRate, 1e-9)
	// the unknown still appears in the audit trail
	assert.Equal(t, SideStats{N: 2, Win: 1, Unknown: 1}, ev.Bull)
	var outcomes []Outcome
	for _, s := range ev.Signals {
		outcomes = append(outcomes, s.Outcome)
	}
	assert.Contains(t, outcomes, OutcomeUnknown)
}

func TestEvaluateHoldsNotScored(t *testing.T) {
	tr := NewTracker()
	tr.RecordPredictions(map[string]map[string]string{
		"ben": {"AAPL": "neutral", "MSFT": "sideways"},
	})

	open := map[string]float64{"AAPL": 100, "MSFT": 200}
	close := map[string]float64{"AAPL": 110, "MSFT": 210}
	ev := tr.EvaluatePredictions(open, close, "2024-01-05")["ben"]

	assert.Equal(t, 0, ev.Total)
	assert.Equal(t, 2, ev.Holds, "unrecognized directions fall back to hold")
	assert.Nil(t, ev.WinRate, "nothing scored means no win rate")
	for _, s := range ev.Signals {
		assert.Equal(t, OutcomeNotScored, s.Outcome)
	}
}

func TestRecordPredictionsOverwrites(t *testing.T) {
	tr := NewTracker()
	tr.RecordPredictions(map[string]map[string]string{"a": {"AAPL": "up"}})
	tr.RecordPredictions(map[string]map[string]string{"b": {"MSFT": "down"}})

	open := map[string]float64{"AAPL": 100, "MSFT": 200}
	close := map[string]float64{"AAPL": 110, "MSFT": 190}
	evals := tr.EvaluatePredictions(open, close, "2024-01-05")

	assert.NotContains(t, evals, "a")
	assert.Contains(t, evals, "b")
}

func TestClearDailyPredictions(t *testing.T) {
	tr := NewTracker()
	tr.RecordPredictions(map[string]map[string]string{"a": {"AAPL": "up"}})
	tr.ClearDailyPredictions()
	assert.Empty(t, tr.EvaluatePredictions(nil, nil, "2024-01-05"))
}

func TestEvaluatePMDecisions(t *testing.T) {
	tr := NewTracker()
	open := map[string]float64{"AAPL": 100, "MSFT": 200, "NVDA": 50, "TSLA": 300}
	close := map[string]float64{"AAPL": 110, "MSFT": 190, "NVDA": 45, "TSLA": 310}

	ev := tr.EvaluatePMDecisions(map[string]string{
		"AAPL": "buy",   // long, correct
		"MSFT": "short", // short, correct
		"NVDA": "cover", // long, incorrect
		"TSLA": "hold",  // not scored
	}, open, close, "2024-01-05")

	assert.Equal(t, PMAnalystID, ev.AnalystID)
	assert.Equal(t, 3, ev.Total)
	assert.Equal(t, 2, ev.Correct)
	assert.Equal(t, 1, ev.Holds)
	require.NotNil(t, ev.WinRate)
	assert.InDelta(t, 2.0/3.0, *ev.WinRate, 1e-9)
}

func TestMapVocabularies(t *testing.T) {
	cases := []struct {
		in   string
		want Signal
	}{
		{"up", SignalLong},
		{"down", SignalShort},
		{"neutral", SignalHold},
		{"garbage", SignalHold},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mapDirection(tc.in), "direction %q", tc.in)
	}

	actions := []struct {
		in   string
		want Signal
	}{
		{"buy", SignalLong},
		{"cover", SignalLong},
		{"sell", SignalShort},
		{"short", SignalShort},
		{"rebalance", SignalHold},
	}
	for _, tc := range actions {
		assert.Equal(t, tc.want, mapAction(tc.in), "action %q", tc.in)
	}
}
