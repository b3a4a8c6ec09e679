package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreCellularInRange(t *testing.T) {
	for rsrq := MinRSRQ; rsrq <= MaxRSRQ; rsrq += 1.0 {
		for sinr := MinSINR; sinr <= MaxSINR; sinr += 5.0 {
			for cqi := MinCQI; cqi <= MaxCQI; cqi += 3 {
				score, err := ScoreCellular(rsrq, sinr, cqi)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, score, 0)
				assert.LessOrEqual(t, score, 100)
			}
		}
	}
}

func TestScoreCellularKnownValues(t *testing.T) {
	// 0.5*30 + 0.3*100 - 0.2*3 = 44.4
	score, err := ScoreCellular(-3, 30, 15)
	require.NoError(t, err)
	assert.Equal(t, 44, score)

	// 0.5*-10 + 0 - 0.2*20 = -9, clamped to 0
	score, err = ScoreCellular(-20, -10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestScoreCellularRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		rsrq   float64
		sinr   float64
		cqi    int
		metric string
	}{
		{"rsrq too low", -25, 10, 8, "rsrq"},
		{"rsrq too high", -2, 10, 8, "rsrq"},
		{"sinr too high", -10, 40, 8, "sinr"},
		{"sinr too low", -10, -11, 8, "sinr"},
		{"cqi negative", -10, 10, -1, "cqi"},
		{"cqi too high", -10, 10, 16, "cqi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScoreCellular(tt.rsrq, tt.sinr, tt.cqi)
			require.Error(t, err)

			var rangeErr *RangeError
			require.ErrorAs(t, err, &rangeErr)
			assert.Equal(t, tt.metric, rangeErr.Metric)
		})
	}
}

func TestScoreCellularMonotonicity(t *testing.T) {
	// Increasing SINR never decreases the score.
	prev := -1
	for sinr := MinSINR; sinr <= MaxSINR; sinr++ {
		score, err := ScoreCellular(-10, sinr, 8)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}

	// Increasing CQI never decreases the score.
	prev = -1
	for cqi := MinCQI; cqi <= MaxCQI; cqi++ {
		score, err := ScoreCellular(-10, 10, cqi)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}

	// RSRQ closer to zero (weaker penalty) never decreases the score.
	prev = -1
	for rsrq := MinRSRQ; rsrq <= MaxRSRQ; rsrq++ {
		score, err := ScoreCellular(rsrq, 10, 8)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}
}

func TestScoreCellularEnhanced(t *testing.T) {
	base, err := ScoreCellular(-8, 20, 12)
	require.NoError(t, err)

	// Full-reference speeds: 0.5*base + 0.3*100 + 0.2*100
	score, err := ScoreCellularEnhanced(-8, 20, 12, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, clampScore(float64(base)*0.5+30+20), score)

	// Speeds above the reference are capped, not extrapolated.
	capped, err := ScoreCellularEnhanced(-8, 20, 12, 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, score, capped)

	// Propagates range errors from the base score.
	_, err = ScoreCellularEnhanced(-25, 20, 12, 10, 10)
	require.Error(t, err)
}

func TestScoreWifi(t *testing.T) {
	// 0.5*100 + 0.3*100 + 0.2*100 = 100
	assert.Equal(t, 100, ScoreWifi(100, 50, 0))

	// Zero speeds, zero latency: latency term alone contributes 20.
	assert.Equal(t, 20, ScoreWifi(0, 0, 0))

	// Latency at or beyond 200 ms floors the latency term at 0.
	assert.Equal(t, 0, ScoreWifi(0, 0, 200))
	assert.Equal(t, 0, ScoreWifi(0, 0, 500))

	// 0.5*50 + 0.3*50 + 0.2*50 = 50
	assert.Equal(t, 50, ScoreWifi(50, 25, 100))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, TierExcellent},
		{80, TierExcellent},
		{79, TierGood},
		{60, TierGood},
		{59, TierFair},
		{40, TierFair},
		{39, TierPoor},
		{20, TierPoor},
		{19, TierVeryPoor},
		{0, TierVeryPoor},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %d", tt.score)
	}
}

func TestDiagnosticCellular(t *testing.T) {
	// Poor score with severe interference and weak signal triggers both
	// advice clauses.
	msg := DiagnosticCellular(10, -18, -5, 2)
	assert.True(t, strings.HasSuffix(msg, "."))
	assert.Contains(t, msg, "very poor")
	assert.Contains(t, msg, "weak")
	assert.Contains(t, msg, "severe")
	assert.Contains(t, msg, "away from sources of interference")
	assert.Contains(t, msg, "closer to a cell tower")

	// Excellent score gets the reinforcement clause and no advice.
	msg = DiagnosticCellular(85, -5, 25, 14)
	assert.Contains(t, msg, "excellent")
	assert.Contains(t, msg, "great spot")
	assert.NotContains(t, msg, "consider")

	// Mid-range score gets neither advice nor reinforcement.
	msg = DiagnosticCellular(55, -9, 5, 9)
	assert.NotContains(t, msg, "consider")
	assert.NotContains(t, msg, "great spot")
	assert.Contains(t, msg, "fair")
	assert.Contains(t, msg, "strong")
	assert.Contains(t, msg, "some interference")
	assert.Contains(t, msg, "channel quality is good")
}

func TestDiagnosticWifi(t *testing.T) {
	msg := DiagnosticWifi(90, 200, 100, 10)
	assert.True(t, strings.HasSuffix(msg, "."))
	assert.Contains(t, msg, "excellent")
	assert.Contains(t, msg, "download speed is fast")
	assert.Contains(t, msg, "latency is low")
	assert.Contains(t, msg, "great spot")

	msg = DiagnosticWifi(15, 1, 0.5, 300)
	assert.Contains(t, msg, "very poor")
	assert.Contains(t, msg, "slow")
	assert.Contains(t, msg, "latency is high")
	assert.Contains(t, msg, "closer to the access point")
}
