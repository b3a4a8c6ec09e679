// Package quality converts raw radio and throughput metrics into a
// normalized 0-100 quality score, classifies scores into tiers and renders
// human-readable diagnostics. All functions are pure.
package quality

import (
	"fmt"
	"math"
	"strings"
)

// Valid input domains for cellular radio metrics.
const (
	MinRSRQ = -20.0
	MaxRSRQ = -3.0
	MinSINR = -10.0
	MaxSINR = 30.0
	MinCQI  = 0
	MaxCQI  = 15
)

// Reference throughput values used to scale speed contributions.
const (
	downloadReferenceMbps = 100.0
	uploadReferenceMbps   = 50.0
	latencyReferenceMs    = 200.0
)

// Tier labels returned by Classify.
const (
	TierExcellent = "Excellent"
	TierGood      = "Good"
	TierFair      = "Fair"
	TierPoor      = "Poor"
	TierVeryPoor  = "Very Poor"
)

// RangeError reports a radio metric outside its declared input domain.
type RangeError struct {
	Metric string
	Value  float64
	Min    float64
	Max    float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s value %g outside valid range [%g, %g]", e.Metric, e.Value, e.Min, e.Max)
}

// ValidateCellular checks that a full RSRQ/SINR/CQI triple is inside its
// declared domain. All three are required together; the first violation is
// returned.
func ValidateCellular(rsrq, sinr float64, cqi int) error {
	if rsrq < MinRSRQ || rsrq > MaxRSRQ {
		return &RangeError{Metric: "rsrq", Value: rsrq, Min: MinRSRQ, Max: MaxRSRQ}
	}
	if sinr < MinSINR || sinr > MaxSINR {
		return &RangeError{Metric: "sinr", Value: sinr, Min: MinSINR, Max: MaxSINR}
	}
	if cqi < MinCQI || cqi > MaxCQI {
		return &RangeError{Metric: "cqi", Value: float64(cqi), Min: MinCQI, Max: MaxCQI}
	}
	return nil
}

// clampScore bounds a raw score into [0,100] and rounds to nearest integer.
func clampScore(raw float64) int {
	if raw < 0 {
		raw = 0
	} else if raw > 100 {
		raw = 100
	}
	return int(math.Round(raw))
}

// ScoreCellular computes the 0-100 quality score for a cellular sample.
// SINR contributes its raw dB value at weight 0.5, CQI its fraction of the
// 15-step maximum scaled to 100 at weight 0.3, and RSRQ subtracts a penalty
// of its absolute value at weight 0.2 (more negative RSRQ is worse).
func ScoreCellular(rsrq, sinr float64, cqi int) (int, error) {
	if err := ValidateCellular(rsrq, sinr, cqi); err != nil {
		return 0, err
	}

	sinrTerm := sinr * 0.5
	cqiTerm := float64(cqi) / float64(MaxCQI) * 100 * 0.3
	rsrqPenalty := math.Abs(rsrq) * 0.2

	return clampScore(sinrTerm + cqiTerm - rsrqPenalty), nil
}

// ScoreCellularEnhanced recombines the base cellular score with measured
// throughput: base at weight 0.5, download against a 100 Mbps reference at
// 0.3 and upload against a 50 Mbps reference at 0.2, both capped at 100.
// Callers should only use this variant when at least one speed is positive.
func ScoreCellularEnhanced(rsrq, sinr float64, cqi int, downloadMbps, uploadMbps float64) (int, error) {
	base, err := ScoreCellular(rsrq, sinr, cqi)
	if err != nil {
		return 0, err
	}

	downloadTerm := math.Min(downloadMbps/downloadReferenceMbps*100, 100)
	uploadTerm := math.Min(uploadMbps/uploadReferenceMbps*100, 100)

	return clampScore(float64(base)*0.5 + downloadTerm*0.3 + uploadTerm*0.2), nil
}

// ScoreWifi computes the 0-100 quality score for a Wi-Fi sample from
// throughput and latency alone: download at 0.5, upload at 0.3 and a latency
// term at 0.2 that floors at 0 once latency reaches 200 ms.
func ScoreWifi(downloadMbps, uploadMbps, latencyMs float64) int {
	downloadTerm := math.Min(downloadMbps/downloadReferenceMbps*100, 100)
	uploadTerm := math.Min(uploadMbps/uploadReferenceMbps*100, 100)
	latencyTerm := math.Max(0, 100-latencyMs/latencyReferenceMs*100)

	return clampScore(downloadTerm*0.5 + uploadTerm*0.3 + latencyTerm*0.2)
}

// Classify maps a score to its quality tier. Lower bounds are inclusive.
func Classify(score int) string {
	switch {
	case score >= 80:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 40:
		return TierFair
	case score >= 20:
		return TierPoor
	default:
		return TierVeryPoor
	}
}

// DiagnosticCellular composes a one-sentence diagnostic for a cellular
// sample: overall tier, signal strength, noise and channel quality buckets,
// plus advice when the score is poor or reinforcement when it is excellent.
func DiagnosticCellular(score int, rsrq, sinr float64, cqi int) string {
	clauses := []string{
		fmt.Sprintf("Overall connection quality is %s", strings.ToLower(Classify(score))),
	}

	absRSRQ := math.Abs(rsrq)
	switch {
	case absRSRQ <= 10:
		clauses = append(clauses, "signal strength is strong")
	case absRSRQ <= 15:
		clauses = append(clauses, "signal strength is moderate")
	default:
		clauses = append(clauses, "signal strength is weak")
	}

	switch {
	case sinr >= 10:
		clauses = append(clauses, "interference is low")
	case sinr >= 0:
		clauses = append(clauses, "some interference is present")
	default:
		clauses = append(clauses, "interference is severe")
	}

	switch {
	case cqi >= 12:
		clauses = append(clauses, "channel quality is excellent")
	case cqi >= 8:
		clauses = append(clauses, "channel quality is good")
	case cqi >= 4:
		clauses = append(clauses, "channel quality is limited")
	default:
		clauses = append(clauses, "channel quality is very limited")
	}

	if score < 40 {
		advice := make([]string, 0, 2)
		if sinr < 0 {
			advice = append(advice, "moving away from sources of interference")
		}
		if absRSRQ > 12 {
			advice = append(advice, "moving closer to a cell tower")
		}
		if len(advice) == 0 {
			advice = append(advice, "trying a different location")
		}
		clauses = append(clauses, "consider "+strings.Join(advice, " and "))
	} else if score >= 80 {
		clauses = append(clauses, "this is a great spot for connectivity")
	}

	return strings.Join(clauses, ", ") + "."
}

// DiagnosticWifi composes a one-sentence diagnostic for a Wi-Fi sample.
func DiagnosticWifi(score int, downloadMbps, uploadMbps, latencyMs float64) string {
	clauses := []string{
		fmt.Sprintf("Overall connection quality is %s", strings.ToLower(Classify(score))),
	}

	switch {
	case downloadMbps >= 50:
		clauses = append(clauses, "download speed is fast")
	case downloadMbps >= 10:
		clauses = append(clauses, "download speed is adequate")
	default:
		clauses = append(clauses, "download speed is slow")
	}

	switch {
	case uploadMbps >= 25:
		clauses = append(clauses, "upload speed is fast")
	case uploadMbps >= 5:
		clauses = append(clauses, "upload speed is adequate")
	default:
		clauses = append(clauses, "upload speed is slow")
	}

	switch {
	case latencyMs <= 50:
		clauses = append(clauses, "latency is low")
	case latencyMs <= 150:
		clauses = append(clauses, "latency is moderate")
	default:
		clauses = append(clauses, "latency is high")
	}

	if score < 40 {
		clauses = append(clauses, "consider moving closer to the access point")
	} else if score >= 80 {
		clauses = append(clauses, "this is a great spot for connectivity")
	}

	return strings.Join(clauses, ", ") + "."
}
