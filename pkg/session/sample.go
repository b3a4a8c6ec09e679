package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/quality"
	"github.com/zonemap/zonemap/pkg/store"
)

// ErrInvalidSample marks client-input validation failures; the message
// carries the specific reason.
var ErrInvalidSample = errors.New("invalid sample")

// SampleInput is one submitted measurement before scoring. Radio metrics are
// pointers so a missing value is distinguishable from zero; a cellular
// sample requires all three.
type SampleInput struct {
	Coordinate  *geo.Coordinate
	NetworkType string

	RSRQ *float64
	SINR *float64
	CQI  *int

	DownloadMbps *float64
	UploadMbps   *float64
	LatencyMs    *float64
}

// BuildMeasurement validates and scores one sample and returns the
// measurement record plus its diagnostic message. The same path serves the
// streaming session engine and the single-measurement HTTP endpoint.
func BuildMeasurement(userID string, in *SampleInput) (*store.Measurement, string, error) {
	if in.Coordinate == nil || !in.Coordinate.Valid() {
		return nil, "", fmt.Errorf("%w: invalid or missing coordinate", ErrInvalidSample)
	}

	networkType := in.NetworkType
	switch networkType {
	case store.NetworkCellular, store.NetworkWifi, store.NetworkUnknown:
	case "":
		networkType = store.NetworkUnknown
	default:
		return nil, "", fmt.Errorf("%w: unknown network type %q", ErrInvalidSample, in.NetworkType)
	}

	download := floatValue(in.DownloadMbps)
	upload := floatValue(in.UploadMbps)
	latency := floatValue(in.LatencyMs)
	if download < 0 || upload < 0 || latency < 0 {
		return nil, "", fmt.Errorf("%w: speed metrics must not be negative", ErrInvalidSample)
	}

	var (
		score      int
		diagnostic string
	)

	if networkType == store.NetworkCellular {
		if in.RSRQ == nil || in.SINR == nil || in.CQI == nil {
			return nil, "", fmt.Errorf("%w: cellular measurement requires rsrq, sinr and cqi", ErrInvalidSample)
		}

		var err error
		if download > 0 || upload > 0 {
			score, err = quality.ScoreCellularEnhanced(*in.RSRQ, *in.SINR, *in.CQI, download, upload)
		} else {
			score, err = quality.ScoreCellular(*in.RSRQ, *in.SINR, *in.CQI)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s", ErrInvalidSample, err.Error())
		}
		diagnostic = quality.DiagnosticCellular(score, *in.RSRQ, *in.SINR, *in.CQI)
	} else {
		score = quality.ScoreWifi(download, upload, latency)
		diagnostic = quality.DiagnosticWifi(score, download, upload, latency)
	}

	return &store.Measurement{
		UserID:       userID,
		Coordinate:   *in.Coordinate,
		NetworkType:  networkType,
		RSRQ:         floatValue(in.RSRQ),
		SINR:         floatValue(in.SINR),
		CQI:          intValue(in.CQI),
		DownloadMbps: download,
		UploadMbps:   upload,
		LatencyMs:    latency,
		QualityScore: score,
		RecordedAt:   time.Now().UTC(),
	}, diagnostic, nil
}
