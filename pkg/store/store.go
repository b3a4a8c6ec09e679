// Package store persists network-quality measurements and answers
// nearest-better-spot queries over them.
package store

import (
	"context"
	"time"

	"github.com/zonemap/zonemap/pkg/geo"
)

// Network types attached to measurements.
const (
	NetworkCellular = "cellular"
	NetworkWifi     = "wifi"
	NetworkUnknown  = "unknown"
)

// Measurement is a single scored network-quality sample at a location.
// It is immutable once scored; the store never mutates historical rows.
type Measurement struct {
	ID           int64          `json:"id,omitempty"`
	UserID       string         `json:"user_id"`
	Coordinate   geo.Coordinate `json:"coordinate"`
	NetworkType  string         `json:"network_type"`
	RSRQ         float64        `json:"rsrq,omitempty"`
	SINR         float64        `json:"sinr,omitempty"`
	CQI          int            `json:"cqi,omitempty"`
	DownloadMbps float64        `json:"download_mbps,omitempty"`
	UploadMbps   float64        `json:"upload_mbps,omitempty"`
	LatencyMs    float64        `json:"latency_ms,omitempty"`
	QualityScore int            `json:"quality_score"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// Store is the measurement record store consumed by the session engine, the
// single-measurement path and the best-zone resolver. Implementations must
// be safe for concurrent use from many sessions.
type Store interface {
	// Append inserts a single measurement.
	Append(ctx context.Context, m *Measurement) error

	// AppendBatch inserts all measurements atomically; used by session stop.
	AppendBatch(ctx context.Context, ms []*Measurement) error

	// FindBestNearby returns the measurement owned by userID with the
	// highest quality score within radiusM meters of center, or nil when no
	// measurement qualifies. Tie-breaking between equal scores is
	// store-defined.
	FindBestNearby(ctx context.Context, userID string, center geo.Coordinate, radiusM float64) (*Measurement, error)
}
