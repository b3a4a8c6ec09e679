package session

import (
	"time"

	"github.com/zonemap/zonemap/pkg/bestzone"
	"github.com/zonemap/zonemap/pkg/geo"
)

// Message types exchanged over a session connection.
const (
	// client -> server
	TypeAuthenticate = "authenticate"
	TypeMeasurement  = "measurement"
	TypeStop         = "stop"
	TypePing         = "ping"

	// server -> client
	TypeConnection          = "connection"
	TypeAuthenticated       = "authenticated"
	TypeHeartbeat           = "heartbeat"
	TypeMeasurementResponse = "measurement_response"
	TypeSessionSummary      = "session_summary"
	TypePong                = "pong"
	TypeError               = "error"
)

// CloseAuthFailure is the websocket close code sent when authentication
// fails. Application close codes live in the 4000-4999 range.
const CloseAuthFailure = 4401

// inboundMessage is the envelope for every client -> server message. Radio
// and speed fields are pointers so absent values are distinguishable from
// zero.
type inboundMessage struct {
	Type        string          `json:"type"`
	Token       string          `json:"token,omitempty"`
	Coordinate  *geo.Coordinate `json:"coordinate,omitempty"`
	NetworkType string          `json:"networkType,omitempty"`

	RSRQ *float64 `json:"rsrq,omitempty"`
	SINR *float64 `json:"sinr,omitempty"`
	CQI  *int     `json:"cqi,omitempty"`

	DownloadMbps *float64 `json:"downloadMbps,omitempty"`
	UploadMbps   *float64 `json:"uploadMbps,omitempty"`
	LatencyMs    *float64 `json:"latencyMs,omitempty"`

	RadiusMeters *float64 `json:"radiusMeters,omitempty"`
}

// ConnectionMessage acknowledges a new connection.
type ConnectionMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthenticatedMessage acknowledges a successful authentication.
type AuthenticatedMessage struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatMessage is emitted on a fixed interval while the connection is
// open.
type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EchoedMetrics repeats the client's submitted metrics back in the
// measurement response.
type EchoedMetrics struct {
	NetworkType  string   `json:"networkType"`
	RSRQ         *float64 `json:"rsrq,omitempty"`
	SINR         *float64 `json:"sinr,omitempty"`
	CQI          *int     `json:"cqi,omitempty"`
	DownloadMbps *float64 `json:"downloadMbps,omitempty"`
	UploadMbps   *float64 `json:"uploadMbps,omitempty"`
	LatencyMs    *float64 `json:"latencyMs,omitempty"`
}

// MeasurementResponse carries the score, diagnostic and best-zone
// recommendation for one sample.
type MeasurementResponse struct {
	Type         string           `json:"type"`
	QualityScore int              `json:"qualityScore"`
	Message      string           `json:"message"`
	BestZone     *bestzone.Result `json:"bestZone"`
	Metrics      EchoedMetrics    `json:"metrics"`
	Timestamp    time.Time        `json:"timestamp"`
}

// SummaryAverages holds the arithmetic means across a flushed batch.
type SummaryAverages struct {
	QualityScore float64 `json:"qualityScore"`
	RSRQ         float64 `json:"rsrq"`
	SINR         float64 `json:"sinr"`
	CQI          float64 `json:"cqi"`
	DownloadMbps float64 `json:"downloadMbps"`
	UploadMbps   float64 `json:"uploadMbps"`
	LatencyMs    float64 `json:"latencyMs"`
}

// SessionSummary reports aggregate statistics after a stop flush.
type SessionSummary struct {
	Type             string          `json:"type"`
	SessionID        string          `json:"sessionId"`
	UserID           string          `json:"userId"`
	MeasurementCount int             `json:"measurementCount"`
	DurationSeconds  float64         `json:"durationSeconds"`
	Averages         SummaryAverages `json:"averages"`
	Timestamp        time.Time       `json:"timestamp"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage carries a human-readable failure reason.
type ErrorMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
