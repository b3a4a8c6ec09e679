package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/zonemap/zonemap/pkg/bestzone"
	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/session"
)

// recordRequest is the body of POST /api/measurements: one sample plus an
// optional flag to persist it immediately instead of waiting for a session
// stop.
type recordRequest struct {
	Coordinate  *geo.Coordinate `json:"coordinate"`
	NetworkType string          `json:"networkType"`

	RSRQ *float64 `json:"rsrq,omitempty"`
	SINR *float64 `json:"sinr,omitempty"`
	CQI  *int     `json:"cqi,omitempty"`

	DownloadMbps *float64 `json:"downloadMbps,omitempty"`
	UploadMbps   *float64 `json:"uploadMbps,omitempty"`
	LatencyMs    *float64 `json:"latencyMs,omitempty"`

	RadiusMeters    *float64 `json:"radiusMeters,omitempty"`
	SaveImmediately bool     `json:"saveImmediately,omitempty"`
}

// recordResponse mirrors one measurement_response of the session protocol.
type recordResponse struct {
	QualityScore int              `json:"qualityScore"`
	Message      string           `json:"message"`
	BestZone     *bestzone.Result `json:"bestZone"`
	Saved        bool             `json:"saved"`
	Timestamp    time.Time        `json:"timestamp"`
}

// handleRecordMeasurement scores a single measurement synchronously. It is
// the non-streaming equivalent of one measurement event, optionally followed
// by an immediate persist.
func (s *Server) handleRecordMeasurement(w http.ResponseWriter, r *http.Request, userID string) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.ErrorsTotal.WithLabelValues("malformed_payload").Inc()
		s.sendErrorResponse(w, http.StatusBadRequest, "malformed request body")
		return
	}

	m, diagnostic, err := session.BuildMeasurement(userID, &session.SampleInput{
		Coordinate:   req.Coordinate,
		NetworkType:  req.NetworkType,
		RSRQ:         req.RSRQ,
		SINR:         req.SINR,
		CQI:          req.CQI,
		DownloadMbps: req.DownloadMbps,
		UploadMbps:   req.UploadMbps,
		LatencyMs:    req.LatencyMs,
	})
	if err != nil {
		s.metrics.ErrorsTotal.WithLabelValues("validation").Inc()
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.MeasurementsScored.WithLabelValues(m.NetworkType).Inc()
	s.metrics.ScoreDistribution.Observe(float64(m.QualityScore))

	saved := false
	if req.SaveImmediately {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		if err := s.store.Append(ctx, m); err != nil {
			s.metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
			s.logger.Error("measurement_persist_failed", "user_id", userID, "error", err.Error())
			s.sendErrorResponse(w, http.StatusBadGateway, "failed to persist measurement")
			return
		}
		saved = true
		s.metrics.MeasurementsPersisted.Inc()

		if s.publisher != nil {
			s.publisher.PublishMeasurement(m)
		}
	}

	radius := 0.0
	if req.RadiusMeters != nil {
		radius = *req.RadiusMeters
	}

	bz := s.lookupBestZone(r.Context(), userID, *req.Coordinate, radius)

	s.sendJSONResponse(w, http.StatusOK, recordResponse{
		QualityScore: m.QualityScore,
		Message:      diagnostic,
		BestZone:     bz,
		Saved:        saved,
		Timestamp:    time.Now(),
	})
}

// handleBestZone answers GET /api/bestzone?lat=&lon=&radius=.
func (s *Server) handleBestZone(w http.ResponseWriter, r *http.Request, userID string) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		s.metrics.ErrorsTotal.WithLabelValues("validation").Inc()
		s.sendErrorResponse(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}

	radius := 0.0
	if raw := r.URL.Query().Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.metrics.ErrorsTotal.WithLabelValues("validation").Inc()
			s.sendErrorResponse(w, http.StatusBadRequest, "radius must be a number")
			return
		}
		radius = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	result, err := s.resolver.FindBestZone(ctx, userID, geo.Coordinate{Lat: lat, Lon: lon}, radius)
	if err != nil {
		if errors.Is(err, bestzone.ErrInvalidCoordinate) {
			s.metrics.ErrorsTotal.WithLabelValues("validation").Inc()
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.metrics.ErrorsTotal.WithLabelValues("bestzone").Inc()
		s.logger.Error("best_zone_lookup_failed", "user_id", userID, "error", err.Error())
		s.sendErrorResponse(w, http.StatusBadGateway, "best zone lookup failed")
		return
	}

	if result.HasData {
		s.metrics.BestZoneLookups.WithLabelValues("hit").Inc()
	} else {
		s.metrics.BestZoneLookups.WithLabelValues("miss").Inc()
	}

	s.sendJSONResponse(w, http.StatusOK, result)
}

// lookupBestZone wraps the resolver for the record path; failures degrade to
// a no-data result rather than failing the whole request.
func (s *Server) lookupBestZone(ctx context.Context, userID string, cur geo.Coordinate, radiusM float64) *bestzone.Result {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.resolver.FindBestZone(opCtx, userID, cur, radiusM)
	if err != nil {
		s.metrics.BestZoneLookups.WithLabelValues("error").Inc()
		s.logger.Error("best_zone_lookup_failed", "user_id", userID, "error", err.Error())
		return &bestzone.Result{HasData: false}
	}

	if result.HasData {
		s.metrics.BestZoneLookups.WithLabelValues("hit").Inc()
	} else {
		s.metrics.BestZoneLookups.WithLabelValues("miss").Inc()
	}

	return result
}
