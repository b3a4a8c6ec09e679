// Package bestzone recommends the nearest previously recorded location with
// a materially better quality score.
package bestzone

import (
	"context"
	"errors"
	"fmt"

	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/store"
)

// Search radius bounds in meters.
const (
	DefaultRadiusM = 5000.0
	MaxRadiusM     = 50000.0

	// nearbyThresholdM is the distance under which the recommendation says
	// "nearby" instead of a formatted distance.
	nearbyThresholdM = 100.0
)

// ErrInvalidCoordinate is returned when the caller's position is unusable.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Result describes the best recorded zone near a position. It is derived on
// every request and never persisted.
type Result struct {
	HasData           bool    `json:"hasData"`
	Bearing           int     `json:"bearing,omitempty"`
	Direction         string  `json:"direction,omitempty"`
	DistanceMeters    float64 `json:"distanceMeters,omitempty"`
	DistanceFormatted string  `json:"distanceFormatted,omitempty"`
	QualityScore      int     `json:"qualityScore,omitempty"`
	Recommendation    string  `json:"recommendation,omitempty"`
	PlaceName         string  `json:"placeName,omitempty"`
}

// Geocoder resolves a coordinate to a human-readable place name. Optional;
// lookups that fail only cost the place-name enrichment.
type Geocoder interface {
	PlaceName(ctx context.Context, c geo.Coordinate) (string, error)
}

// Resolver answers best-zone queries against the record store. It holds no
// mutable state and is safe for concurrent use across sessions.
type Resolver struct {
	store    store.Store
	geocoder Geocoder
	logger   *logx.Logger

	defaultRadiusM float64
	maxRadiusM     float64
}

// NewResolver creates a resolver. geocoder may be nil.
func NewResolver(recordStore store.Store, geocoder Geocoder, logger *logx.Logger) *Resolver {
	return &Resolver{
		store:          recordStore,
		geocoder:       geocoder,
		logger:         logger,
		defaultRadiusM: DefaultRadiusM,
		maxRadiusM:     MaxRadiusM,
	}
}

// SetRadiusBounds overrides the default and maximum search radii in meters.
// Non-positive values keep the current bounds.
func (r *Resolver) SetRadiusBounds(defaultM, maxM float64) {
	if defaultM > 0 {
		r.defaultRadiusM = defaultM
	}
	if maxM > 0 {
		r.maxRadiusM = maxM
	}
}

// FindBestZone locates the highest-scoring recorded measurement owned by
// userID within radiusM meters of current and derives direction, distance
// and a recommendation from it. A radius of zero or less selects the
// default; radii above the maximum are clamped.
func (r *Resolver) FindBestZone(ctx context.Context, userID string, current geo.Coordinate, radiusM float64) (*Result, error) {
	if !current.Valid() {
		return nil, fmt.Errorf("%w: lat=%g lon=%g", ErrInvalidCoordinate, current.Lat, current.Lon)
	}

	if radiusM <= 0 {
		radiusM = r.defaultRadiusM
	} else if radiusM > r.maxRadiusM {
		radiusM = r.maxRadiusM
	}

	best, err := r.store.FindBestNearby(ctx, userID, current, radiusM)
	if err != nil {
		return nil, fmt.Errorf("best zone lookup failed: %w", err)
	}
	if best == nil {
		return &Result{HasData: false}, nil
	}

	distance := geo.Distance(current, best.Coordinate)
	bearing := geo.Bearing(current, best.Coordinate)
	direction := geo.CompassDirection(bearing)
	formatted := geo.FormatDistance(distance)

	result := &Result{
		HasData:           true,
		Bearing:           bearing,
		Direction:         direction,
		DistanceMeters:    distance,
		DistanceFormatted: formatted,
		QualityScore:      best.QualityScore,
	}

	where := formatted
	if distance <= nearbyThresholdM {
		where = "nearby"
	}
	result.Recommendation = fmt.Sprintf(
		"Head %s (%d°) %s for better signal quality (score %d).",
		direction, bearing, where, best.QualityScore,
	)

	if r.geocoder != nil {
		name, err := r.geocoder.PlaceName(ctx, best.Coordinate)
		if err != nil {
			r.logger.Debug("place_name_lookup_failed", "error", err.Error())
		} else if name != "" {
			result.PlaceName = name
			result.Recommendation = fmt.Sprintf(
				"Head %s (%d°) %s toward %s for better signal quality (score %d).",
				direction, bearing, where, name, best.QualityScore,
			)
		}
	}

	return result, nil
}
