// Package geo provides great-circle math for measurement coordinates.
// All functions are pure; callers are expected to validate coordinates with
// IsValidCoordinate before computing distances or bearings.
package geo

import (
	"fmt"
	"math"
)

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is within latitude [-90,90] and
// longitude [-180,180], both inclusive.
func (c Coordinate) Valid() bool {
	return IsValidCoordinate(c.Lat, c.Lon)
}

// IsValidCoordinate reports whether lat/lon form a usable coordinate.
func IsValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Distance returns the haversine great-circle distance between a and b in
// meters. Identical coordinates yield exactly 0.
func Distance(a, b Coordinate) float64 {
	if a.Lat == b.Lat && a.Lon == b.Lon {
		return 0
	}

	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLatRad := (b.Lat - a.Lat) * math.Pi / 180
	deltaLonRad := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLonRad/2)*math.Sin(deltaLonRad/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// Bearing returns the initial great-circle bearing from a to b as an integer
// number of degrees, rounded to nearest and normalized into [0,360).
// Due north is 0, east 90, south 180, west 270.
func Bearing(a, b Coordinate) int {
	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLonRad := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(deltaLonRad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLonRad)

	deg := math.Atan2(y, x) * 180 / math.Pi
	bearing := int(math.Round(deg))

	// Normalize after rounding so -0.4 maps to 0, not 360.
	bearing %= 360
	if bearing < 0 {
		bearing += 360
	}
	return bearing
}

// compassLabels lists the 16 compass sectors clockwise from north.
var compassLabels = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// CompassDirection maps a bearing in degrees to one of 16 compass labels.
// Sectors are 22.5 degrees wide and centered on each label; inputs of 360 or
// more wrap around.
func CompassDirection(bearingDegrees int) string {
	deg := bearingDegrees % 360
	if deg < 0 {
		deg += 360
	}

	// Offset by half a sector so each label owns the arc centered on it.
	idx := int(math.Floor((float64(deg)+11.25)/22.5)) % 16
	return compassLabels[idx]
}

// FormatDistance renders a distance for humans: rounded meters below 1 km,
// kilometers with two decimals at or above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}
