package bestzone

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/zonemap/zonemap/pkg/geo"
)

// GoogleGeocoder resolves place names through the Google Maps reverse
// geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

// NewGoogleGeocoder creates a geocoder with the given API key.
func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

// PlaceName returns the formatted address of the first reverse-geocoding
// result, or an empty string when the API has nothing for the coordinate.
func (g *GoogleGeocoder) PlaceName(ctx context.Context, c geo.Coordinate) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: c.Lat, Lng: c.Lon},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode failed: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].FormattedAddress, nil
}
