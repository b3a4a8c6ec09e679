package bestzone

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/store"
)

type fakeStore struct {
	store.Store

	best       *store.Measurement
	err        error
	lastRadius float64
	lastUser   string
}

func (f *fakeStore) FindBestNearby(ctx context.Context, userID string, center geo.Coordinate, radiusM float64) (*store.Measurement, error) {
	f.lastUser = userID
	f.lastRadius = radiusM
	return f.best, f.err
}

type fakeGeocoder struct {
	name string
	err  error
}

func (f *fakeGeocoder) PlaceName(ctx context.Context, c geo.Coordinate) (string, error) {
	return f.name, f.err
}

func newResolver(s store.Store, g Geocoder) *Resolver {
	return NewResolver(s, g, logx.NewLogger("error", "bestzone-test"))
}

func TestFindBestZoneInvalidCoordinate(t *testing.T) {
	r := newResolver(&fakeStore{}, nil)

	_, err := r.FindBestZone(context.Background(), "alice", geo.Coordinate{Lat: 91, Lon: 0}, 5000)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestFindBestZoneRadiusDefaultsAndClamping(t *testing.T) {
	fs := &fakeStore{}
	r := newResolver(fs, nil)
	ctx := context.Background()
	cur := geo.Coordinate{Lat: 59.33, Lon: 18.07}

	_, err := r.FindBestZone(ctx, "alice", cur, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRadiusM, fs.lastRadius)

	_, err = r.FindBestZone(ctx, "alice", cur, -100)
	require.NoError(t, err)
	assert.Equal(t, DefaultRadiusM, fs.lastRadius)

	_, err = r.FindBestZone(ctx, "alice", cur, 1e9)
	require.NoError(t, err)
	assert.Equal(t, MaxRadiusM, fs.lastRadius)

	_, err = r.FindBestZone(ctx, "alice", cur, 1234)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, fs.lastRadius)
}

func TestFindBestZoneNoMatch(t *testing.T) {
	r := newResolver(&fakeStore{best: nil}, nil)

	result, err := r.FindBestZone(context.Background(), "alice", geo.Coordinate{Lat: 59.33, Lon: 18.07}, 5000)
	require.NoError(t, err)
	assert.False(t, result.HasData)
	assert.Empty(t, result.Recommendation)
}

func TestFindBestZoneStoreError(t *testing.T) {
	r := newResolver(&fakeStore{err: errors.New("store down")}, nil)

	_, err := r.FindBestZone(context.Background(), "alice", geo.Coordinate{Lat: 59.33, Lon: 18.07}, 5000)
	assert.Error(t, err)
}

func TestFindBestZoneMatchConsistentWithGeo(t *testing.T) {
	cur := geo.Coordinate{Lat: 59.3300, Lon: 18.0700}
	target := geo.Coordinate{Lat: 59.3400, Lon: 18.0700} // due north, ~1.1 km

	fs := &fakeStore{best: &store.Measurement{
		UserID:       "alice",
		Coordinate:   target,
		QualityScore: 88,
	}}
	r := newResolver(fs, nil)

	result, err := r.FindBestZone(context.Background(), "alice", cur, 5000)
	require.NoError(t, err)
	require.True(t, result.HasData)

	assert.Equal(t, geo.Bearing(cur, target), result.Bearing)
	assert.Equal(t, geo.CompassDirection(result.Bearing), result.Direction)
	assert.Equal(t, geo.FormatDistance(geo.Distance(cur, target)), result.DistanceFormatted)
	assert.Equal(t, 88, result.QualityScore)
	assert.Equal(t, "alice", fs.lastUser)
	assert.Contains(t, result.Recommendation, result.Direction)
	assert.Contains(t, result.Recommendation, fmt.Sprintf("%d°", result.Bearing))
	assert.Contains(t, result.Recommendation, result.DistanceFormatted)
	assert.Contains(t, result.Recommendation, "88")
}

func TestFindBestZoneNearby(t *testing.T) {
	cur := geo.Coordinate{Lat: 59.33, Lon: 18.07}
	// ~55 m north.
	target := geo.Coordinate{Lat: 59.3305, Lon: 18.07}

	r := newResolver(&fakeStore{best: &store.Measurement{
		Coordinate:   target,
		QualityScore: 75,
	}}, nil)

	result, err := r.FindBestZone(context.Background(), "alice", cur, 5000)
	require.NoError(t, err)
	require.True(t, result.HasData)
	assert.LessOrEqual(t, result.DistanceMeters, 100.0)
	assert.Contains(t, result.Recommendation, "nearby")
}

func TestFindBestZoneGeocoderEnrichment(t *testing.T) {
	cur := geo.Coordinate{Lat: 59.33, Lon: 18.07}
	target := geo.Coordinate{Lat: 59.34, Lon: 18.07}
	best := &store.Measurement{Coordinate: target, QualityScore: 90}

	r := newResolver(&fakeStore{best: best}, &fakeGeocoder{name: "Vasastan, Stockholm"})
	result, err := r.FindBestZone(context.Background(), "alice", cur, 5000)
	require.NoError(t, err)
	assert.Equal(t, "Vasastan, Stockholm", result.PlaceName)
	assert.Contains(t, result.Recommendation, "Vasastan")

	// Geocoder failure never fails the lookup.
	r = newResolver(&fakeStore{best: best}, &fakeGeocoder{err: errors.New("quota exceeded")})
	result, err = r.FindBestZone(context.Background(), "alice", cur, 5000)
	require.NoError(t, err)
	assert.True(t, result.HasData)
	assert.Empty(t, result.PlaceName)
}
