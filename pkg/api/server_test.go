package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonemap/zonemap/pkg/auth"
	"github.com/zonemap/zonemap/pkg/bestzone"
	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/metrics"
	"github.com/zonemap/zonemap/pkg/session"
	"github.com/zonemap/zonemap/pkg/store"
)

type memStore struct {
	mu      sync.Mutex
	records []*store.Measurement
	batches int
	best    *store.Measurement
}

func (m *memStore) Append(ctx context.Context, rec *store.Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) AppendBatch(ctx context.Context, recs []*store.Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	m.batches++
	return nil
}

func (m *memStore) FindBestNearby(ctx context.Context, userID string, center geo.Coordinate, radiusM float64) (*store.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.best, nil
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()

	logger := logx.NewLogger("error", "api-test")
	ms := &memStore{}
	verifier := auth.NewStaticVerifier(map[string]string{"valid-token": "alice"})
	resolver := bestzone.NewResolver(ms, nil, logger)
	registry := session.NewRegistry(logger)
	m := metrics.New()
	engine := session.NewEngine(ms, verifier, resolver, registry, m, nil, nil, logger)

	return NewServer(nil, ms, verifier, resolver, engine, m, nil, logger), ms
}

func postJSON(t *testing.T, handler http.Handler, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validRecordBody() map[string]interface{} {
	return map[string]interface{}{
		"coordinate":  map[string]float64{"lat": 59.33, "lon": 18.07},
		"networkType": "cellular",
		"rsrq":        -10.0,
		"sinr":        15.0,
		"cqi":         10,
	}
}

func TestRecordMeasurementRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/api/measurements", "", validRecordBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, router, "/api/measurements", "bogus", validRecordBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// downVerifier simulates an unreachable credential source.
type downVerifier struct{}

func (downVerifier) Verify(ctx context.Context, token string) (string, error) {
	return "", fmt.Errorf("credential lookup failed: %w", context.DeadlineExceeded)
}

func TestVerifierOutageYieldsServiceUnavailable(t *testing.T) {
	logger := logx.NewLogger("error", "api-test")
	ms := &memStore{}
	resolver := bestzone.NewResolver(ms, nil, logger)
	registry := session.NewRegistry(logger)
	m := metrics.New()
	engine := session.NewEngine(ms, downVerifier{}, resolver, registry, m, nil, nil, logger)
	srv := NewServer(nil, ms, downVerifier{}, resolver, engine, m, nil, logger)

	rec := postJSON(t, srv.Router(), "/api/measurements", "valid-token", validRecordBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestRecordMeasurementWithoutSave(t *testing.T) {
	srv, ms := newTestServer(t)

	rec := postJSON(t, srv.Router(), "/api/measurements", "valid-token", validRecordBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Saved)
	assert.NotEmpty(t, resp.Message)
	require.NotNil(t, resp.BestZone)
	assert.False(t, resp.BestZone.HasData)
	assert.Empty(t, ms.records)
}

func TestRecordMeasurementSaveImmediately(t *testing.T) {
	srv, ms := newTestServer(t)

	body := validRecordBody()
	body["saveImmediately"] = true
	rec := postJSON(t, srv.Router(), "/api/measurements", "valid-token", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Saved)

	require.Len(t, ms.records, 1)
	assert.Equal(t, "alice", ms.records[0].UserID)
	assert.Equal(t, resp.QualityScore, ms.records[0].QualityScore)
}

func TestRecordMeasurementValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	bad := validRecordBody()
	bad["rsrq"] = -25.0
	rec := postJSON(t, router, "/api/measurements", "valid-token", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/api/measurements", "valid-token", map[string]interface{}{
		"networkType": "cellular",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBestZoneEndpoint(t *testing.T) {
	srv, ms := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/bestzone?lat=59.33&lon=18.07", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result bestzone.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.HasData)

	ms.mu.Lock()
	ms.best = &store.Measurement{
		UserID:       "alice",
		Coordinate:   geo.Coordinate{Lat: 59.34, Lon: 18.07},
		QualityScore: 91,
	}
	ms.mu.Unlock()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.HasData)
	assert.Equal(t, 91, result.QualityScore)

	// Invalid coordinates are the caller's fault.
	req = httptest.NewRequest(http.MethodGet, "/api/bestzone?lat=95&lon=18.07", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/bestzone", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebsocketSessionEndToEnd(t *testing.T) {
	srv, ms := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() map[string]interface{} {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	msg := readMessage()
	require.Equal(t, session.TypeConnection, msg["type"])
	require.NotEmpty(t, msg["sessionId"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": session.TypeAuthenticate, "token": "valid-token",
	}))
	msg = readMessage()
	require.Equal(t, session.TypeAuthenticated, msg["type"])
	assert.Equal(t, "alice", msg["userId"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":        session.TypeMeasurement,
		"coordinate":  map[string]float64{"lat": 59.33, "lon": 18.07},
		"networkType": "cellular",
		"rsrq":        -10.0,
		"sinr":        15.0,
		"cqi":         10,
	}))
	msg = readMessage()
	require.Equal(t, session.TypeMeasurementResponse, msg["type"])
	assert.NotEmpty(t, msg["message"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": session.TypeStop}))
	msg = readMessage()
	require.Equal(t, session.TypeSessionSummary, msg["type"])
	assert.Equal(t, float64(1), msg["measurementCount"])

	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Len(t, ms.records, 1)
	assert.Equal(t, 1, ms.batches)
}
