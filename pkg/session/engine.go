// Package session implements the per-connection measurement session state
// machine: authenticate once, stream scored samples, flush on stop.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zonemap/zonemap/pkg/auth"
	"github.com/zonemap/zonemap/pkg/bestzone"
	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/metrics"
	"github.com/zonemap/zonemap/pkg/store"
)

// State names the session's position in its lifecycle.
type State string

const (
	StateAwaitingAuth  State = "awaiting_auth"
	StateAuthenticated State = "authenticated"
)

// Conn abstracts the underlying message transport so the engine can be unit
// tested without a live socket.
type Conn interface {
	// ReadMessage blocks until the next client message or a connection error.
	ReadMessage() ([]byte, error)

	// WriteJSON sends one server message. Callers must serialize access.
	WriteJSON(v interface{}) error

	// CloseWithCode closes the connection with an application close code.
	CloseWithCode(code int, reason string) error

	Close() error
}

// Publisher receives copies of recorded measurements and session summaries
// for out-of-band telemetry. Implementations must not block for long.
type Publisher interface {
	PublishMeasurement(m *store.Measurement)
	PublishSessionSummary(s *SessionSummary)
}

// Config holds engine timing configuration.
type Config struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	OperationTimeout  time.Duration `json:"operation_timeout"`
}

// DefaultConfig returns the production timing defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 30 * time.Second,
		OperationTimeout:  10 * time.Second,
	}
}

// Session is the per-connection state owned exclusively by one engine
// goroutine. Only send is safe to call from other goroutines.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time

	state   State
	samples []*store.Measurement

	conn    Conn
	writeMu sync.Mutex
	done    chan struct{}
}

// send writes one message to the client, serializing concurrent writers
// (the read-loop goroutine and the heartbeat ticker).
func (s *Session) send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Engine drives measurement sessions over message connections. One engine
// serves all connections; per-connection state lives in Session.
type Engine struct {
	store     store.Store
	verifier  auth.Verifier
	resolver  *bestzone.Resolver
	registry  *Registry
	metrics   *metrics.Metrics
	publisher Publisher
	config    *Config
	logger    *logx.Logger
}

// NewEngine creates a session engine. publisher may be nil.
func NewEngine(
	recordStore store.Store,
	verifier auth.Verifier,
	resolver *bestzone.Resolver,
	registry *Registry,
	m *metrics.Metrics,
	publisher Publisher,
	config *Config,
	logger *logx.Logger,
) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	return &Engine{
		store:     recordStore,
		verifier:  verifier,
		resolver:  resolver,
		registry:  registry,
		metrics:   m,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// HandleConnection runs one connection's full lifecycle and returns when the
// connection closes. Messages are processed strictly in arrival order; the
// only other goroutine is the heartbeat ticker.
func (e *Engine) HandleConnection(ctx context.Context, conn Conn) {
	sess := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		state:     StateAwaitingAuth,
		conn:      conn,
		done:      make(chan struct{}),
	}

	e.metrics.SessionsTotal.Inc()
	e.metrics.SessionsActive.Inc()

	defer func() {
		close(sess.done)
		e.registry.Deregister(sess.ID)
		e.metrics.SessionsActive.Dec()
		conn.Close()
		// Unsaved samples are discarded here on purpose: only an explicit
		// stop persists.
		e.logger.Info("session_closed",
			"session_id", sess.ID,
			"user_id", sess.UserID,
			"unsaved_samples", len(sess.samples),
		)
	}()

	if err := sess.send(ConnectionMessage{
		Type:      TypeConnection,
		SessionID: sess.ID,
		Timestamp: time.Now(),
	}); err != nil {
		e.logger.Warn("connection_ack_failed", "session_id", sess.ID, "error", err.Error())
		return
	}

	go e.heartbeatLoop(sess)

	e.logger.Info("session_opened", "session_id", sess.ID)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			e.countError("malformed_payload")
			e.sendError(sess, "malformed message payload")
			continue
		}

		switch sess.state {
		case StateAwaitingAuth:
			if msg.Type != TypeAuthenticate {
				e.countError("unauthenticated")
				e.sendError(sess, "authenticate first")
				continue
			}
			if terminate := e.handleAuthenticate(ctx, sess, &msg); terminate {
				return
			}

		case StateAuthenticated:
			switch msg.Type {
			case TypeMeasurement:
				e.handleMeasurement(ctx, sess, &msg)
			case TypeStop:
				e.handleStop(ctx, sess)
			case TypePing:
				e.sendMessage(sess, PongMessage{Type: TypePong, Timestamp: time.Now()})
			case TypeAuthenticate:
				e.countError("protocol")
				e.sendError(sess, "already authenticated")
			default:
				e.countError("protocol")
				e.sendError(sess, fmt.Sprintf("unknown message type %q", msg.Type))
			}
		}
	}
}

// heartbeatLoop emits heartbeats on a fixed interval until the session ends.
func (e *Engine) heartbeatLoop(sess *Session) {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := sess.send(HeartbeatMessage{Type: TypeHeartbeat, Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

// handleAuthenticate resolves the token. A failed verification is the sole
// path that terminates the connection; it reports true so the read loop
// returns after the auth-failure close.
func (e *Engine) handleAuthenticate(ctx context.Context, sess *Session, msg *inboundMessage) bool {
	opCtx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	defer cancel()

	userID, err := e.verifier.Verify(opCtx, msg.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			e.countError("auth_failed")
			e.sendError(sess, "authentication failed")
			e.logger.Warn("session_auth_failed", "session_id", sess.ID)
			if cerr := sess.conn.CloseWithCode(CloseAuthFailure, "authentication failed"); cerr != nil {
				e.logger.Debug("auth_close_failed", "session_id", sess.ID, "error", cerr.Error())
			}
			return true
		}

		// Collaborator unavailable or timed out: the connection stays open
		// and the client may retry.
		e.countError("auth_unavailable")
		e.sendError(sess, "authentication service unavailable, try again")
		e.logger.Error("auth_collaborator_failed", "session_id", sess.ID, "error", err.Error())
		return false
	}

	sess.UserID = userID
	sess.state = StateAuthenticated
	e.registry.Register(sess)

	e.sendMessage(sess, AuthenticatedMessage{
		Type:      TypeAuthenticated,
		UserID:    userID,
		Timestamp: time.Now(),
	})
	e.logger.Info("session_authenticated", "session_id", sess.ID, "user_id", userID)

	return false
}

// handleMeasurement validates, scores and accumulates one sample, then
// answers with the score, diagnostic and best-zone recommendation. Invalid
// samples are dropped with an error response; the session continues.
func (e *Engine) handleMeasurement(ctx context.Context, sess *Session, msg *inboundMessage) {
	m, diagnostic, err := BuildMeasurement(sess.UserID, &SampleInput{
		Coordinate:   msg.Coordinate,
		NetworkType:  msg.NetworkType,
		RSRQ:         msg.RSRQ,
		SINR:         msg.SINR,
		CQI:          msg.CQI,
		DownloadMbps: msg.DownloadMbps,
		UploadMbps:   msg.UploadMbps,
		LatencyMs:    msg.LatencyMs,
	})
	if err != nil {
		e.countError("validation")
		e.sendError(sess, err.Error())
		return
	}

	sess.samples = append(sess.samples, m)

	e.metrics.MeasurementsScored.WithLabelValues(m.NetworkType).Inc()
	e.metrics.ScoreDistribution.Observe(float64(m.QualityScore))

	if e.publisher != nil {
		e.publisher.PublishMeasurement(m)
	}

	bz := e.resolveBestZone(ctx, sess, *msg.Coordinate, floatValue(msg.RadiusMeters))

	e.sendMessage(sess, MeasurementResponse{
		Type:         TypeMeasurementResponse,
		QualityScore: m.QualityScore,
		Message:      diagnostic,
		BestZone:     bz,
		Metrics: EchoedMetrics{
			NetworkType:  m.NetworkType,
			RSRQ:         msg.RSRQ,
			SINR:         msg.SINR,
			CQI:          msg.CQI,
			DownloadMbps: msg.DownloadMbps,
			UploadMbps:   msg.UploadMbps,
			LatencyMs:    msg.LatencyMs,
		},
		Timestamp: time.Now(),
	})
}

// resolveBestZone queries the resolver with a timeout. Resolver failures are
// logged and reported as no-data; they never fail the measurement response.
func (e *Engine) resolveBestZone(ctx context.Context, sess *Session, cur geo.Coordinate, radiusM float64) *bestzone.Result {
	opCtx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	defer cancel()

	result, err := e.resolver.FindBestZone(opCtx, sess.UserID, cur, radiusM)
	if err != nil {
		e.countError("bestzone")
		e.metrics.BestZoneLookups.WithLabelValues("error").Inc()
		e.logger.Error("best_zone_lookup_failed", "session_id", sess.ID, "error", err.Error())
		return &bestzone.Result{HasData: false}
	}

	if result.HasData {
		e.metrics.BestZoneLookups.WithLabelValues("hit").Inc()
	} else {
		e.metrics.BestZoneLookups.WithLabelValues("miss").Inc()
	}

	return result
}

// handleStop persists the accumulated batch and emits aggregate statistics.
// Stop flushes but does not terminate: the session keeps accepting samples.
func (e *Engine) handleStop(ctx context.Context, sess *Session) {
	if len(sess.samples) == 0 {
		e.countError("validation")
		e.sendError(sess, "no measurements recorded")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	defer cancel()

	if err := e.store.AppendBatch(opCtx, sess.samples); err != nil {
		// Samples are retained so the client can retry the stop.
		e.countError("persistence")
		e.sendError(sess, "failed to persist measurements, try again")
		e.logger.Error("session_flush_failed",
			"session_id", sess.ID,
			"count", len(sess.samples),
			"error", err.Error(),
		)
		return
	}

	summary := e.summarize(sess)
	e.metrics.MeasurementsPersisted.Add(float64(summary.MeasurementCount))

	if e.publisher != nil {
		e.publisher.PublishSessionSummary(summary)
	}

	e.logger.Info("session_flushed",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"count", summary.MeasurementCount,
	)

	sess.samples = nil
	e.sendMessage(sess, *summary)
}

// summarize computes aggregate statistics over the accumulated samples.
func (e *Engine) summarize(sess *Session) *SessionSummary {
	n := float64(len(sess.samples))
	var avg SummaryAverages

	for _, m := range sess.samples {
		avg.QualityScore += float64(m.QualityScore)
		avg.RSRQ += m.RSRQ
		avg.SINR += m.SINR
		avg.CQI += float64(m.CQI)
		avg.DownloadMbps += m.DownloadMbps
		avg.UploadMbps += m.UploadMbps
		avg.LatencyMs += m.LatencyMs
	}

	avg.QualityScore /= n
	avg.RSRQ /= n
	avg.SINR /= n
	avg.CQI /= n
	avg.DownloadMbps /= n
	avg.UploadMbps /= n
	avg.LatencyMs /= n

	return &SessionSummary{
		Type:             TypeSessionSummary,
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		MeasurementCount: len(sess.samples),
		DurationSeconds:  time.Since(sess.StartedAt).Seconds(),
		Averages:         avg,
		Timestamp:        time.Now(),
	}
}

func (e *Engine) sendError(sess *Session, message string) {
	e.sendMessage(sess, ErrorMessage{
		Type:      TypeError,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (e *Engine) sendMessage(sess *Session, v interface{}) {
	if err := sess.send(v); err != nil {
		e.logger.Debug("session_send_failed", "session_id", sess.ID, "error", err.Error())
	}
}

func (e *Engine) countError(kind string) {
	e.metrics.ErrorsTotal.WithLabelValues(kind).Inc()
}

func floatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
