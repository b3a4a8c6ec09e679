package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zonemap/zonemap/pkg/logx"
)

// Bucket names for the bbolt verdict cache.
const (
	verdictBucket = "token_verdicts"
)

// CacheConfig holds configuration for the token verdict cache.
type CacheConfig struct {
	PersistencePath string        `json:"persistence_path"`
	PositiveTTL     time.Duration `json:"positive_ttl"`
	NegativeTTL     time.Duration `json:"negative_ttl"`
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		PersistencePath: "/var/lib/zonemap/token_cache.db",
		PositiveTTL:     15 * time.Minute,
		NegativeTTL:     1 * time.Minute,
	}
}

// cachedVerdict is the stored outcome of a verification.
type cachedVerdict struct {
	UserID    string    `json:"user_id,omitempty"`
	Negative  bool      `json:"negative"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CachingVerifier wraps a Verifier with a persistent bbolt cache of verdicts
// so repeated connections with the same token skip the bcrypt comparison.
// Tokens are keyed by their SHA-256 digest; raw tokens never touch disk.
type CachingVerifier struct {
	inner  Verifier
	config *CacheConfig
	db     *bolt.DB
	logger *logx.Logger
}

// NewCachingVerifier opens the cache database and wraps inner.
func NewCachingVerifier(inner Verifier, config *CacheConfig, logger *logx.Logger) (*CachingVerifier, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	cacheDir := filepath.Dir(config.PersistencePath)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(config.PersistencePath, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open token cache: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(verdictBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize token cache bucket: %w", err)
	}

	logger.Info("token_cache_initialized",
		"persistence_path", config.PersistencePath,
		"positive_ttl", config.PositiveTTL.String(),
		"negative_ttl", config.NegativeTTL.String(),
	)

	return &CachingVerifier{
		inner:  inner,
		config: config,
		db:     db,
		logger: logger,
	}, nil
}

// Verify consults the cache first; expired or missing entries fall through to
// the wrapped verifier and the fresh verdict is written back.
func (cv *CachingVerifier) Verify(ctx context.Context, token string) (string, error) {
	key := tokenKey(token)

	if verdict := cv.lookup(key); verdict != nil {
		if verdict.Negative {
			return "", ErrInvalidToken
		}
		return verdict.UserID, nil
	}

	userID, err := cv.inner.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			cv.storeVerdict(key, &cachedVerdict{
				Negative:  true,
				ExpiresAt: time.Now().Add(cv.config.NegativeTTL),
			})
		}
		return "", err
	}

	cv.storeVerdict(key, &cachedVerdict{
		UserID:    userID,
		ExpiresAt: time.Now().Add(cv.config.PositiveTTL),
	})

	return userID, nil
}

func (cv *CachingVerifier) lookup(key string) *cachedVerdict {
	var verdict *cachedVerdict

	err := cv.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(verdictBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		v := &cachedVerdict{}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal cached verdict: %w", err)
		}
		verdict = v
		return nil
	})
	if err != nil {
		cv.logger.Warn("token_cache_lookup_failed", "error", err.Error())
		return nil
	}

	if verdict == nil || time.Now().After(verdict.ExpiresAt) {
		return nil
	}

	return verdict
}

func (cv *CachingVerifier) storeVerdict(key string, verdict *cachedVerdict) {
	err := cv.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(verdictBucket))
		if bucket == nil {
			return fmt.Errorf("verdict bucket not found")
		}
		data, err := json.Marshal(verdict)
		if err != nil {
			return fmt.Errorf("failed to marshal verdict: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		cv.logger.Warn("token_cache_store_failed", "error", err.Error())
	}
}

// Close closes the cache database.
func (cv *CachingVerifier) Close() error {
	return cv.db.Close()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
