// Package auth verifies opaque client tokens and resolves them to user
// identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/zonemap/zonemap/pkg/logx"
)

// ErrInvalidToken is returned for malformed, unknown or mismatched tokens.
var ErrInvalidToken = errors.New("invalid authentication token")

// ErrUnknownUser is returned by a CredentialSource when no credential exists
// for the user. It marks a definitive rejection, as opposed to a lookup that
// failed because the source was unavailable.
var ErrUnknownUser = errors.New("unknown user")

// Verifier resolves a token to a user identity. Implementations must be safe
// for concurrent use from many sessions.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// CredentialSource looks up the stored bcrypt hash of a user's secret.
// Implementations return an error wrapping ErrUnknownUser when no credential
// exists; any other error is treated as the source being unavailable.
type CredentialSource interface {
	LookupCredential(ctx context.Context, userID string) (secretHash string, err error)
}

// CredentialVerifier verifies tokens of the form "<userID>.<secret>" against
// bcrypt hashes held by a CredentialSource.
type CredentialVerifier struct {
	source CredentialSource
	logger *logx.Logger
}

// NewCredentialVerifier creates a verifier backed by the given source.
func NewCredentialVerifier(source CredentialSource, logger *logx.Logger) *CredentialVerifier {
	return &CredentialVerifier{
		source: source,
		logger: logger,
	}
}

// Verify splits the token, looks up the user's stored hash and compares the
// secret. Unknown users and hash mismatches both surface as ErrInvalidToken
// so callers cannot distinguish unknown users from wrong secrets. A lookup
// that fails for any other reason (source outage, timeout) is propagated
// as-is: an unavailable source must never read as a rejected token.
func (v *CredentialVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, secret, ok := splitToken(token)
	if !ok {
		return "", fmt.Errorf("malformed token: %w", ErrInvalidToken)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	hash, err := v.source.LookupCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			v.logger.Debug("credential_lookup_rejected", "user_id", userID)
			return "", ErrInvalidToken
		}
		v.logger.Warn("credential_lookup_failed", "user_id", userID, "error", err.Error())
		return "", fmt.Errorf("credential lookup failed: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", ErrInvalidToken
	}

	return userID, nil
}

// HashSecret produces a bcrypt hash suitable for storing in a
// CredentialSource.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

func splitToken(token string) (userID, secret string, ok bool) {
	idx := strings.IndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}

// StaticVerifier resolves tokens from a fixed token -> userID map. Used in
// tests and single-tenant deployments.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier creates a verifier over a fixed token map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	userID, ok := v.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}
