// Package auth provides HMAC-based API key authentication for gRPC services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/badgekeeper/internal/core/db"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// principalKey is the context key for the authenticated key name.
const principalKey = contextKey("principal")

// lastUsedThrottle bounds last_used_at writes per key.
const lastUsedThrottle = time.Minute

// KeyStore is the persistence the authenticator needs.
// Implemented by *db.APIKeyRepository.
type KeyStore interface {
	LookupByHash(ctx context.Context, keyHash []byte) (*db.APIKeyRecord, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and a key store for verification.
type Authenticator struct {
	secrets map[string][]byte
	keys    KeyStore
	logger  *zap.Logger
}

// NewAuthenticator creates an authenticator with HMAC secrets and key store.
func NewAuthenticator(secrets map[string][]byte, keys KeyStore, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secrets: secrets, keys: keys, logger: logger}
}

// Authenticate validates apiKey and returns the key's name on success.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	rec, err := a.keys.LookupByHash(ctx, ComputeHMAC(secret, apiKey))
	if errors.Is(err, db.ErrAPIKeyNotFound) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyStore, err)
	}

	if rec.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	now := time.Now().UTC()
	if !rec.LastUsedAt.Valid || now.Sub(rec.LastUsedAt.Time) > lastUsedThrottle {
		if err := a.keys.TouchLastUsed(ctx, rec.APIKeyID, now); err != nil {
			a.logger.Warn("failed to update api key last_used_at",
				zap.String("api_key_id", rec.APIKeyID),
				zap.Error(err))
		}
	}

	return rec.Name, nil
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Health checks pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod == "/grpc.health.v1.Health/Check" {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		principal, err := a.Authenticate(ctx, apiKeys[0])
		if err != nil {
			return nil, status.Error(codeFor(err), err.Error())
		}

		return handler(context.WithValue(ctx, principalKey, principal), req)
	}
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return codes.PermissionDenied
	case errors.Is(err, ErrKeyStore):
		return codes.Unavailable
	default:
		return codes.Unauthenticated
	}
}

// PrincipalFromContext returns the authenticated key name, or "" if none.
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey).(string); ok {
		return p
	}
	return ""
}
