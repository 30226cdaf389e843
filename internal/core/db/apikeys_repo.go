package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAPIKeyNotFound is returned when no key matches a hash or id.
var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKeyRecord is the authentication-relevant part of an api_keys row.
type APIKeyRecord struct {
	APIKeyID   string       `db:"api_key_id"`
	Name       string       `db:"name"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
}

// APIKeyRepository stores HMAC hashes of issued API keys. Plaintext keys
// are never persisted.
type APIKeyRepository struct {
	q *Queries
}

// NewAPIKeyRepository creates a repository over loaded queries.
func NewAPIKeyRepository(q *Queries) *APIKeyRepository {
	return &APIKeyRepository{q: q}
}

// Create records a key hash under id.
func (r *APIKeyRepository) Create(ctx context.Context, id, name string, keyHash []byte) error {
	if _, err := r.q.Exec(ctx, "insert-api-key", id, name, keyHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create api key %s: %w", name, err)
	}
	return nil
}

// LookupByHash finds the key whose HMAC hash is keyHash.
func (r *APIKeyRepository) LookupByHash(ctx context.Context, keyHash []byte) (*APIKeyRecord, error) {
	var rec APIKeyRecord
	err := r.q.Get(ctx, "get-api-key-by-hash", &rec, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TouchLastUsed sets last_used_at.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.q.Exec(ctx, "update-last-used", at.UTC(), id)
	return err
}

// Revoke marks a key revoked. Revoking twice reports ErrAPIKeyNotFound.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.q.Exec(ctx, "revoke-api-key", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key %s: %w", id, err)
	}
	return requireAffected(res, ErrAPIKeyNotFound)
}
