// Package store persists tenants and API keys in Postgres.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// Tenants resolves the tenants that own API keys and submitted jobs.
type Tenants interface {
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)
	GetTenantByName(ctx context.Context, name string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// KeyLookup is what request authentication needs: candidate keys sharing a
// prefix, and a place to record use.
type KeyLookup interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Keys manages API keys. Only the prefix and bcrypt hash of a key are ever
// stored; revoked keys are soft-deleted and drop out of lookups.
type Keys interface {
	KeyLookup
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

// Store is the full data access interface.
type Store interface {
	Ping(ctx context.Context) error
	Tenants
	Keys
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
