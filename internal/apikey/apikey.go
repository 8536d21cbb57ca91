// Package apikey issues API keys. Only the bcrypt hash and the lookup prefix
// are ever persisted; the raw key is returned once to the caller.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Prefix marks every raw key issued by this service.
const Prefix = "ar_"

// PrefixLen is the number of leading characters stored for lookup.
const PrefixLen = 8

const secretBytes = 24

// ValidScopes lists the scopes a key may carry.
var ValidScopes = []string{models.ScopeSubmit, models.ScopeRead, models.ScopeAdmin}

// Issued is a freshly generated key. Raw must be handed to the caller and
// then forgotten.
type Issued struct {
	Raw string
	Key *models.APIKey
}

// Generate creates a key for tenantID. Scopes must be non-empty and drawn
// from ValidScopes.
func Generate(tenantID uuid.UUID, name string, scopes []string) (*Issued, error) {
	if name == "" {
		return nil, fmt.Errorf("key name is required")
	}
	if err := ValidateScopes(scopes); err != nil {
		return nil, err
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	raw := Prefix + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing key: %w", err)
	}

	now := time.Now().UTC()
	return &Issued{
		Raw: raw,
		Key: &models.APIKey{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Name:      name,
			KeyHash:   string(hash),
			KeyPrefix: raw[:PrefixLen],
			Scopes:    slices.Clone(scopes),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}, nil
}

// ValidateScopes rejects empty or unknown scope lists.
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	for _, s := range scopes {
		if !slices.Contains(ValidScopes, s) {
			return fmt.Errorf("unknown scope %q (valid: %v)", s, ValidScopes)
		}
	}
	return nil
}
