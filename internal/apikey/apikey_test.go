package apikey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

func TestGenerate(t *testing.T) {
	tenant := uuid.New()
	issued, err := Generate(tenant, "ingest", []string{models.ScopeSubmit, models.ScopeRead})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(issued.Raw, Prefix))
	assert.Len(t, issued.Raw, len(Prefix)+2*secretBytes)

	k := issued.Key
	assert.Equal(t, tenant, k.TenantID)
	assert.Equal(t, "ingest", k.Name)
	assert.Equal(t, issued.Raw[:PrefixLen], k.KeyPrefix)
	assert.Equal(t, []string{"submit", "read"}, k.Scopes)
	assert.NotEqual(t, uuid.Nil, k.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(issued.Raw)))
	assert.NotContains(t, k.KeyHash, issued.Raw)
}

func TestGenerate_Unique(t *testing.T) {
	a, err := Generate(uuid.New(), "a", []string{models.ScopeRead})
	require.NoError(t, err)
	b, err := Generate(uuid.New(), "b", []string{models.ScopeRead})
	require.NoError(t, err)
	assert.NotEqual(t, a.Raw, b.Raw)
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := Generate(uuid.New(), "", []string{models.ScopeRead})
	assert.Error(t, err)

	_, err = Generate(uuid.New(), "k", nil)
	assert.Error(t, err)

	_, err = Generate(uuid.New(), "k", []string{"write"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write")
}
