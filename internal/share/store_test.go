package share

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/asrrelay/internal/cache"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

type mockCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	setErr error
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	c.ttls[key] = ttl
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mockCache) Ping(_ context.Context) error { return nil }
func (c *mockCache) SetJobStatus(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}
func (c *mockCache) GetJobStatus(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func writeAudio(t *testing.T, name, content string) models.LocalAudio {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return models.LocalAudio{Path: p, Name: name, Size: int64(len(content)), Source: "http://host/" + name}
}

func TestUploadAndShare_RoundTrip(t *testing.T) {
	c := newMockCache()
	s := NewStore(c, Config{PublicURL: "http://relay.local/", TTL: time.Hour})

	link, err := s.UploadAndShare(context.Background(), writeAudio(t, "a.mp3", "ID3-audio"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "http://relay.local"+SharedPath), link)

	token := strings.TrimPrefix(link, "http://relay.local"+SharedPath)
	assert.Equal(t, time.Hour, c.ttls[cache.SharedAudioKey(token)])
	assert.Equal(t, time.Hour, c.ttls[cache.SharedMetaKey(token)])

	meta, data, err := s.Open(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio", string(data))
	assert.Equal(t, "a.mp3", meta.Name)
	assert.Equal(t, int64(9), meta.Size)
	assert.Equal(t, "http://host/a.mp3", meta.Source)
	assert.Equal(t, "audio/mpeg", meta.ContentType)
}

func TestUploadAndShare_TokensAreUnique(t *testing.T) {
	s := NewStore(newMockCache(), Config{PublicURL: "http://relay.local"})
	audio := writeAudio(t, "a.wav", "RIFF")

	first, err := s.UploadAndShare(context.Background(), audio)
	require.NoError(t, err)
	second, err := s.UploadAndShare(context.Background(), audio)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestUploadAndShare_MissingFile(t *testing.T) {
	s := NewStore(newMockCache(), Config{PublicURL: "http://relay.local"})

	_, err := s.UploadAndShare(context.Background(), models.LocalAudio{Path: filepath.Join(t.TempDir(), "gone.mp3")})
	require.ErrorIs(t, err, ErrUploadFailed)
}

func TestUploadAndShare_TooLarge(t *testing.T) {
	s := NewStore(newMockCache(), Config{PublicURL: "http://relay.local", MaxBytes: 4})

	_, err := s.UploadAndShare(context.Background(), writeAudio(t, "a.mp3", "12345"))
	require.ErrorIs(t, err, ErrUploadFailed)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadAndShare_CacheError(t *testing.T) {
	c := newMockCache()
	c.setErr = errors.New("redis down")
	s := NewStore(c, Config{PublicURL: "http://relay.local"})

	_, err := s.UploadAndShare(context.Background(), writeAudio(t, "a.mp3", "x"))
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "redis down")
}

func TestOpen_NotFound(t *testing.T) {
	s := NewStore(newMockCache(), Config{PublicURL: "http://relay.local"})

	_, _, err := s.Open(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Open(context.Background(), "8f14e45f-ceea-467f-a0e6-1b0b1e7d5c3a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore(newMockCache(), Config{})
	assert.Equal(t, int64(DefaultMaxBytes), s.maxBytes)
	assert.Equal(t, cache.DefaultStatusTTL, s.ttl)
}
