// Package share keeps uploaded audio in the cache and serves it back to the
// recognition engine through short-lived, unguessable links.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/asrrelay/internal/cache"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Sentinel errors for shared audio.
var (
	ErrUploadFailed = errors.New("audio upload failed")
	ErrTooLarge     = errors.New("audio exceeds share size limit")
	ErrNotFound     = errors.New("shared audio not found")
)

// SharedPath is the route prefix that serves shared audio.
const SharedPath = "/api/v1/shared/"

// DefaultMaxBytes caps a single shared file.
const DefaultMaxBytes = 64 << 20

// Meta describes a shared audio file.
type Meta struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Source      string    `json:"source"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Config configures a Store.
type Config struct {
	PublicURL string
	TTL       time.Duration
	MaxBytes  int64
}

// Store implements models.ObjectStore on top of the cache.
type Store struct {
	cache     cache.Cache
	publicURL string
	ttl       time.Duration
	maxBytes  int64
	now       func() time.Time
}

// NewStore creates a Store. Links are built from cfg.PublicURL.
func NewStore(c cache.Cache, cfg Config) *Store {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultStatusTTL
	}
	return &Store{
		cache:     c,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		ttl:       ttl,
		maxBytes:  maxBytes,
		now:       time.Now,
	}
}

// UploadAndShare copies the local file into the cache and returns its link.
func (s *Store) UploadAndShare(ctx context.Context, audio models.LocalAudio) (string, error) {
	info, err := os.Stat(audio.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if info.Size() > s.maxBytes {
		return "", fmt.Errorf("%w: %w: %d bytes", ErrUploadFailed, ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(audio.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	token := uuid.NewString()
	meta := Meta{
		Name:        audio.Name,
		ContentType: contentType(audio.Name),
		Size:        int64(len(data)),
		Source:      audio.Source,
		ExpiresAt:   s.now().Add(s.ttl).UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: encoding metadata: %w", ErrUploadFailed, err)
	}

	if err := s.cache.Set(ctx, cache.SharedAudioKey(token), data, s.ttl); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if err := s.cache.Set(ctx, cache.SharedMetaKey(token), metaJSON, s.ttl); err != nil {
		_ = s.cache.Delete(ctx, cache.SharedAudioKey(token))
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	return s.publicURL + SharedPath + token, nil
}

// Open returns the metadata and bytes stored under token.
func (s *Store) Open(ctx context.Context, token string) (Meta, []byte, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Meta{}, nil, ErrNotFound
	}

	raw, found, err := s.cache.Get(ctx, cache.SharedMetaKey(token))
	if err != nil {
		return Meta{}, nil, fmt.Errorf("reading shared metadata: %w", err)
	}
	if !found {
		return Meta{}, nil, ErrNotFound
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("decoding shared metadata: %w", err)
	}

	data, found, err := s.cache.Get(ctx, cache.SharedAudioKey(token))
	if err != nil {
		return Meta{}, nil, fmt.Errorf("reading shared audio: %w", err)
	}
	if !found {
		return Meta{}, nil, ErrNotFound
	}
	return meta, data, nil
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".amr":  "audio/amr",
	".pcm":  "audio/L16",
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Compile-time check that Store implements models.ObjectStore.
var _ models.ObjectStore = (*Store)(nil)
