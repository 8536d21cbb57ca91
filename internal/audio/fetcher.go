// Package audio downloads caller audio to local disk.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/asrrelay/internal/httpx"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Sentinel errors for audio downloads. Every failure wraps ErrFetchFailed.
var (
	ErrFetchFailed = errors.New("audio download failed")
	ErrTooLarge    = errors.New("audio exceeds size limit")
	ErrStalled     = errors.New("audio download stalled")
)

// Fetcher implements models.AudioSource over HTTP.
type Fetcher struct {
	dir      string
	client   *http.Client
	idle     time.Duration
	maxBytes int64
}

// NewFetcher creates a Fetcher that stores files under dir. A download may
// take as long as it needs while bytes keep arriving; it is aborted once no
// data arrives for timeouts.Read or once it grows past maxBytes. A
// non-positive maxBytes leaves the size unbounded.
func NewFetcher(dir string, timeouts httpx.Timeouts, maxBytes int64) *Fetcher {
	return &Fetcher{
		dir:      dir,
		client:   httpx.NewStreamingClient(timeouts),
		idle:     timeouts.Read,
		maxBytes: maxBytes,
	}
}

// Fetch downloads location into the data directory. The file is named after
// the URL-decoded last path segment, prefixed to keep concurrent downloads of
// the same name apart.
func (f *Fetcher) Fetch(ctx context.Context, location string) (models.LocalAudio, error) {
	name, err := fileName(location)
	if err != nil {
		return models.LocalAudio{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return models.LocalAudio{}, fmt.Errorf("%w: building request: %w", ErrFetchFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return models.LocalAudio{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.LocalAudio{}, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return models.LocalAudio{}, fmt.Errorf("%w: %w: %d bytes", ErrFetchFailed, ErrTooLarge, resp.ContentLength)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return models.LocalAudio{}, fmt.Errorf("%w: creating data dir: %w", ErrFetchFailed, err)
	}
	dest := filepath.Join(f.dir, uuid.NewString()[:8]+"-"+name)
	out, err := os.Create(dest)
	if err != nil {
		return models.LocalAudio{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	var body io.Reader = resp.Body
	if f.idle > 0 {
		watchdog := time.AfterFunc(f.idle, func() { cancel(ErrStalled) })
		defer watchdog.Stop()
		body = &progressReader{r: body, timer: watchdog, idle: f.idle}
	}
	if f.maxBytes > 0 {
		body = io.LimitReader(body, f.maxBytes+1)
	}

	n, err := io.Copy(out, body)
	if err == nil && f.maxBytes > 0 && n > f.maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		if cause := context.Cause(ctx); errors.Is(cause, ErrStalled) {
			err = fmt.Errorf("%w: no data for %s", ErrStalled, f.idle)
		}
		return models.LocalAudio{}, fmt.Errorf("%w: writing %s: %w", ErrFetchFailed, dest, err)
	}

	return models.LocalAudio{Path: dest, Name: name, Size: n, Source: location}, nil
}

// progressReader pushes timer back by idle every time bytes arrive.
type progressReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.timer.Reset(p.idle)
	}
	return n, err
}

// fileName returns the URL-decoded last path segment of location.
func fileName(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	name := path.Base(u.Path)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("no file name in %q", location)
	}
	return name, nil
}

// Compile-time check that Fetcher implements models.AudioSource.
var _ models.AudioSource = (*Fetcher)(nil)
