// Package callback posts job results to caller-supplied callback URLs.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kiranshivaraju/asrrelay/internal/httpx"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Sentinel errors for callback delivery.
var (
	ErrDeliveryRejected = errors.New("callback target rejected delivery")
	ErrUnreachable      = errors.New("callback target unreachable")
)

const userAgent = "asrrelay-callback/1.0"

// Sender implements models.CallbackSender with JSON POSTs.
type Sender struct {
	client *http.Client
}

// NewSender creates a Sender honouring timeouts.
func NewSender(timeouts httpx.Timeouts) *Sender {
	client := httpx.NewClient(timeouts)
	// A redirect would replay the POST as a GET; report it as the answer instead.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Sender{client: client}
}

// Post delivers payload to target. Any 2xx answer counts as delivered.
func (s *Sender) Post(ctx context.Context, target string, payload models.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeliveryRejected, resp.StatusCode)
	}
	return nil
}

// Compile-time check that Sender implements models.CallbackSender.
var _ models.CallbackSender = (*Sender)(nil)
