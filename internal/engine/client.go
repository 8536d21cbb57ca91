// Package engine is the HTTP client for the long-sentence speech recognition
// API: job submission and job result polling.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/httpx"
	"github.com/kiranshivaraju/asrrelay/internal/metrics"
	"github.com/kiranshivaraju/asrrelay/pkg/models"
)

// Sentinel errors for engine client failures.
var (
	ErrEngineUnreachable = errors.New("asr engine unreachable")
	ErrEngineRejected    = errors.New("asr engine rejected request")
	ErrEngineTimeout     = errors.New("asr engine timeout")
)

const longSentencePath = "/v1.0/voice/asr/long-sentence"

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 1 << 10

// Config configures the engine client.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Format    int
	Timeouts  httpx.Timeouts
}

// Client implements models.Engine over the engine's HTTP API.
type Client struct {
	endpoint string
	format   int
	signer   *Signer
	client   *http.Client
}

// NewClient creates a new engine client.
func NewClient(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://ais.%s.myhuaweicloud.com", cfg.Region)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		format:   cfg.Format,
		signer:   NewSigner(cfg.AccessKey, cfg.SecretKey),
		client:   httpx.NewClient(cfg.Timeouts),
	}
}

func (c *Client) SubmitJob(ctx context.Context, audioURL string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.EngineLatency.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(submitRequest{URL: audioURL})
	if err != nil {
		return "", fmt.Errorf("encoding submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+longSentencePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp submitResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", err
	}
	if resp.Result.JobID == "" {
		return "", fmt.Errorf("%w: response carried no job_id", ErrEngineRejected)
	}
	return resp.Result.JobID, nil
}

func (c *Client) PollJob(ctx context.Context, jobID string) (models.PollResult, error) {
	start := time.Now()
	defer func() {
		metrics.EngineLatency.WithLabelValues("poll").Observe(time.Since(start).Seconds())
	}()

	params := url.Values{
		"job_id": {jobID},
		"format": {strconv.Itoa(c.format)},
	}
	u := fmt.Sprintf("%s%s?%s", c.endpoint, longSentencePath, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.PollResult{}, fmt.Errorf("building request: %w", err)
	}

	var resp pollResponse
	if err := c.do(httpReq, &resp); err != nil {
		return models.PollResult{}, err
	}

	status, err := models.ParseJobStatus(resp.Result.StatusCode)
	if err != nil {
		return models.PollResult{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return models.PollResult{
		Status:        status,
		StatusMessage: resp.Result.StatusMsg,
		Payload:       resp.Result.Words,
	}, nil
}

// do signs and sends req and decodes a 200 response into out.
func (c *Client) do(req *http.Request, out any) error {
	if err := c.signer.Sign(req); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rejection(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding engine response: %w", err)
	}
	return nil
}

func rejection(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.ErrorCode != "" {
		return fmt.Errorf("%w: status %d: %s: %s", ErrEngineRejected, resp.StatusCode, e.ErrorCode, e.ErrorMsg)
	}
	return fmt.Errorf("%w: status %d: %s", ErrEngineRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrEngineTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrEngineUnreachable, err)
}

// --- engine wire types ---

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	Result struct {
		JobID string `json:"job_id"`
	} `json:"result"`
}

type pollResponse struct {
	Result struct {
		StatusCode int             `json:"status_code"`
		StatusMsg  string          `json:"status_msg"`
		Words      json.RawMessage `json:"words,omitempty"`
	} `json:"result"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Compile-time check that Client implements models.Engine.
var _ models.Engine = (*Client)(nil)
