package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 16 << 20
)

// DefaultChallengeMarkers identify anti-bot interstitials served instead of JSON.
func DefaultChallengeMarkers() []string {
	return []string{"Cloudflare", "Attention Required", "cf-chl", "Just a moment"}
}

// FetchConfig tunes the shared HTTP fetch.
type FetchConfig struct {
	UserAgent        string
	ChallengeMarkers []string
	// MaxRetries counts extra attempts after the first, for transport
	// errors and 5xx replies only.
	MaxRetries int
	Backoff    time.Duration
}

// Fetcher performs the GET + decode shared by every provider.
type Fetcher struct {
	client *http.Client
	cfg    FetchConfig
	logger *slog.Logger
}

func NewFetcher(cfg FetchConfig, client *http.Client, logger *slog.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ChallengeMarkers == nil {
		cfg.ChallengeMarkers = DefaultChallengeMarkers()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if client == nil {
		// Per-request deadlines come from the provider timeout.
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, cfg: cfg, logger: logger}
}

type streamsResponse struct {
	Streams []RawStream `json:"streams"`
}

// retryable marks failures worth another attempt.
type retryable struct{ error }

func (r retryable) Unwrap() error { return r.error }

// fetchJSON fetches a Stremio stream listing and classifies failures into
// the upstream error sentinels.
func (f *Fetcher) fetchJSON(ctx context.Context, provider, url string, timeout time.Duration) ([]RawStream, error) {
	timeout = ClampTimeout(timeout)
	backoff := f.cfg.Backoff

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			f.logger.Debug("[PROVIDER] retrying", "provider", provider, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w: %v", provider, models.ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		streams, err := f.fetchOnce(ctx, provider, url, timeout)
		if err == nil {
			return streams, nil
		}
		lastErr = err
		var r retryable
		if !errors.As(err, &r) || ctx.Err() != nil {
			break
		}
	}

	var r retryable
	if errors.As(lastErr, &r) {
		return nil, r.error
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, provider, url string, timeout time.Duration) ([]RawStream, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w: %v", provider, models.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retryable{fmt.Errorf("%s: %w: %v", provider, models.ErrUpstreamUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, retryable{fmt.Errorf("%s: read body: %w: %v", provider, models.ErrUpstreamUnavailable, err)}
	}

	if resp.StatusCode != http.StatusOK {
		if f.isChallenge(body) {
			return nil, fmt.Errorf("%s: status %d: %w", provider, resp.StatusCode, models.ErrUpstreamBlocked)
		}
		err := fmt.Errorf("%s: status %d: %w", provider, resp.StatusCode, models.ErrUpstreamUnavailable)
		if resp.StatusCode >= 500 {
			return nil, retryable{err}
		}
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if f.isChallenge(body) {
			return nil, fmt.Errorf("%s: %w", provider, models.ErrUpstreamBlocked)
		}
		return nil, fmt.Errorf("%s: %w", provider, models.ErrMalformedResponse)
	}

	var decoded streamsResponse
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", provider, models.ErrMalformedResponse, err)
	}
	if len(decoded.Streams) == 0 {
		return nil, fmt.Errorf("%s: %w", provider, models.ErrNoResults)
	}
	for i := range decoded.Streams {
		decoded.Streams[i].Provider = provider
	}
	return decoded.Streams, nil
}

func (f *Fetcher) isChallenge(body []byte) bool {
	for _, marker := range f.cfg.ChallengeMarkers {
		if marker != "" && bytes.Contains(body, []byte(marker)) {
			return true
		}
	}
	return false
}
