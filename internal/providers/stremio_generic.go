package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

// GenericStremioProvider talks to any addon whose configuration is already
// embedded in its manifest URL (Torrentio, Autostream, Sootio, ...).
type GenericStremioProvider struct {
	name    string
	baseURL string
	timeout time.Duration
	fetcher *Fetcher
	// limits concurrent requests so one slow addon is not flooded
	sem chan struct{}
}

func NewGenericStremioProvider(opts Options, f *Fetcher) *GenericStremioProvider {
	return &GenericStremioProvider{
		name:    nameOr(opts.Name, "Stremio"),
		baseURL: strings.TrimSpace(opts.BaseURL),
		timeout: ClampTimeout(opts.Timeout),
		fetcher: f,
		sem:     make(chan struct{}, 2),
	}
}

func (g *GenericStremioProvider) Name() string { return g.name }

// streamURL swaps manifest.json for the stream resource path; a bare base
// URL gets the path appended.
func (g *GenericStremioProvider) streamURL(req StreamRequest) string {
	path := req.path()
	if strings.Contains(g.baseURL, "manifest.json") {
		return strings.Replace(g.baseURL, "manifest.json", path, 1)
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(g.baseURL, "/"), path)
}

func (g *GenericStremioProvider) FetchStreams(ctx context.Context, req StreamRequest) ([]RawStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %v", g.name, models.ErrUpstreamUnavailable, ctx.Err())
	}
	defer func() { <-g.sem }()

	return g.fetcher.fetchJSON(ctx, g.name, g.streamURL(req), g.timeout)
}
