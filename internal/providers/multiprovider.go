package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

// FetchResult is the reply chosen from the provider fan-out.
type FetchResult struct {
	Provider string
	Streams  []RawStream
	// Cached is true when the reply came from the response cache.
	Cached bool
}

// MultiProvider queries every configured provider at once and keeps the
// first non-empty reply in priority order, so the choice does not depend
// on which upstream answers fastest.
type MultiProvider struct {
	providers []Provider
	cache     *ResponseCache
	logger    *slog.Logger
	group     singleflight.Group
}

// NewMultiProvider takes providers in priority order. cache may be nil.
func NewMultiProvider(providers []Provider, cache *ResponseCache, logger *slog.Logger) *MultiProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiProvider{providers: providers, cache: cache, logger: logger}
}

// Names lists the providers in priority order.
func (mp *MultiProvider) Names() []string {
	names := make([]string, len(mp.providers))
	for i, p := range mp.providers {
		names[i] = p.Name()
	}
	return names
}

type providerReply struct {
	streams []RawStream
	cached  bool
	err     error
}

// Fetch returns the preferred reply. When every provider fails it returns
// the most severe error seen: blocked, then unavailable, then no results.
// Identical concurrent requests share one fan-out. The shared fan-out is
// not tied to any one caller's context, so a caller that gives up does not
// fail the others; the per-provider timeouts still bound it.
func (mp *MultiProvider) Fetch(ctx context.Context, req StreamRequest) (FetchResult, error) {
	if err := req.Validate(); err != nil {
		return FetchResult{}, err
	}
	if len(mp.providers) == 0 {
		return FetchResult{}, fmt.Errorf("no providers configured: %w", models.ErrUpstreamUnavailable)
	}

	shared := context.WithoutCancel(ctx)
	ch := mp.group.DoChan(req.Key(), func() (any, error) {
		return mp.fetch(shared, req)
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return FetchResult{}, fmt.Errorf("%s: %w: %w", req.Key(), models.ErrUpstreamUnavailable, ctx.Err())
	case r = <-ch:
	}
	if r.Shared {
		mp.logger.Debug("[PROVIDER] collapsed concurrent request", "request", req.Key())
	}
	if r.Err != nil {
		return FetchResult{}, r.Err
	}
	res := r.Val.(FetchResult)
	// Callers may modify the streams; do not hand out the shared slice.
	res.Streams = append([]RawStream(nil), res.Streams...)
	return res, nil
}

func (mp *MultiProvider) fetch(ctx context.Context, req StreamRequest) (FetchResult, error) {
	replies := make([]providerReply, len(mp.providers))

	var g errgroup.Group
	for i, p := range mp.providers {
		g.Go(func() error {
			replies[i] = mp.fetchOne(ctx, p, req)
			return nil
		})
	}
	_ = g.Wait()

	var worst error
	for i, p := range mp.providers {
		r := replies[i]
		if r.err == nil && len(r.streams) > 0 {
			mp.logger.Info("[PROVIDER] selected", "provider", p.Name(), "request", req.Key(), "streams", len(r.streams), "cached", r.cached)
			return FetchResult{Provider: p.Name(), Streams: r.streams, Cached: r.cached}, nil
		}
		err := r.err
		if err == nil {
			err = fmt.Errorf("%s: %w", p.Name(), models.ErrNoResults)
		}
		mp.logFailure(p.Name(), req, err)
		if severity(err) > severity(worst) {
			worst = err
		}
	}
	return FetchResult{}, worst
}

func (mp *MultiProvider) fetchOne(ctx context.Context, p Provider, req StreamRequest) providerReply {
	if mp.cache != nil {
		if streams, ok := mp.cache.Get(p.Name(), req); ok {
			return providerReply{streams: streams, cached: true}
		}
	}
	streams, err := p.FetchStreams(ctx, req)
	if err != nil {
		return providerReply{err: err}
	}
	if mp.cache != nil && len(streams) > 0 {
		if err := mp.cache.Put(p.Name(), req, streams); err != nil {
			mp.logger.Warn("[CACHE] response cache write failed", "provider", p.Name(), "error", err)
		}
	}
	return providerReply{streams: streams}
}

// ProbeResult reports how one provider answered a probe request.
type ProbeResult struct {
	Provider string        `json:"provider"`
	Streams  int           `json:"streams"`
	Usable   int           `json:"usable"`
	Elapsed  time.Duration `json:"elapsed"`
	Kind     string        `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Probe asks every provider directly, bypassing the response cache, and
// reports each answer in priority order. Usable counts the streams acq
// keeps as cached candidates with a hash.
func (mp *MultiProvider) Probe(ctx context.Context, req StreamRequest, acq *Acquirer) ([]ProbeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	results := make([]ProbeResult, len(mp.providers))

	var g errgroup.Group
	for i, p := range mp.providers {
		g.Go(func() error {
			start := time.Now()
			streams, err := p.FetchStreams(ctx, req)
			r := ProbeResult{Provider: p.Name(), Streams: len(streams), Elapsed: time.Since(start)}
			for _, c := range acq.Normalize(streams) {
				if c.Persistable() {
					r.Usable++
				}
			}
			if err != nil {
				r.Kind = models.UpstreamErrorKind(err)
				r.Error = err.Error()
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (mp *MultiProvider) logFailure(name string, req StreamRequest, err error) {
	attrs := []any{"provider", name, "request", req.Key(), "kind", models.UpstreamErrorKind(err), "error", err}
	switch {
	case errors.Is(err, models.ErrUpstreamBlocked):
		mp.logger.Warn("[PROVIDER] blocked by challenge page", attrs...)
	case errors.Is(err, models.ErrUpstreamUnavailable):
		mp.logger.Warn("[PROVIDER] unavailable", attrs...)
	default:
		mp.logger.Info("[PROVIDER] no results", attrs...)
	}
}

func severity(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, models.ErrUpstreamBlocked):
		return 3
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return 2
	default:
		return 1
	}
}
