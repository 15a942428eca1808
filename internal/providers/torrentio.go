package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const torrentioBaseURL = "https://torrentio.strem.fun"

// TorrentioProvider encodes its options as a pipe-delimited k=v config
// segment.
type TorrentioProvider struct {
	name      string
	baseURL   string
	debridKey string
	providers []string
	timeout   time.Duration
	fetcher   *Fetcher
}

func NewTorrentioProvider(opts Options, f *Fetcher) *TorrentioProvider {
	providers := opts.Indexers
	if len(providers) == 0 {
		providers = []string{"yts", "eztv", "rarbg", "1337x", "thepiratebay", "kickasstorrents", "torrentgalaxy", "magnetdl"}
	}
	return &TorrentioProvider{
		name:      nameOr(opts.Name, "Torrentio"),
		baseURL:   strings.TrimRight(nameOr(opts.BaseURL, torrentioBaseURL), "/"),
		debridKey: opts.DebridKey,
		providers: providers,
		timeout:   ClampTimeout(opts.Timeout),
		fetcher:   f,
	}
}

func (t *TorrentioProvider) Name() string { return t.name }

func (t *TorrentioProvider) config() string {
	parts := []string{
		"providers=" + strings.Join(t.providers, ","),
		"sort=qualitysize",
		"debridoptions=nodownloadlinks,nocatalog",
	}
	if t.debridKey != "" {
		parts = append(parts, "realdebrid="+t.debridKey)
	}
	return strings.Join(parts, "|")
}

func (t *TorrentioProvider) FetchStreams(ctx context.Context, req StreamRequest) ([]RawStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s/%s", t.baseURL, t.config(), req.path())
	return t.fetcher.fetchJSON(ctx, t.name, url, t.timeout)
}
