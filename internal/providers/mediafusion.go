package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const mediaFusionBaseURL = "https://mediafusion.elfhosted.com"

type MediaFusionProvider struct {
	name      string
	baseURL   string
	debridKey string
	timeout   time.Duration
	fetcher   *Fetcher
}

type mediaFusionConfig struct {
	StreamingProvider struct {
		Token   string `json:"token"`
		Service string `json:"service"`
	} `json:"streaming_provider"`
	SelectedCatalogs []string `json:"selected_catalogs"`
	EnableCatalogs   bool     `json:"enable_catalogs"`
}

func NewMediaFusionProvider(opts Options, f *Fetcher) *MediaFusionProvider {
	return &MediaFusionProvider{
		name:      nameOr(opts.Name, "MediaFusion"),
		baseURL:   strings.TrimRight(nameOr(opts.BaseURL, mediaFusionBaseURL), "/"),
		debridKey: opts.DebridKey,
		timeout:   ClampTimeout(opts.Timeout),
		fetcher:   f,
	}
}

func (m *MediaFusionProvider) Name() string { return m.name }

func (m *MediaFusionProvider) config() (string, error) {
	cfg := mediaFusionConfig{SelectedCatalogs: []string{"torrentio_streams"}}
	cfg.StreamingProvider.Token = m.debridKey
	cfg.StreamingProvider.Service = "realdebrid"
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal mediafusion config: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (m *MediaFusionProvider) FetchStreams(ctx context.Context, req StreamRequest) ([]RawStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s/%s", m.baseURL, cfg, req.path())
	return m.fetcher.fetchJSON(ctx, m.name, url, m.timeout)
}
