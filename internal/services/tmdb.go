package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

const tmdbBaseURL = "https://api.themoviedb.org/3"

// TMDB is the slice of the TMDB API the identity resolver needs.
type TMDB interface {
	GetMovieExternalIDs(ctx context.Context, tmdbID int) (*MovieIDs, error)
	GetSeriesExternalIDs(ctx context.Context, seriesID int) (*ExternalIDs, error)
	GetSeason(ctx context.Context, seriesID, seasonNumber int) (*Season, error)
}

type TMDBClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewTMDBClient(apiKey string) *TMDBClient {
	return &TMDBClient{
		apiKey:  apiKey,
		baseURL: tmdbBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithBaseURL points the client at another host; used by tests.
func (c *TMDBClient) WithBaseURL(base string) *TMDBClient {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// MovieIDs is the identity part of a TMDB movie.
type MovieIDs struct {
	ID     int
	Title  string
	IMDBID string
	Year   int
}

type tmdbMovie struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
	IMDbID      string `json:"imdb_id"`
}

// ExternalIDs represents external IDs for a TV series
type ExternalIDs struct {
	ID     int    `json:"id"`
	IMDBID string `json:"imdb_id"`
	TVDBID int    `json:"tvdb_id"`
}

type Season struct {
	ID           int       `json:"id"`
	SeasonNumber int       `json:"season_number"`
	Name         string    `json:"name"`
	Episodes     []Episode `json:"episodes"`
}

type Episode struct {
	ID            int    `json:"id"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	Name          string `json:"name"`
	AirDate       string `json:"air_date"`
}

// GetMovieExternalIDs reads /movie/{id}, which carries the IMDb id.
func (c *TMDBClient) GetMovieExternalIDs(ctx context.Context, tmdbID int) (*MovieIDs, error) {
	data, err := c.makeRequest(ctx, fmt.Sprintf("/movie/%d", tmdbID), url.Values{})
	if err != nil {
		return nil, err
	}

	var m tmdbMovie
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal movie: %w", models.ErrMalformedResponse)
	}
	ids := &MovieIDs{ID: m.ID, Title: m.Title, IMDBID: m.IMDbID}
	if len(m.ReleaseDate) >= 4 {
		ids.Year, _ = strconv.Atoi(m.ReleaseDate[:4])
	}
	return ids, nil
}

// GetSeriesExternalIDs retrieves external IDs (IMDB, TVDB, etc.) for a series
func (c *TMDBClient) GetSeriesExternalIDs(ctx context.Context, seriesID int) (*ExternalIDs, error) {
	data, err := c.makeRequest(ctx, fmt.Sprintf("/tv/%d/external_ids", seriesID), url.Values{})
	if err != nil {
		return nil, err
	}

	var ids ExternalIDs
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal external IDs: %w", models.ErrMalformedResponse)
	}
	return &ids, nil
}

func (c *TMDBClient) GetSeason(ctx context.Context, seriesID, seasonNumber int) (*Season, error) {
	data, err := c.makeRequest(ctx, fmt.Sprintf("/tv/%d/season/%d", seriesID, seasonNumber), url.Values{})
	if err != nil {
		return nil, err
	}

	var season Season
	if err := json.Unmarshal(data, &season); err != nil {
		return nil, fmt.Errorf("failed to unmarshal season: %w", models.ErrMalformedResponse)
	}
	return &season, nil
}

// makeRequest returns models.ErrNotFound for 404 and wraps every other
// failure in models.ErrUpstreamUnavailable.
func (c *TMDBClient) makeRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tmdb api key not configured: %w", models.ErrUpstreamUnavailable)
	}
	params.Set("api_key", c.apiKey)

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TMDB endpoint %s: %w", endpoint, err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The query carries the api key; keep it out of errors and logs.
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = c.baseURL + endpoint
		}
		return nil, fmt.Errorf("tmdb %s: %w: %v", endpoint, models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tmdb %s: read response: %w: %v", endpoint, models.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("tmdb %s: %w", endpoint, models.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("tmdb %s returned status %d: %w", endpoint, resp.StatusCode, models.ErrUpstreamUnavailable)
	}
	return data, nil
}
