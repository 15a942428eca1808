package providers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/release"
)

// DefaultResolvePattern captures the info hash and file index from a debrid
// resolve URL.
const DefaultResolvePattern = `/resolve/[^/]+/[^/]+/([a-fA-F0-9]{40})/[^/]+/(\d+)/`

var infoHashRe = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)

// DefaultCachedMarkers are the name markers addons put on debrid-cached results.
func DefaultCachedMarkers() []string {
	return []string{"[RD+]", "[RD⚡]", "⚡"}
}

// Candidate is a normalized stream. An empty Hash means display-only: the
// candidate can be shown but not persisted.
type Candidate struct {
	Name       string         `json:"name"`
	Title      string         `json:"title"`
	Filename   string         `json:"filename,omitempty"`
	Quality    models.Quality `json:"quality"`
	Size       string         `json:"size,omitempty"`
	SizeBytes  int64          `json:"size_bytes"`
	Hash       string         `json:"hash,omitempty"`
	FileIdx    int            `json:"file_idx"`
	ResolveURL string         `json:"resolve_url"`
	Provider   string         `json:"provider"`
}

// Persistable reports whether the candidate carries a hash.
func (c Candidate) Persistable() bool {
	return c.Hash != ""
}

// Record converts the candidate into a stream row for key.
func (c Candidate) Record(key models.ContentKey) models.StreamRecord {
	return models.StreamRecord{
		ContentID:  key.ContentID,
		MediaType:  key.MediaType,
		Season:     key.Season,
		Episode:    key.Episode,
		Quality:    c.Quality,
		Size:       c.Size,
		SizeBytes:  c.SizeBytes,
		Title:      c.Title,
		Hash:       c.Hash,
		FileIdx:    c.FileIdx,
		ResolveURL: c.ResolveURL,
		Provider:   c.Provider,
	}
}

// AcquirerConfig holds the pattern settings for Normalize.
type AcquirerConfig struct {
	CachedMarkers  []string
	ResolvePattern string
}

// Acquirer filters and classifies raw addon streams.
type Acquirer struct {
	rules   release.Provider
	markers []string
	resolve *regexp.Regexp
}

func NewAcquirer(rules release.Provider, cfg AcquirerConfig) (*Acquirer, error) {
	if rules == nil {
		return nil, fmt.Errorf("acquirer needs rules: %w", models.ErrInvalidInput)
	}
	pattern := cfg.ResolvePattern
	if pattern == "" {
		pattern = DefaultResolvePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("resolve pattern %q: %w: %v", pattern, models.ErrInvalidInput, err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("resolve pattern %q needs hash and file index groups: %w", pattern, models.ErrInvalidInput)
	}
	markers := cfg.CachedMarkers
	if markers == nil {
		markers = DefaultCachedMarkers()
	}
	return &Acquirer{rules: rules, markers: markers, resolve: re}, nil
}

// Normalize keeps debrid-cached streams, drops excluded releases and
// classifies the rest. Input order is preserved.
func (a *Acquirer) Normalize(raw []RawStream) []Candidate {
	rules := a.rules.Rules()
	out := make([]Candidate, 0, len(raw))
	for _, s := range raw {
		if !a.isCached(s.Name) {
			continue
		}
		filename := s.BehaviorHints.Filename
		if rules.Excluded(s.Name, s.Title, filename, s.Description) {
			continue
		}

		text := strings.Join([]string{s.Title, s.Description, s.Name}, " ")
		c := Candidate{
			Name:       s.Name,
			Title:      release.Truncate(releaseName(s)),
			Filename:   filename,
			Quality:    rules.Quality(s.Name, s.Title, filename),
			ResolveURL: s.URL,
			Provider:   s.Provider,
		}

		if s.BehaviorHints.VideoSize > 0 {
			c.SizeBytes = s.BehaviorHints.VideoSize
			c.Size = humanize.IBytes(uint64(c.SizeBytes))
		} else {
			c.SizeBytes = release.ParseSize(text)
			c.Size = release.SizeLabel(text)
		}

		c.Hash, c.FileIdx = a.locate(s)
		out = append(out, c)
	}
	return out
}

func (a *Acquirer) isCached(name string) bool {
	if len(a.markers) == 0 {
		return true
	}
	for _, m := range a.markers {
		if m != "" && strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// locate pulls hash and file index from the resolve URL, falling back to
// the infoHash and fileIdx fields.
func (a *Acquirer) locate(s RawStream) (string, int) {
	if m := a.resolve.FindStringSubmatch(s.URL); m != nil && infoHashRe.MatchString(m[1]) {
		idx, err := strconv.Atoi(m[2])
		if err == nil {
			return strings.ToLower(m[1]), idx
		}
	}
	if infoHashRe.MatchString(s.InfoHash) {
		idx := 0
		if s.FileIdx != nil {
			idx = *s.FileIdx
		}
		return strings.ToLower(s.InfoHash), idx
	}
	return "", 0
}

// releaseName picks a single-line release name: the first line of the
// title, else the filename, else the description or the addon's name field.
func releaseName(s RawStream) string {
	if line, _, _ := strings.Cut(s.Title, "\n"); strings.TrimSpace(line) != "" {
		return line
	}
	if s.BehaviorHints.Filename != "" {
		return s.BehaviorHints.Filename
	}
	if line, _, _ := strings.Cut(s.Description, "\n"); strings.TrimSpace(line) != "" {
		return line
	}
	return s.Name
}
