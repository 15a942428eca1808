// Package release classifies torrent release names: quality tags, sizes,
// exclusion markers and collection packs. Every heuristic is an ordered list
// of patterns so operators can tune it from configuration.
package release

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

// MaxTitleLength bounds stored release names, counted in runes.
const MaxTitleLength = 200

// QualityRule tags a release when Pattern matches. Rules are evaluated in order.
type QualityRule struct {
	Pattern string         `json:"pattern" mapstructure:"pattern"`
	Tag     models.Quality `json:"tag" mapstructure:"tag"`
}

// Patterns is the raw, serializable form of a rule set.
type Patterns struct {
	Quality    []QualityRule `json:"quality_rules" mapstructure:"quality_rules"`
	Exclusions []string      `json:"exclusions" mapstructure:"exclusions"`
	Collection []string      `json:"collection_packs" mapstructure:"collection_packs"`
}

// DefaultPatterns returns the stock heuristics.
func DefaultPatterns() Patterns {
	return Patterns{
		Quality: []QualityRule{
			{Pattern: `2160p|\b4k\b|\buhd\b`, Tag: models.Quality2160P},
			{Pattern: `1080p`, Tag: models.Quality1080P},
			{Pattern: `720p`, Tag: models.Quality720P},
			{Pattern: `480p`, Tag: models.Quality480P},
		},
		Exclusions: []string{
			`\bremux\b`,
			`\bhdr(10)?\b|\bhdr10\+|dolby\s*vision|\bdovi\b|\bdv\b`,
			`\b3d\b`,
			`\bcam\b|\bhdcam\b|\bts\b|\btelesync\b|\btelecine\b|\bscr\b|\bscreener\b`,
		},
		Collection: []string{
			`\d+\s*movies?\s*collection`,
			`\btop\s*\d+\s*movies?\b`,
			`\bimdb\s*top\s*\d+`,
			`\bcomplete\s+movie\s+collection\b`,
		},
	}
}

// Provider hands out the current rule set. Settings swap rules at runtime,
// so long-lived components hold a Provider rather than a *Rules.
type Provider interface {
	Rules() *Rules
}

// Rules is a compiled Patterns set. The zero value matches nothing.
type Rules struct {
	quality    []compiledRule
	exclusions []*regexp.Regexp
	collection []*regexp.Regexp
}

type compiledRule struct {
	re  *regexp.Regexp
	tag models.Quality
}

// Compile turns raw patterns into case-insensitive regexps.
func Compile(p Patterns) (*Rules, error) {
	r := &Rules{}
	for _, q := range p.Quality {
		re, err := compile(q.Pattern)
		if err != nil {
			return nil, fmt.Errorf("quality rule %q: %w", q.Pattern, err)
		}
		r.quality = append(r.quality, compiledRule{re: re, tag: models.ParseQuality(string(q.Tag))})
	}
	for _, pat := range p.Exclusions {
		re, err := compile(pat)
		if err != nil {
			return nil, fmt.Errorf("exclusion %q: %w", pat, err)
		}
		r.exclusions = append(r.exclusions, re)
	}
	for _, pat := range p.Collection {
		re, err := compile(pat)
		if err != nil {
			return nil, fmt.Errorf("collection pattern %q: %w", pat, err)
		}
		r.collection = append(r.collection, re)
	}
	return r, nil
}

// MustCompile is Compile for patterns known to be valid, such as the defaults.
func MustCompile(p Patterns) *Rules {
	r, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return r
}

// Rules lets a fixed rule set act as its own Provider.
func (r *Rules) Rules() *Rules {
	return r
}

func compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty pattern: %w", models.ErrInvalidInput)
	}
	if !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return re, nil
}

// Quality returns the first matching tag over the given text fragments.
func (r *Rules) Quality(parts ...string) models.Quality {
	text := Normalize(strings.Join(parts, " "))
	for _, rule := range r.quality {
		if rule.re.MatchString(text) {
			return rule.tag
		}
	}
	return models.QualityUnknown
}

// Excluded reports whether any exclusion pattern matches.
func (r *Rules) Excluded(parts ...string) bool {
	return matchAny(r.exclusions, Normalize(strings.Join(parts, " ")))
}

// IsCollectionPack reports whether a title looks like a multi-movie bundle.
func (r *Rules) IsCollectionPack(title string) bool {
	return matchAny(r.collection, Normalize(title))
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var sizePattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(KB|MB|GB|TB)\b`)

// ParseSize converts the first "<number> <unit>" in text to bytes using
// 1024-based multipliers. No match yields 0.
func ParseSize(text string) int64 {
	m := sizePattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	var exp float64
	switch strings.ToUpper(m[2]) {
	case "KB":
		exp = 1
	case "MB":
		exp = 2
	case "GB":
		exp = 3
	case "TB":
		exp = 4
	}
	return int64(n * math.Pow(1024, exp))
}

// SizeLabel returns the first size substring as displayed upstream, e.g. "37.82 GB".
func SizeLabel(text string) string {
	m := sizePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + " " + strings.ToUpper(m[2])
}

// Normalize folds compatibility characters (full-width digits, ligatures)
// so the patterns above see plain ASCII where possible.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// Truncate shortens a release name to MaxTitleLength runes.
func Truncate(title string) string {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxTitleLength])
}
