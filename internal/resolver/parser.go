package resolver

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/shubhsaxena/cinesearch/internal/models"
)

// ErrFallbackParse is returned when no strategy can recover a movie list from
// a generated reply.
var ErrFallbackParse = errors.New("fallback reply could not be parsed")

type parseStrategy struct {
	name    string
	extract func(text string) (string, bool)
}

// Strategies are tried in order; the first whose candidate decodes wins.
var parseStrategies = []parseStrategy{
	{name: "strict", extract: extractStrict},
	{name: "fenced", extract: extractFenced},
	{name: "embedded", extract: extractEmbedded},
}

var (
	fencePattern    = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\r?\n?(.*?)```")
	fullDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	yearPattern     = regexp.MustCompile(`^\d{4}`)
)

// ParseFallback extracts at most limit movies from a generated reply and
// reports which strategy succeeded. An empty list ([], null or
// {"results":[]}) is a success; a non-empty list with no titled movie in it
// is not.
func ParseFallback(text string, limit int) ([]models.MovieSummary, string, error) {
	var lastErr error
	for _, strategy := range parseStrategies {
		candidate, ok := strategy.extract(text)
		if !ok {
			continue
		}
		raw, entries, err := decodeMovieList([]byte(candidate))
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", strategy.name, err)
			continue
		}
		movies := normalizeMovies(raw, limit)
		if len(movies) == 0 && entries > 0 {
			lastErr = fmt.Errorf("%s: none of %d entries is a titled movie", strategy.name, entries)
			continue
		}
		return movies, strategy.name, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no JSON candidate found")
	}
	return nil, "", fmt.Errorf("%w: %v (reply snippet: %s)", ErrFallbackParse, lastErr, summarizeSnippet(text))
}

func extractStrict(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	return trimmed, trimmed != ""
}

func extractFenced(text string) (string, bool) {
	m := fencePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	body := strings.TrimSpace(m[1])
	return body, body != ""
}

// extractEmbedded takes the widest bracketed span, preferring whichever of
// object or array opens first.
func extractEmbedded(text string) (string, bool) {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	open, closer := objStart, "}"
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		open, closer = arrStart, "]"
	}
	if open < 0 {
		return "", false
	}
	end := strings.LastIndex(text, closer)
	if end <= open {
		return "", false
	}
	return strings.TrimSpace(text[open : end+1]), true
}

type rawMovie struct {
	ID          flexString `json:"id"`
	Title       flexString `json:"title"`
	Name        flexString `json:"name"`
	ReleaseDate flexString `json:"release_date"`
	Year        flexString `json:"year"`
	Rating      flexFloat  `json:"rating"`
	VoteAverage flexFloat  `json:"vote_average"`
	PosterURL   flexString `json:"poster_url"`
	PosterPath  flexString `json:"poster_path"`
	Poster      flexString `json:"poster"`
	Overview    flexString `json:"overview"`
	Description flexString `json:"description"`
}

// decodeMovieList accepts a bare array, an object wrapping one under
// "results" or "movies", or a single movie object. entries counts every
// element of the list, including ones that are not objects.
func decodeMovieList(data []byte) (movies []rawMovie, entries int, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, errors.New("empty candidate")
	}

	switch data[0] {
	case '[':
		return decodeArray(data)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, 0, fmt.Errorf("decode object: %w", err)
		}
		for _, key := range []string{"results", "movies"} {
			if list, ok := obj[key]; ok {
				if string(bytes.TrimSpace(list)) == "null" {
					return []rawMovie{}, 0, nil
				}
				return decodeArray(list)
			}
		}
		if _, ok := obj["title"]; ok {
			return decodeArray(append(append([]byte{'['}, data...), ']'))
		}
		if _, ok := obj["name"]; ok {
			return decodeArray(append(append([]byte{'['}, data...), ']'))
		}
		return nil, 0, errors.New("object carries no movie list")
	default:
		return nil, 0, fmt.Errorf("candidate starts with %q", data[0])
	}
}

func decodeArray(data []byte) ([]rawMovie, int, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, 0, fmt.Errorf("decode array: %w", err)
	}
	out := make([]rawMovie, 0, len(elems))
	for _, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 || elem[0] != '{' {
			continue
		}
		var m rawMovie
		if err := json.Unmarshal(elem, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, len(elems), nil
}

func normalizeMovies(raw []rawMovie, limit int) []models.MovieSummary {
	out := make([]models.MovieSummary, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, m := range raw {
		title := firstNonEmpty(m.Title.String(), m.Name.String())
		if title == "" {
			continue
		}
		date := normalizeDate(firstNonEmpty(m.ReleaseDate.String(), m.Year.String()))

		rating := m.Rating
		if !rating.set {
			rating = m.VoteAverage
		}

		id := m.ID.String()
		if id == "" {
			id = syntheticID(title, date)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		out = append(out, models.MovieSummary{
			ID:          id,
			Title:       title,
			ReleaseDate: date,
			PosterURL:   absoluteURL(firstNonEmpty(m.PosterURL.String(), m.PosterPath.String(), m.Poster.String())),
			Rating:      clampRating(rating.value),
			Overview:    firstNonEmpty(m.Overview.String(), m.Description.String()),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func syntheticID(title, date string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(title) + "|" + date))
	return fmt.Sprintf("gen-%x", sum[:8])
}

func normalizeDate(s string) string {
	if fullDatePattern.MatchString(s) {
		return s
	}
	if y := yearPattern.FindString(s); y != "" {
		return y
	}
	return ""
}

func absoluteURL(s string) string {
	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		return s
	}
	return ""
}

func clampRating(r float64) float64 {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 10 {
		return 10
	}
	return r
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func summarizeSnippet(text string) string {
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}

// flexString accepts a JSON string or number. Anything else decodes as empty.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*f = flexString(data)
	}
	return nil
}

func (f flexString) String() string {
	return string(f)
}

// flexFloat accepts a JSON number or a numeric string such as "7.5" or
// "7.5/10". Unparseable values decode as unset.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	f.value = v
	f.set = true
	return nil
}
