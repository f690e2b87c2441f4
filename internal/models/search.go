package models

import (
	"fmt"
	"time"
)

type Status int

const (
	StatusIdle Status = iota
	StatusSearchingPrimary
	StatusSearchingFallback
	StatusResolved
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSearchingPrimary:
		return "searching_primary"
	case StatusSearchingFallback:
		return "searching_fallback"
	case StatusResolved:
		return "resolved"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Searching reports whether a network or generative call is in flight.
func (s Status) Searching() bool {
	return s == StatusSearchingPrimary || s == StatusSearchingFallback
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StatusIdle
	case "searching_primary":
		*s = StatusSearchingPrimary
	case "searching_fallback":
		*s = StatusSearchingFallback
	case "resolved":
		*s = StatusResolved
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown status %q", string(text))
	}
	return nil
}

type Origin string

const (
	OriginPrimary  Origin = "primary"
	OriginFallback Origin = "fallback"
)

type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindPrimaryTransport  ErrorKind = "primary-transport-error"
	ErrorKindFallbackTransport ErrorKind = "fallback-transport-error"
	ErrorKindFallbackParse     ErrorKind = "fallback-parse-error"
)

// MovieSummary is the single result shape shared by every source.
type MovieSummary struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date,omitempty"`
	PosterURL   string  `json:"poster_url,omitempty"`
	Rating      float64 `json:"rating"`
	Overview    string  `json:"overview,omitempty"`
}

// CacheEntry is written once per resolved query and replaced wholesale.
type CacheEntry struct {
	Query     string         `json:"query"`
	Results   []MovieSummary `json:"results"`
	Origin    Origin         `json:"origin"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy whose Results slice does not alias the receiver's.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Results = CloneResults(e.Results)
	return &out
}

type Resolution struct {
	Query     string         `json:"query"`
	Results   []MovieSummary `json:"results"`
	Status    Status         `json:"status"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Origin    Origin         `json:"-"`
	CacheHit  bool           `json:"cache_hit"`
	Err       error          `json:"-"`
}

// SearchState is what a live session exposes to its subscribers.
type SearchState struct {
	Query      string         `json:"query"`
	Results    []MovieSummary `json:"results"`
	Status     Status         `json:"status"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Generation uint64         `json:"generation"`
}

type ResolutionEvent struct {
	EventType   string    `json:"event_type"`
	QueryHash   string    `json:"query_hash"`
	Status      string    `json:"status"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	ResultCount int       `json:"result_count"`
	DurationMs  float64   `json:"duration_ms"`
	Severity    string    `json:"severity"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func CloneResults(in []MovieSummary) []MovieSummary {
	if in == nil {
		return []MovieSummary{}
	}
	out := make([]MovieSummary, len(in))
	copy(out, in)
	return out
}
