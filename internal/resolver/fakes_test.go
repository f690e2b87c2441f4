package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/cache"
	"github.com/shubhsaxena/cinesearch/internal/models"
)

type fakeCatalogue struct {
	mu      sync.Mutex
	results map[string][]models.MovieSummary
	gates   map[string]chan struct{}
	err     error
	delay   time.Duration
	queries []string
}

func newFakeCatalogue() *fakeCatalogue {
	return &fakeCatalogue{
		results: make(map[string][]models.MovieSummary),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *fakeCatalogue) Search(ctx context.Context, query string, pageSize int) ([]models.MovieSummary, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	gate := f.gates[query]
	results := f.results[query]
	err := f.err
	delay := f.delay
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return models.CloneResults(results), nil
}

func (f *fakeCatalogue) gate(query string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[query] = ch
	return ch
}

func (f *fakeCatalogue) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeCatalogue) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	gate    chan struct{}
	queries []string
}

func (f *fakeGenerator) Generate(ctx context.Context, query string) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	gate := f.gate
	reply := f.reply
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, query string) (*models.CacheEntry, error) {
	return nil, errors.New("cache unavailable")
}

func (failingCache) Set(ctx context.Context, entry *models.CacheEntry) error {
	return errors.New("cache unavailable")
}

func (failingCache) Clear(ctx context.Context) error {
	return errors.New("cache unavailable")
}

func testOptions() Options {
	return Options{
		MinQueryLength:  2,
		PageSize:        8,
		PrimaryTimeout:  time.Second,
		FallbackTimeout: time.Second,
	}
}

func newTestResolver(cat Catalogue, gen Generator, rc cache.ResultCache) *Resolver {
	return New(cat, gen, rc, nil, testOptions(), zap.NewNop())
}

func batmanResults() []models.MovieSummary {
	return []models.MovieSummary{
		{ID: "268", Title: "Batman", ReleaseDate: "1989-06-23", Rating: 7.2},
		{ID: "272", Title: "Batman Begins", ReleaseDate: "2005-06-10", Rating: 7.7},
		{ID: "364", Title: "Batman Returns", ReleaseDate: "1992-06-19", Rating: 6.9},
		{ID: "414", Title: "Batman Forever", ReleaseDate: "1995-06-16", Rating: 5.4},
		{ID: "415", Title: "Batman & Robin", ReleaseDate: "1997-06-20", Rating: 4.3},
	}
}

// statusLog collects onStatus callbacks.
type statusLog struct {
	mu       sync.Mutex
	statuses []models.Status
}

func (l *statusLog) record(s models.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) get() []models.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]models.Status, len(l.statuses))
	copy(cp, l.statuses)
	return cp
}
