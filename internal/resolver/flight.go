package resolver

import (
	"sync"

	"github.com/shubhsaxena/cinesearch/internal/models"
)

// flight is one network resolution shared by every caller that missed the
// cache for the same normalized query while it ran. Each caller's status
// callback sees every tier change, and a caller that joins late is told the
// current tier straight away.
type flight struct {
	done chan struct{}
	out  *outcome

	mu       sync.Mutex
	tier     models.Status
	watchers []func(models.Status)
}

func newFlight() *flight {
	return &flight{
		done: make(chan struct{}),
		tier: models.StatusSearchingPrimary,
	}
}

// watch registers fn for later tier changes. Callers have already announced
// SearchingPrimary themselves, so only a later tier is replayed.
func (f *flight) watch(fn func(models.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = append(f.watchers, fn)
	if f.tier != models.StatusSearchingPrimary {
		fn(f.tier)
	}
}

func (f *flight) advance(tier models.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tier == f.tier {
		return
	}
	f.tier = tier
	for _, fn := range f.watchers {
		fn(tier)
	}
}

// flights tracks the resolutions currently in progress, keyed by normalized
// query.
type flights struct {
	mu sync.Mutex
	m  map[string]*flight
}

// join returns the flight for key, creating it when none is running. leader
// reports whether the caller created it and so must run it.
func (fs *flights) join(key string, notify func(models.Status)) (f *flight, leader bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.m == nil {
		fs.m = make(map[string]*flight)
	}
	f, ok := fs.m[key]
	if !ok {
		f = newFlight()
		fs.m[key] = f
	}
	f.watch(notify)
	return f, !ok
}

// finish publishes out to everyone waiting on f. The flight leaves the table
// first, so a caller arriving afterwards starts a fresh resolution instead of
// joining a finished one.
func (fs *flights) finish(key string, f *flight, out *outcome) {
	fs.mu.Lock()
	if fs.m[key] == f {
		delete(fs.m, key)
	}
	fs.mu.Unlock()

	f.out = out
	close(f.done)
}
