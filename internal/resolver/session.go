package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/debounce"
	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
)

// Session is one user's live search box. It debounces input, runs
// resolutions in the background and publishes only the newest query's
// states, so a slow answer to an old query never overwrites a newer one.
type Session struct {
	resolver  *Resolver
	guard     Guard
	debouncer *debounce.Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger

	mu      sync.Mutex
	state   models.SearchState
	subs    map[int]chan models.SearchState
	nextSub int
	closed  bool

	inflight sync.WaitGroup
}

// NewSession starts an idle session. Resolutions run on a context derived
// from ctx and are abandoned when the session closes.
func NewSession(ctx context.Context, r *Resolver, debounceWindow time.Duration, logger *zap.Logger) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		resolver: r,
		ctx:      sctx,
		cancel:   cancel,
		logger:   logger,
		state: models.SearchState{
			Results: []models.MovieSummary{},
			Status:  models.StatusIdle,
		},
		subs: make(map[int]chan models.SearchState),
	}
	s.debouncer = debounce.New(debounceWindow, s.Resolve)
	return s
}

// Input feeds a keystroke-level query change through the debouncer.
func (s *Session) Input(text string) {
	s.debouncer.Push(strings.TrimSpace(text))
}

// Resolve starts resolving query immediately, superseding anything in flight.
func (s *Session) Resolve(query string) {
	if s.isClosed() {
		return
	}
	token := s.guard.Begin()
	normalized := Normalize(query)

	if !s.resolver.Resolvable(normalized) {
		s.guard.Commit(token, func() {
			s.setState(models.SearchState{
				Query:      normalized,
				Results:    []models.MovieSummary{},
				Status:     models.StatusIdle,
				Generation: uint64(token),
			})
		})
		return
	}

	if !s.track() {
		return
	}
	go func() {
		defer s.inflight.Done()

		res := s.resolver.Resolve(s.ctx, query, func(status models.Status) {
			s.guard.Commit(token, func() {
				s.setState(models.SearchState{
					Query:      normalized,
					Results:    s.currentResults(),
					Status:     status,
					Generation: uint64(token),
				})
			})
		})

		committed := s.guard.Commit(token, func() {
			s.setState(models.SearchState{
				Query:      res.Query,
				Results:    res.Results,
				Status:     res.Status,
				ErrorKind:  res.ErrorKind,
				Generation: uint64(token),
			})
		})
		if !committed {
			observability.StaleResultsDiscarded.Inc()
			s.logger.Debug("discarded superseded resolution",
				zap.String("query_hash", observability.HashQuery(res.Query)),
				zap.String("status", res.Status.String()),
			)
		}
	}()
}

// Clear returns the session to Idle and disregards any pending or in-flight
// query.
func (s *Session) Clear() {
	s.debouncer.Cancel()
	token := s.guard.Begin()
	s.guard.Commit(token, func() {
		s.setState(models.SearchState{
			Results:    []models.MovieSummary{},
			Status:     models.StatusIdle,
			Generation: uint64(token),
		})
	})
}

func (s *Session) State() models.SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Results = models.CloneResults(st.Results)
	return st
}

// Subscribe returns a channel that receives the current state and then every
// later one. A subscriber that falls behind skips intermediate states but
// always sees the newest. The channel is closed by cancel or Close.
func (s *Session) Subscribe() (<-chan models.SearchState, func()) {
	ch := make(chan models.SearchState, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops the session. In-flight resolutions finish in the background
// but publish nothing.
func (s *Session) Close() {
	s.guard.Invalidate()
	s.debouncer.Stop()
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Wait blocks until every resolution the session started has returned.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track registers an in-flight resolution unless the session has closed.
// Close sets closed under the same lock, so Wait never races an Add.
func (s *Session) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Session) currentResults() []models.MovieSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Results
}

func (s *Session) setState(st models.SearchState) {
	if st.Results == nil {
		st.Results = []models.MovieSummary{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = st
	for _, ch := range s.subs {
		publish(ch, st)
	}
}

// publish replaces any undelivered state so the send never blocks.
func publish(ch chan models.SearchState, st models.SearchState) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
