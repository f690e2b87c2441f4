package resolver

import "sync"

// Token identifies one resolution attempt. Tokens are issued in strictly
// increasing order.
type Token uint64

// Guard decides whether a resolution's outcome may still be published. Only
// the most recently issued token is current; everything older is stale.
type Guard struct {
	mu      sync.Mutex
	current uint64
}

// Begin issues a new token and makes it current, superseding all earlier ones.
func (g *Guard) Begin() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	return Token(g.current)
}

// Commit runs fn only if t is still current. fn runs with the guard held, so
// no Begin or Invalidate can interleave with it.
func (g *Guard) Commit(t Token, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if uint64(t) != g.current {
		return false
	}
	fn()
	return true
}

// Invalidate supersedes every token issued so far without issuing a new one.
func (g *Guard) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
}

// isCurrent reports whether t is the latest token issued.
func (g *Guard) isCurrent(t Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uint64(t) == g.current
}
