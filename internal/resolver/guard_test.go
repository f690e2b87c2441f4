package resolver

import (
	"sync"
	"testing"
)

func TestGuard_BeginIsMonotonic(t *testing.T) {
	var g Guard
	a := g.Begin()
	b := g.Begin()
	if b <= a {
		t.Errorf("expected increasing tokens, got %d then %d", a, b)
	}
}

func TestGuard_CommitOnlyCurrent(t *testing.T) {
	var g Guard
	old := g.Begin()
	current := g.Begin()

	ran := false
	if g.Commit(old, func() { ran = true }) {
		t.Error("stale token should not commit")
	}
	if ran {
		t.Error("stale commit must not run fn")
	}

	if !g.Commit(current, func() { ran = true }) {
		t.Error("current token should commit")
	}
	if !ran {
		t.Error("current commit should run fn")
	}
}

func TestGuard_Invalidate(t *testing.T) {
	var g Guard
	tok := g.Begin()
	g.Invalidate()

	if g.isCurrent(tok) {
		t.Error("token should be stale after invalidate")
	}
	if g.Commit(tok, func() {}) {
		t.Error("commit after invalidate should fail")
	}

	next := g.Begin()
	if !g.isCurrent(next) {
		t.Error("tokens issued after invalidate should be current")
	}
}

func TestGuard_ConcurrentBeginOnlyLastCommits(t *testing.T) {
	var g Guard
	var wg sync.WaitGroup
	tokens := make([]Token, 100)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = g.Begin()
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, tok := range tokens {
		if g.Commit(tok, func() {}) {
			committed++
		}
	}
	if committed != 1 {
		t.Errorf("expected exactly one current token, got %d", committed)
	}
}
