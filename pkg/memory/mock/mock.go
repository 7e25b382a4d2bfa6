// Package mock provides an in-memory test double for [memory.TranscriptStore].
//
// The mock keeps every written entry, answers Recent and Search from them,
// and records each method call for assertion in tests. It is safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	// inject store into the system under test …
//	if got := store.CallCount("WriteEntry"); got != 1 {
//	    t.Errorf("expected 1 WriteEntry call, got %d", got)
//	}
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is an in-memory [memory.TranscriptStore].
type Store struct {
	mu sync.Mutex

	calls   []Call
	entries []memory.TranscriptEntry

	// WriteEntryErr is returned by [Store.WriteEntry] when non-nil; the entry
	// is not kept.
	WriteEntryErr error

	// RecentErr is returned by [Store.Recent] when non-nil.
	RecentErr error

	// SearchErr is returned by [Store.Search] when non-nil.
	SearchErr error
}

var _ memory.TranscriptStore = (*Store)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Entries returns a copy of every entry written so far, in write order.
func (m *Store) Entries() []memory.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.TranscriptEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// WriteEntry implements [memory.TranscriptStore].
func (m *Store) WriteEntry(_ context.Context, entry memory.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntry", Args: []any{entry}})
	if m.WriteEntryErr != nil {
		return m.WriteEntryErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

// Recent implements [memory.TranscriptStore] over the entries in write order.
func (m *Store) Recent(_ context.Context, sessionID string, limit int) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{sessionID, limit}})
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	out := []memory.TranscriptEntry{}
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Search implements [memory.TranscriptStore] with a case-insensitive
// substring match on every word of query.
func (m *Store) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	words := strings.Fields(strings.ToLower(query))
	out := []memory.TranscriptEntry{}
	for _, e := range m.entries {
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
			continue
		}
		if !containsAll(strings.ToLower(e.Text), words) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func containsAll(text string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
