// Package constantsearch implements the asynchronous advisory query the
// build engine issues for files affected by a changed class constant.
// Requests are keyed by (owner class, field); at most one request per
// key is outstanding at a time.
package constantsearch

import (
	"context"
	"sync"
	"time"
)

// Affection is the result of a constant-search query. Known is false for
// force-completed or unsuccessful queries; the build engine applies its
// own conservative policy to unknown results.
type Affection struct {
	AffectedFiles []string
	Known         bool
}

// Key identifies an outstanding request.
type Key struct {
	OwnerClassName string
	FieldName      string
}

// Handle is a single-slot future for one query. A handle completes
// exactly once: with a result, or force-completed to an empty affection.
// It never resolves to an error.
type Handle struct {
	once   sync.Once
	done   chan struct{}
	result Affection
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// complete resolves the handle. Later completions are no-ops.
func (h *Handle) complete(result Affection) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// ForceComplete resolves the handle to an empty affection.
func (h *Handle) ForceComplete() {
	h.complete(Affection{})
}

// Get blocks until the handle resolves or ctx is done. A canceled
// context yields an empty affection, never an error.
func (h *Handle) Get(ctx context.Context) Affection {
	select {
	case <-h.done:
		return h.result
	case <-ctx.Done():
		return Affection{}
	}
}

// GetTimeout is Get bounded by a timeout.
func (h *Handle) GetTimeout(ctx context.Context, timeout time.Duration) Affection {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return h.Get(ctx)
}

// Table is the outstanding-request registry. All mutation is atomic per
// key.
type Table struct {
	mu      sync.Mutex
	pending map[Key]*Handle
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{pending: make(map[Key]*Handle)}
}

// Register creates and registers a new handle for key. Any previously
// outstanding handle under the same key is displaced and force-completed
// before the new one becomes resolvable.
func (t *Table) Register(key Key) *Handle {
	h := newHandle()

	t.mu.Lock()
	prev := t.pending[key]
	t.pending[key] = h
	t.mu.Unlock()

	if prev != nil {
		prev.ForceComplete()
	}
	return h
}

// Resolve completes the outstanding handle for key, if any, and removes
// it. A response for an unknown or superseded key is a silent no-op.
func (t *Table) Resolve(key Key, result Affection) {
	t.mu.Lock()
	h := t.pending[key]
	delete(t.pending, key)
	t.mu.Unlock()

	if h != nil {
		h.complete(result)
	}
}

// Drain force-completes and removes every outstanding handle. Called on
// session teardown so no builder goroutine stays blocked.
func (t *Table) Drain() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[Key]*Handle)
	t.mu.Unlock()

	for _, h := range pending {
		h.ForceComplete()
	}
}
