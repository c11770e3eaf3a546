// ABOUTME: TTL-bounded duplicate guard for invoke delivery.
// ABOUTME: Drops invoke ids redelivered by the gateway after a reconnect.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Guard tracks recently seen keys so redelivered invokes are executed at
// most once per TTL window. Size-limited: when full, the oldest entry is
// evicted. Safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewGuard creates a guard with the given TTL and maximum tracked keys.
// A background goroutine prunes expired entries until Close is called.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.prune()
	return g
}

// Remember records the key and reports whether it was already present and
// unexpired. The check and the record are one atomic step, so two concurrent
// deliveries of the same key can never both pass.
func (g *Guard) Remember(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.seen[key]; ok && time.Since(e.seenAt) < g.ttl {
		return true
	}

	if e, ok := g.seen[key]; ok {
		// Expired entry for the same key: refresh in place.
		e.seenAt = time.Now()
		g.order.MoveToBack(e.element)
		return false
	}

	for len(g.seen) >= g.maxSize {
		front := g.order.Front()
		if front == nil {
			break
		}
		oldest := front.Value.(string)
		g.order.Remove(front)
		delete(g.seen, oldest)
	}

	g.seen[key] = &entry{
		seenAt:  time.Now(),
		element: g.order.PushBack(key),
	}
	return false
}

// Forget removes a key so its next delivery is treated as fresh. Used when a
// remembered delivery could not actually be completed.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.seen[key]; ok {
		g.order.Remove(e.element)
		delete(g.seen, key)
	}
}

// Contains reports whether the key is currently tracked and unexpired.
func (g *Guard) Contains(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.seen[key]
	return ok && time.Since(e.seenAt) < g.ttl
}

// Close stops the background pruning goroutine. Idempotent.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		g.closed = true
		close(g.done)
	}
}

func (g *Guard) prune() {
	interval := g.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.mu.Lock()
			for el := g.order.Front(); el != nil; {
				key := el.Value.(string)
				e := g.seen[key]
				if time.Since(e.seenAt) < g.ttl {
					break
				}
				next := el.Next()
				g.order.Remove(el)
				delete(g.seen, key)
				el = next
			}
			g.mu.Unlock()
		}
	}
}
