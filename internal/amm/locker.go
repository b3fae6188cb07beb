package amm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var _ domain.Locker = (*KeyedLocker)(nil)

// KeyedLocker hands out exclusive in-process locks by key. Unrelated keys
// never contend, and entries are freed when no one holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{} // buffered 1, full while held
	refs int
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*slot)}
}

// Lock acquires every key, in sorted order, blocking until all are held or
// ctx is done. Duplicate keys are acquired once. The returned unlock
// releases them all and is safe to call more than once.
func (l *KeyedLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := canonicalKeys(keys)
	held := make([]string, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
		held = held[:0]
	}

	for _, k := range ordered {
		s := l.ref(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, fmt.Errorf("amm: lock %s: %w", k, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *KeyedLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *KeyedLocker) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.unref(key)
}

// canonicalKeys sorts and de-duplicates keys.
func canonicalKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
