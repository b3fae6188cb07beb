// Package memory provides in-process implementations of the cache, rate
// limit, and event bus interfaces for single-node deployments and tests.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const streamMaxLen = 10000

var _ domain.SignalBus = (*SignalBus)(nil)

// SignalBus fans published payloads out to in-process subscribers. Like
// Redis Pub/Sub it is lossy: a subscriber that falls behind misses messages.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	streams map[string]*stream
}

type subscription struct {
	pattern string
	ch      chan []byte
}

type stream struct {
	seq      uint64
	messages []domain.StreamMessage
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscription]struct{}),
		streams: make(map[string]*stream),
	}
}

// Publish delivers payload to every subscriber whose channel or glob
// pattern matches.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel, which may be a glob pattern. The
// returned channel closes when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscription{pattern: channel, ch: make(chan []byte, 128)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to a bounded stream.
func (b *SignalBus) StreamAppend(_ context.Context, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[name]
	if !ok {
		st = &stream{}
		b.streams[name] = st
	}
	st.seq++
	st.messages = append(st.messages, domain.StreamMessage{
		ID:      strconv.FormatUint(st.seq, 10),
		Payload: append([]byte(nil), payload...),
	})
	if over := len(st.messages) - streamMaxLen; over > 0 {
		st.messages = st.messages[over:]
	}
	return nil
}

// StreamRead returns up to count messages with an ID after lastID. "0"
// reads from the start and "$" returns nothing.
func (b *SignalBus) StreamRead(_ context.Context, name string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		after = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[name]
	if !ok {
		return nil, nil
	}
	var out []domain.StreamMessage
	for _, m := range st.messages {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}
