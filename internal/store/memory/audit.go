package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore keeps audit entries in a slice.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: a.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	a.mu.Unlock()
	reverse(out)
	return page(out, opts), nil
}
