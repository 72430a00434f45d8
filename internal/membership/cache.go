package membership

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Lister loads the membership set for a user identity.
type Lister interface {
	ListForUser(ctx context.Context, userID string) ([]Entry, error)
}

// Cache holds the session's membership snapshot. It is refreshed once when
// the identity becomes known and intentionally not kept live-synchronized:
// the staleness window is the session lifetime, which is acceptable because
// membership changes are rare relative to message volume.
type Cache struct {
	mu      sync.RWMutex
	store   Lister
	entries Snapshot
	logger  *zap.Logger
}

// NewCache constructs an empty cache backed by store.
func NewCache(store Lister, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger}
}

// Refresh replaces the snapshot with the user's current memberships. On
// failure the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context, userID string) error {
	entries, err := c.store.ListForUser(ctx, userID)
	if err != nil {
		c.logger.Warn("membership refresh failed",
			zap.String("user_id", userID), zap.Error(err))
		return err
	}

	snapshot := make(Snapshot, len(entries))
	for _, entry := range entries {
		snapshot[entry] = struct{}{}
	}

	c.mu.Lock()
	c.entries = snapshot
	c.mu.Unlock()

	c.logger.Info("membership snapshot refreshed",
		zap.String("user_id", userID), zap.Int("entries", len(snapshot)))
	return nil
}

// Snapshot returns the last refreshed membership set without a network round
// trip. Before the first successful refresh it is empty, which callers must
// treat as "drop the event", never as "relevant".
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entries == nil {
		return Snapshot{}
	}
	return c.entries
}
