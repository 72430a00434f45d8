package merge

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Merges are administrative and change infrequently, so resolved groups stay
// fresh for several minutes.
const (
	cacheTTL   = 10 * time.Minute
	cacheSweep = 15 * time.Minute
)

// Lookup queries the equivalence relation for a pair.
type Lookup interface {
	ListMerged(ctx context.Context, batchName, subjectName string) ([]Pair, error)
}

// Resolver computes merge groups with a canonical representative. It fails
// open: a lookup error yields the singleton group for the input pair, never
// an error, so the caller can always build a valid if narrower query.
type Resolver struct {
	store  Lookup
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewResolver constructs a Resolver over store.
func NewResolver(store Lookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		cache:  gocache.New(cacheTTL, cacheSweep),
		logger: logger,
	}
}

// Resolve returns the full equivalence class of (batch, subject) plus its
// canonical member. The queried pair is always a member, even when no merge
// exists.
func (r *Resolver) Resolve(ctx context.Context, batchName, subjectName string) Group {
	input := Pair{BatchName: batchName, SubjectName: subjectName}

	if cached, found := r.cache.Get(input.Key()); found {
		if group, ok := cached.(Group); ok {
			return group
		}
	}

	merged, err := r.store.ListMerged(ctx, batchName, subjectName)
	if err != nil {
		r.logger.Warn("merge lookup failed, falling back to singleton group",
			zap.String("batch", batchName),
			zap.String("subject", subjectName),
			zap.Error(err))
		// Not cached: the next call should see a recovered backend.
		return newGroup([]Pair{input})
	}

	group := newGroup(append(merged, input))
	r.cache.Set(input.Key(), group, gocache.DefaultExpiration)
	return group
}
