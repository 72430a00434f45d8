package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// A checkpoint this close to the end is treated as finished: the next
	// load starts the resource over.
	resumeSkipThresholdSeconds = 5.0
	// Positions that advanced less than this since the last persisted
	// watermark are not written, avoiding write amplification for a
	// continuously advancing value.
	minPersistDeltaSeconds = 5.0

	defaultAutosavePeriod = 10 * time.Second
)

var (
	errMissingStore  = errors.New("progress: checkpoint store is required")
	errMissingUserID = errors.New("progress: user identifier is required")
)

// Saver is the durable side of the engine.
type Saver interface {
	Upsert(ctx context.Context, checkpoint Checkpoint) error
	Find(ctx context.Context, userID, resourceID string) (Checkpoint, bool, error)
}

// EngineConfig describes the dependencies of a checkpoint engine.
type EngineConfig struct {
	Store  Saver
	UserID string
	Period time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

// Engine samples a monotonically advancing playback position on a fixed
// interval and flushes it when it has moved meaningfully. At most one
// autosave timer is active at a time; starting a new resource cancels the
// prior one.
type Engine struct {
	store  Saver
	userID string
	period time.Duration
	clock  func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	current *tracker
}

type tracker struct {
	resourceID  string
	getPosition func() float64
	getDuration func() float64
	// lastSaved advances only after a confirmed successful upsert, so a
	// transient failure never silently swallows the next write. Touched
	// only by the tracker goroutine after start.
	lastSaved float64
	stop      chan struct{}
	done      chan struct{}
}

// NewEngine constructs an idle engine for one user identity.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}
	period := cfg.Period
	if period <= 0 {
		period = defaultAutosavePeriod
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  cfg.Store,
		userID: cfg.UserID,
		period: period,
		clock:  clock,
		logger: logger,
	}, nil
}

// LoadInitialPosition returns where playback should resume: 0 when no
// checkpoint exists or when the stored one is within a few seconds of the
// end, otherwise the stored position. A lookup failure is reported so the
// caller can degrade to 0 explicitly.
func (e *Engine) LoadInitialPosition(ctx context.Context, resourceID string) (float64, error) {
	checkpoint, found, err := e.store.Find(ctx, e.userID, resourceID)
	if err != nil {
		e.logger.Warn("checkpoint lookup failed",
			zap.String("resource_id", resourceID), zap.Error(err))
		return 0, err
	}
	if !found {
		return 0, nil
	}
	if checkpoint.DurationSeconds-checkpoint.PositionSeconds <= resumeSkipThresholdSeconds {
		return 0, nil
	}
	return checkpoint.PositionSeconds, nil
}

// StartTracking begins the autosave timer for the resource, cancelling any
// prior tracker first. The position and duration callbacks are read on every
// tick, never captured.
func (e *Engine) StartTracking(ctx context.Context, resourceID string, getPosition, getDuration func() float64) {
	e.StopTracking()

	t := &tracker{
		resourceID:  resourceID,
		getPosition: getPosition,
		getDuration: getDuration,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	// Seed the watermark from the stored checkpoint so resumed playback
	// does not immediately rewrite an identical position.
	if checkpoint, found, err := e.store.Find(ctx, e.userID, resourceID); err == nil && found {
		t.lastSaved = checkpoint.PositionSeconds
	}

	e.mu.Lock()
	e.current = t
	e.mu.Unlock()

	e.logger.Info("progress tracking started", zap.String("resource_id", resourceID))
	go e.run(t)
}

// StopTracking cancels the active autosave timer. It is synchronous (no save
// fires after it returns) and idempotent, and must run on every exit path so
// timers do not accumulate across resource switches.
func (e *Engine) StopTracking() {
	e.mu.Lock()
	t := e.current
	e.current = nil
	e.mu.Unlock()
	if t == nil {
		return
	}
	close(t.stop)
	<-t.done
	e.logger.Info("progress tracking stopped", zap.String("resource_id", t.resourceID))
}

func (e *Engine) run(t *tracker) {
	defer close(t.done)
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			e.save(context.Background(), t, t.getPosition(), t.getDuration())
		}
	}
}

// save conditionally persists one sample. No-op while the duration is still
// unknown or the position has not advanced past the delta threshold.
func (e *Engine) save(ctx context.Context, t *tracker, position, duration float64) {
	if duration <= 0 {
		return
	}
	if delta := position - t.lastSaved; delta > -minPersistDeltaSeconds && delta < minPersistDeltaSeconds {
		return
	}

	checkpoint := Checkpoint{
		UserID:          e.userID,
		ResourceID:      t.resourceID,
		PositionSeconds: position,
		DurationSeconds: duration,
		LastWatchedAt:   e.clock().UTC(),
	}
	if err := e.store.Upsert(ctx, checkpoint); err != nil {
		e.logger.Warn("checkpoint save failed",
			zap.String("resource_id", t.resourceID), zap.Error(err))
		return
	}
	t.lastSaved = position
}
