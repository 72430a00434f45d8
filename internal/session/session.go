package session

import (
	"context"
	"errors"
	"sync"

	"github.com/RiverbendLabs/coursepulse/internal/feed"
	"github.com/RiverbendLabs/coursepulse/internal/membership"
	"github.com/RiverbendLabs/coursepulse/internal/notify"
	"go.uber.org/zap"
)

var (
	errMissingHub         = errors.New("session: change feed hub is required")
	errMissingMemberships = errors.New("session: membership lister is required")
	errMissingUserID      = errors.New("session: user identifier is required")
	errMissingClient      = errors.New("session: client is required")
)

// Client is the presentation surface of one connected client: it renders
// notifications, propagates cache invalidations, and plays the best-effort
// audio cue.
type Client interface {
	notify.Presenter
	notify.Invalidator
	notify.Chime
}

// Config describes the shared collaborators sessions are built from.
type Config struct {
	Hub         *feed.Hub
	Memberships membership.Lister
	Names       notify.NameResolver
	Logger      *zap.Logger
}

// Factory opens identity-bound sessions over shared infrastructure.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory validates the shared collaborators.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	if cfg.Memberships == nil {
		return nil, errMissingMemberships
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}, nil
}

// Session owns the subscriptions and caches bound to one active identity.
// It holds three hub subscriptions: the recipient-scoped direct-message
// channel, the unscoped community channel, and a catch-all used purely to
// invalidate every cached query on any backend mutation.
type Session struct {
	userID  string
	cache   *membership.Cache
	cancels []func()
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  *zap.Logger
}

// Open refreshes the membership snapshot for the identity and wires the
// subscriptions. A failed refresh is not fatal: the session starts with an
// empty snapshot, which drops community events until the surrounding
// lifecycle retries (false negatives only, never false positives).
func (f *Factory) Open(ctx context.Context, userID string, client Client) (*Session, error) {
	if userID == "" {
		return nil, errMissingUserID
	}
	if client == nil {
		return nil, errMissingClient
	}

	logger := f.logger.With(zap.String("user_id", userID))

	cache := membership.NewCache(f.cfg.Memberships, logger)
	if err := cache.Refresh(ctx, userID); err != nil {
		logger.Warn("session starting with empty membership snapshot", zap.Error(err))
	}

	engine, err := notify.NewEngine(notify.EngineConfig{
		UserID:      userID,
		Membership:  cache,
		Names:       f.cfg.Names,
		Presenter:   client,
		Invalidator: client,
		Chime:       client,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		userID: userID,
		cache:  cache,
		quit:   make(chan struct{}),
		logger: logger,
	}

	directStream, cancelDirect := f.cfg.Hub.Subscribe(nil, feed.ChannelDirectMessages, func(event feed.ChangeEvent) bool {
		return event.New.String("receiver_id") == userID
	})
	communityStream, cancelCommunity := f.cfg.Hub.Subscribe(nil, feed.ChannelCommunityMessages, nil)
	invalidateStream, cancelInvalidate := f.cfg.Hub.Subscribe(nil, "", nil)
	s.cancels = []func(){cancelDirect, cancelCommunity, cancelInvalidate}

	s.pump(directStream, func(event feed.ChangeEvent) {
		engine.HandleDirectMessage(context.Background(), event)
	})
	s.pump(communityStream, func(event feed.ChangeEvent) {
		engine.HandleCommunityMessage(context.Background(), event)
	})
	s.pump(invalidateStream, func(feed.ChangeEvent) {
		client.InvalidateAll()
	})

	logger.Info("session opened")
	return s, nil
}

// UserID returns the identity this session is bound to.
func (s *Session) UserID() string {
	return s.userID
}

// Memberships exposes the session's membership cache.
func (s *Session) Memberships() *membership.Cache {
	return s.cache
}

// Close tears down every subscription and stops the event pumps. It is
// synchronous and idempotent: once it returns, no handler fires again, not
// even for events already buffered at teardown time.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.quit)
		for _, cancel := range s.cancels {
			cancel()
		}
		s.wg.Wait()
		s.logger.Info("session closed")
	})
}

func (s *Session) pump(stream <-chan feed.ChangeEvent, handle func(feed.ChangeEvent)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.quit:
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				select {
				case <-s.quit:
					return
				default:
				}
				handle(event)
			}
		}
	}()
}
