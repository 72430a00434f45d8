package notify

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/RiverbendLabs/coursepulse/internal/feed"
	"github.com/RiverbendLabs/coursepulse/internal/membership"
	"go.uber.org/zap"
)

const (
	maxBodyRunes = 40
	ellipsis     = "..."

	actionLabelDirect    = "Open chat"
	actionLabelCommunity = "View post"
)

// Cache keys invalidated when a community notification lands, so badge and
// list views refetch.
var notificationViewKeys = []string{"notifications", "notification_count"}

var (
	errMissingMembership = errors.New("notify: membership source is required")
	errMissingPresenter  = errors.New("notify: presenter is required")
	errMissingUserID     = errors.New("notify: user identifier is required")
)

// Presenter renders a notification to the active client.
type Presenter interface {
	Present(notification Notification)
}

// Invalidator propagates cache-invalidation signals to dependent views.
type Invalidator interface {
	Invalidate(keys ...string)
	InvalidateAll()
}

// Chime plays the best-effort audio cue accompanying a notification. Failure
// must never interrupt dispatch.
type Chime interface {
	Play() error
}

// MembershipSource exposes a live membership snapshot. The engine reads
// through this accessor on every event instead of capturing a snapshot at
// construction time.
type MembershipSource interface {
	Snapshot() membership.Snapshot
}

// NameResolver maps a user identifier to a display name.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

// EngineConfig describes the dependencies of a notification engine.
type EngineConfig struct {
	UserID      string
	Membership  MembershipSource
	Names       NameResolver
	Presenter   Presenter
	Invalidator Invalidator
	Chime       Chime
	IDProvider  IDProvider
	Logger      *zap.Logger
}

// Engine maps raw change events to user-relevant notifications with deep-link
// actions. One engine serves one identity for one session.
type Engine struct {
	userID      string
	memberships MembershipSource
	names       NameResolver
	presenter   Presenter
	invalidator Invalidator
	chime       Chime
	idProvider  IDProvider
	logger      *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}
	if cfg.Membership == nil {
		return nil, errMissingMembership
	}
	if cfg.Presenter == nil {
		return nil, errMissingPresenter
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		userID:      cfg.UserID,
		memberships: cfg.Membership,
		names:       cfg.Names,
		presenter:   cfg.Presenter,
		invalidator: cfg.Invalidator,
		chime:       cfg.Chime,
		idProvider:  idProvider,
		logger:      logger,
	}, nil
}

// HandleDirectMessage processes an event from the direct-message channel. The
// subscription is scoped server-side to the current recipient, so relevance
// is already guaranteed and every insert notifies.
func (e *Engine) HandleDirectMessage(ctx context.Context, event feed.ChangeEvent) {
	if event.Operation != feed.OperationInsert {
		return
	}
	senderID := event.New.String("sender_id")
	senderName := senderID
	if e.names != nil {
		senderName = e.names.DisplayName(ctx, senderID)
	}

	e.emit(Notification{
		Title: fmt.Sprintf("New message from %s", senderName),
		Body:  truncateBody(event.New.String("content")),
		Action: Action{
			Label:    actionLabelDirect,
			DeepLink: MessagesLink(senderID),
		},
	}, nil)
}

// HandleCommunityMessage processes an event from the community channel, which
// arrives unscoped. Rules apply in order: self-exclusion, then exact-match
// relevance against the membership snapshot. Merge groups are deliberately
// not expanded here; merged identities only converge on the query side.
func (e *Engine) HandleCommunityMessage(ctx context.Context, event feed.ChangeEvent) {
	if event.Operation != feed.OperationInsert {
		return
	}
	if event.New.String("author_id") == e.userID {
		return
	}

	batchName := event.New.String("batch_name")
	subjectName := event.New.String("subject_name")
	if !e.memberships.Snapshot().Contains(batchName, subjectName) {
		// Covers both genuine irrelevance and the startup race where an
		// event lands before the first membership refresh completes: a
		// dropped event is an acceptable false negative.
		e.logger.Debug("community event not relevant",
			zap.String("batch", batchName), zap.String("subject", subjectName))
		return
	}

	e.emit(Notification{
		Title: fmt.Sprintf("New post in %s - %s", batchName, subjectName),
		Body:  truncateBody(event.New.String("content")),
		Action: Action{
			Label:    actionLabelCommunity,
			DeepLink: CommunityLink(batchName, subjectName),
		},
	}, notificationViewKeys)
}

func (e *Engine) emit(notification Notification, invalidateKeys []string) {
	id, err := e.idProvider.NewID()
	if err != nil {
		e.logger.Warn("notification id generation failed", zap.Error(err))
	} else {
		notification.ID = id
	}

	e.presenter.Present(notification)

	if e.invalidator != nil && len(invalidateKeys) > 0 {
		e.invalidator.Invalidate(invalidateKeys...)
	}

	if e.chime != nil {
		if err := e.chime.Play(); err != nil {
			e.logger.Debug("notification chime failed", zap.Error(err))
		}
	}
}

// truncateBody caps message content at maxBodyRunes characters, appending an
// ellipsis marker when anything was cut.
func truncateBody(content string) string {
	if utf8.RuneCountInString(content) <= maxBodyRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxBodyRunes]) + ellipsis
}
