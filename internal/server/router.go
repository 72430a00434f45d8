package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/RiverbendLabs/coursepulse/internal/auth"
	"github.com/RiverbendLabs/coursepulse/internal/feed"
	"github.com/RiverbendLabs/coursepulse/internal/merge"
	"github.com/RiverbendLabs/coursepulse/internal/progress"
	"github.com/RiverbendLabs/coursepulse/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "coursepulse_user_id"

var (
	errMissingSessionVerifier = errors.New("session verifier dependency required")
	errMissingStreamTokens    = errors.New("stream token manager dependency required")
	errMissingHub             = errors.New("change feed hub dependency required")
	errMissingSessions        = errors.New("session factory dependency required")
	errMissingResolver        = errors.New("merge resolver dependency required")
	errMissingCheckpoints     = errors.New("checkpoint store dependency required")
	errInvalidAuthorization   = errors.New("authorization missing or invalid")
)

// SessionVerifier validates identity-provider session tokens on requests.
type SessionVerifier interface {
	VerifyRequest(r *http.Request) (auth.SessionClaims, error)
}

// StreamTokenManager issues and validates the short-lived tokens carried on
// the SSE query string.
type StreamTokenManager interface {
	IssueStreamToken(ctx context.Context, userID string) (string, int64, error)
	ValidateStreamToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the core.
type Dependencies struct {
	SessionVerifier SessionVerifier
	StreamTokens    StreamTokenManager
	Hub             *feed.Hub
	Sessions        *session.Factory
	Resolver        *merge.Resolver
	Checkpoints     progress.Saver
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionVerifier == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.StreamTokens == nil {
		return nil, errMissingStreamTokens
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Checkpoints == nil {
		return nil, errMissingCheckpoints
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:     deps.SessionVerifier,
		streamTokens: deps.StreamTokens,
		hub:          deps.Hub,
		sessions:     deps.Sessions,
		resolver:     deps.Resolver,
		checkpoints:  deps.Checkpoints,
		logger:       logger,
	}

	router.GET("/notifications/stream", handler.handleNotificationStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/stream-token", handler.handleStreamToken)
	protected.POST("/events", handler.handleIngestEvent)
	protected.GET("/merge-groups", handler.handleMergeGroup)
	protected.GET("/progress/:resourceID", handler.handleLoadProgress)
	protected.PUT("/progress/:resourceID", handler.handleSaveProgress)

	return router, nil
}

type httpHandler struct {
	verifier     SessionVerifier
	streamTokens StreamTokenManager
	hub          *feed.Hub
	sessions     *session.Factory
	resolver     *merge.Resolver
	checkpoints  progress.Saver
	logger       *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.verifier.VerifyRequest(c.Request)
	if err != nil {
		h.logger.Warn("session verification failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID := claims.UserIdentifier()
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

type streamTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleStreamToken(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	token, expiresIn, err := h.streamTokens.IssueStreamToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue stream token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, streamTokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type ingestEventPayload struct {
	Operation string   `json:"operation"`
	Channel   string   `json:"channel"`
	New       feed.Row `json:"new"`
	Old       feed.Row `json:"old"`
}

func (h *httpHandler) handleIngestEvent(c *gin.Context) {
	var request ingestEventPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Channel) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	operation, err := feed.ParseOperation(request.Operation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
		return
	}

	h.hub.Publish(feed.ChangeEvent{
		Operation: operation,
		Channel:   strings.TrimSpace(request.Channel),
		New:       request.New,
		Old:       request.Old,
	})
	c.Status(http.StatusAccepted)
}

type mergeGroupResponse struct {
	Members   []merge.Pair `json:"members"`
	Canonical merge.Pair   `json:"canonical"`
	ORFilter  string       `json:"or_filter"`
}

func (h *httpHandler) handleMergeGroup(c *gin.Context) {
	batchName := c.Query("batch")
	subjectName := c.Query("subject")
	if batchName == "" || subjectName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	group := h.resolver.Resolve(c.Request.Context(), batchName, subjectName)
	c.JSON(http.StatusOK, mergeGroupResponse{
		Members:   group.Members,
		Canonical: group.Canonical,
		ORFilter:  group.ORFilter(),
	})
}

type loadProgressResponse struct {
	PositionSeconds float64 `json:"position_s"`
}

func (h *httpHandler) handleLoadProgress(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	engine, err := progress.NewEngine(progress.EngineConfig{
		Store:  h.checkpoints,
		UserID: userID,
		Logger: h.logger,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "progress_unavailable"})
		return
	}

	position, err := engine.LoadInitialPosition(c.Request.Context(), c.Param("resourceID"))
	if err != nil {
		// Degrade to starting over rather than failing the player.
		position = 0
	}
	c.JSON(http.StatusOK, loadProgressResponse{PositionSeconds: position})
}

type saveProgressPayload struct {
	PositionSeconds float64 `json:"position_s"`
	DurationSeconds float64 `json:"duration_s"`
}

func (h *httpHandler) handleSaveProgress(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request saveProgressPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.DurationSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	checkpoint := progress.Checkpoint{
		UserID:          userID,
		ResourceID:      c.Param("resourceID"),
		PositionSeconds: request.PositionSeconds,
		DurationSeconds: request.DurationSeconds,
		LastWatchedAt:   time.Now().UTC(),
	}
	if err := h.checkpoints.Upsert(c.Request.Context(), checkpoint); err != nil {
		h.logger.Error("failed to persist checkpoint", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
