package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/RiverbendLabs/coursepulse/internal/notify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventNotification = "notification"
	streamEventInvalidate   = "invalidate"
	streamEventChime        = "chime"
	streamEventHeartbeat    = "heartbeat"

	// invalidateAllKey tells the client-side query cache to drop everything.
	invalidateAllKey = "*"

	streamBufferSize  = 32
	heartbeatInterval = 25 * time.Second
)

var errStreamBackpressure = errors.New("stream client buffer full")

type streamEvent struct {
	name string
	data any
}

// streamClient adapts one SSE connection to the session's presentation
// surface. Sends are non-blocking: a client that cannot keep up misses
// events, never blocks dispatch.
type streamClient struct {
	events chan streamEvent
}

func newStreamClient() *streamClient {
	return &streamClient{events: make(chan streamEvent, streamBufferSize)}
}

func (sc *streamClient) Present(notification notify.Notification) {
	_ = sc.send(streamEventNotification, notification)
}

func (sc *streamClient) Invalidate(keys ...string) {
	_ = sc.send(streamEventInvalidate, gin.H{"keys": keys})
}

func (sc *streamClient) InvalidateAll() {
	_ = sc.send(streamEventInvalidate, gin.H{"keys": []string{invalidateAllKey}})
}

// Play forwards the audio cue to the client. The returned error surfaces
// backpressure; the notification engine swallows it.
func (sc *streamClient) Play() error {
	return sc.send(streamEventChime, gin.H{})
}

func (sc *streamClient) send(name string, data any) error {
	select {
	case sc.events <- streamEvent{name: name, data: data}:
		return nil
	default:
		return errStreamBackpressure
	}
}

// handleNotificationStream serves the SSE stream of one client session. The
// stream token travels as a query parameter because EventSource cannot set
// request headers.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID, err := h.streamTokens.ValidateStreamToken(c.Query("access_token"))
	if err != nil {
		h.logger.Warn("stream token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	client := newStreamClient()
	activeSession, err := h.sessions.Open(c.Request.Context(), userID, client)
	if err != nil {
		h.logger.Error("failed to open session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_open_failed"})
		return
	}
	defer activeSession.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"at": time.Now().UTC().Unix()})
			c.Writer.Flush()
		case event := <-client.events:
			c.SSEvent(event.name, event.data)
			c.Writer.Flush()
		}
	}
}
