package integration_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RiverbendLabs/coursepulse/internal/auth"
	"github.com/RiverbendLabs/coursepulse/internal/database"
	"github.com/RiverbendLabs/coursepulse/internal/feed"
	"github.com/RiverbendLabs/coursepulse/internal/membership"
	"github.com/RiverbendLabs/coursepulse/internal/merge"
	"github.com/RiverbendLabs/coursepulse/internal/progress"
	"github.com/RiverbendLabs/coursepulse/internal/server"
	"github.com/RiverbendLabs/coursepulse/internal/session"
	"github.com/RiverbendLabs/coursepulse/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "coursepulse_session"
	sessionIssuer        = "coursepulse-test"
	sessionUserID        = "user-abc"
	senderUserID         = "user-xyz"
	jsonContentType      = "application/json"
)

type integrationStack struct {
	server *httptest.Server
	db     *gorm.DB
}

func newIntegrationStack(testContext *testing.T) *integrationStack {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(testContext.TempDir(), "integration.db")
	db, err := database.OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	membershipStore, err := membership.NewStore(db)
	if err != nil {
		testContext.Fatalf("failed to build membership store: %v", err)
	}
	mergeStore, err := merge.NewStore(db)
	if err != nil {
		testContext.Fatalf("failed to build merge store: %v", err)
	}
	checkpointStore, err := progress.NewStore(db)
	if err != nil {
		testContext.Fatalf("failed to build checkpoint store: %v", err)
	}
	directory, err := users.NewDirectory(db)
	if err != nil {
		testContext.Fatalf("failed to build user directory: %v", err)
	}

	verifier, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session verifier: %v", err)
	}
	issuer := auth.NewStreamTokenIssuer(auth.StreamTokenIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
	})

	hub := feed.NewHub(zap.NewNop())
	factory, err := session.NewFactory(session.Config{
		Hub:         hub,
		Memberships: membershipStore,
		Names:       directory,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build session factory: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionVerifier: verifier,
		StreamTokens:    issuer,
		Hub:             hub,
		Sessions:        factory,
		Resolver:        merge.NewResolver(mergeStore, zap.NewNop()),
		Checkpoints:     checkpointStore,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return &integrationStack{server: testServer, db: db}
}

func mustMintSessionToken(testContext *testing.T, userID string) string {
	testContext.Helper()
	now := time.Now()
	claims := auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sessionSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}

func (s *integrationStack) authorizedRequest(testContext *testing.T, method, path string, body any) *http.Request {
	testContext.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		payload = encoded
	}
	request, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.AddCookie(&http.Cookie{Name: sessionCookieName, Value: mustMintSessionToken(testContext, sessionUserID)})
	request.Header.Set("Content-Type", jsonContentType)
	return request
}

func TestStreamDeliversNotificationsEndToEnd(testContext *testing.T) {
	stack := newIntegrationStack(testContext)

	if err := stack.db.Create(&membership.Enrollment{
		UserID:      sessionUserID,
		BatchName:   "ClassA",
		SubjectName: "Math",
	}).Error; err != nil {
		testContext.Fatalf("failed to seed enrollment: %v", err)
	}
	if err := stack.db.Create(&users.Profile{
		UserID:      senderUserID,
		DisplayName: "Priya Nair",
	}).Error; err != nil {
		testContext.Fatalf("failed to seed sender profile: %v", err)
	}

	tokenResponse, err := http.DefaultClient.Do(stack.authorizedRequest(testContext, http.MethodPost, "/auth/stream-token", nil))
	if err != nil {
		testContext.Fatalf("stream token request failed: %v", err)
	}
	defer tokenResponse.Body.Close()
	if tokenResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected stream token status: %d", tokenResponse.StatusCode)
	}
	var tokenPayload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(tokenResponse.Body).Decode(&tokenPayload); err != nil {
		testContext.Fatalf("failed to decode stream token: %v", err)
	}

	streamContext, cancelStream := context.WithCancel(context.Background())
	defer cancelStream()
	streamRequest, err := http.NewRequestWithContext(streamContext, http.MethodGet,
		stack.server.URL+"/notifications/stream?access_token="+tokenPayload.AccessToken, nil)
	if err != nil {
		testContext.Fatalf("failed to build stream request: %v", err)
	}
	streamResponse, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		testContext.Fatalf("stream request failed: %v", err)
	}
	defer streamResponse.Body.Close()
	if streamResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected stream status: %d", streamResponse.StatusCode)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(streamResponse.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	publish := func(body any) {
		response, err := http.DefaultClient.Do(stack.authorizedRequest(testContext, http.MethodPost, "/events", body))
		if err != nil {
			testContext.Fatalf("event publish failed: %v", err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusAccepted {
			testContext.Fatalf("unexpected publish status: %d", response.StatusCode)
		}
	}

	waitForNotification := func(wantedFragments ...string) string {
		deadline := time.After(5 * time.Second)
		var pendingData bool
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					testContext.Fatalf("stream closed before notification arrived")
				}
				if strings.HasPrefix(line, "event:") && strings.Contains(line, "notification") {
					pendingData = true
					continue
				}
				if pendingData && strings.HasPrefix(line, "data:") {
					matched := true
					for _, fragment := range wantedFragments {
						if !strings.Contains(line, fragment) {
							matched = false
							break
						}
					}
					if matched {
						return line
					}
					pendingData = false
				}
			case <-deadline:
				testContext.Fatalf("timed out waiting for notification")
			}
		}
	}

	// The stream handshake completes only after the session is wired, so the
	// subscriptions are live once the 200 arrives.
	publish(map[string]any{
		"operation": "INSERT",
		"channel":   feed.ChannelDirectMessages,
		"new": map[string]any{
			"sender_id":   senderUserID,
			"receiver_id": sessionUserID,
			"content":     "see you at the study session tonight, bring the notes",
		},
	})
	directData := waitForNotification("Priya Nair", "/messages?chatId="+senderUserID)
	if !strings.Contains(directData, "...") {
		testContext.Fatalf("expected truncated body in %q", directData)
	}

	// Community post in an enrolled scope.
	publish(map[string]any{
		"operation": "INSERT",
		"channel":   feed.ChannelCommunityMessages,
		"new": map[string]any{
			"author_id":    senderUserID,
			"batch_name":   "ClassA",
			"subject_name": "Math",
			"content":      "new worksheet posted",
		},
	})
	waitForNotification("ClassA", "/community?batch=ClassA\\u0026subject=Math")
}

func TestProgressRoundTripEndToEnd(testContext *testing.T) {
	stack := newIntegrationStack(testContext)

	saveResponse, err := http.DefaultClient.Do(stack.authorizedRequest(testContext, http.MethodPut, "/progress/lecture-42", map[string]any{
		"position_s": 130.5,
		"duration_s": 600.0,
	}))
	if err != nil {
		testContext.Fatalf("save request failed: %v", err)
	}
	saveResponse.Body.Close()
	if saveResponse.StatusCode != http.StatusNoContent {
		testContext.Fatalf("unexpected save status: %d", saveResponse.StatusCode)
	}

	loadResponse, err := http.DefaultClient.Do(stack.authorizedRequest(testContext, http.MethodGet, "/progress/lecture-42", nil))
	if err != nil {
		testContext.Fatalf("load request failed: %v", err)
	}
	defer loadResponse.Body.Close()
	if loadResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected load status: %d", loadResponse.StatusCode)
	}
	var loadPayload struct {
		PositionSeconds float64 `json:"position_s"`
	}
	if err := json.NewDecoder(loadResponse.Body).Decode(&loadPayload); err != nil {
		testContext.Fatalf("failed to decode load response: %v", err)
	}
	if loadPayload.PositionSeconds != 130.5 {
		testContext.Fatalf("expected resumed position 130.5, got %v", loadPayload.PositionSeconds)
	}
}

func TestMergeGroupsEndToEnd(testContext *testing.T) {
	stack := newIntegrationStack(testContext)

	seed := []merge.Member{
		{GroupID: "group-1", BatchName: "ClassA", SubjectName: "Math"},
		{GroupID: "group-1", BatchName: "ClassB", SubjectName: "Math"},
	}
	for _, member := range seed {
		if err := stack.db.Create(&member).Error; err != nil {
			testContext.Fatalf("failed to seed merge member: %v", err)
		}
	}

	response, err := http.DefaultClient.Do(stack.authorizedRequest(testContext, http.MethodGet, "/merge-groups?batch=ClassB&subject=Math", nil))
	if err != nil {
		testContext.Fatalf("merge group request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected merge group status: %d", response.StatusCode)
	}

	var payload struct {
		Members []struct {
			Batch   string `json:"batch"`
			Subject string `json:"subject"`
		} `json:"members"`
		Canonical struct {
			Batch   string `json:"batch"`
			Subject string `json:"subject"`
		} `json:"canonical"`
		ORFilter string `json:"or_filter"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode merge group response: %v", err)
	}
	if len(payload.Members) != 2 {
		testContext.Fatalf("expected two members, got %+v", payload.Members)
	}
	if payload.Canonical.Batch != "ClassA" || payload.Canonical.Subject != "Math" {
		testContext.Fatalf("unexpected canonical member: %+v", payload.Canonical)
	}
	wantedFilter := "(batch_name = 'ClassA' AND subject_name = 'Math') OR (batch_name = 'ClassB' AND subject_name = 'Math')"
	if payload.ORFilter != wantedFilter {
		testContext.Fatalf("unexpected filter:\n got %q\nwant %q", payload.ORFilter, wantedFilter)
	}
}
