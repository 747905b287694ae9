package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Harinder441/daily-notes-ai/internal/auth"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

func performRequest(handler http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthzIsPublic(t *testing.T) {
	server := newTestServer(t)
	recorder := performRequest(server.handler, http.MethodGet, "/healthz", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
}

func TestNotesRequireAuthorization(t *testing.T) {
	server := newTestServer(t)
	recorder := performRequest(server.handler, http.MethodGet, "/notes/2024-03-07", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func TestPutThenGetNote(t *testing.T) {
	server := newTestServer(t)
	token := server.token(t, "user-1")

	created := performRequest(server.handler, http.MethodPut, "/notes/2024-03-07", token,
		`{"content":"morning pages","updated_at_ms":1709800000123}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d: %s", created.Code, created.Body.String())
	}

	updated := performRequest(server.handler, http.MethodPut, "/notes/2024-03-07", token,
		`{"content":"morning pages and more","updated_at_ms":1709800005000}`)
	if updated.Code != http.StatusOK {
		t.Fatalf("expected ok on update, got %d", updated.Code)
	}

	fetched := performRequest(server.handler, http.MethodGet, "/notes/2024-03-07", token, "")
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", fetched.Code)
	}
	var payload notePayload
	if err := json.Unmarshal(fetched.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Content != "morning pages and more" || payload.UpdatedAtMillis != 1709800005000 {
		t.Fatalf("unexpected payload %#v", payload)
	}

	otherUser := performRequest(server.handler, http.MethodGet, "/notes/2024-03-07", server.token(t, "user-2"), "")
	if otherUser.Code != http.StatusNotFound {
		t.Fatalf("expected records to be scoped per user, got %d", otherUser.Code)
	}
}

func TestPutNoteRejectsBadInput(t *testing.T) {
	server := newTestServer(t)
	token := server.token(t, "user-1")

	badDay := performRequest(server.handler, http.MethodPut, "/notes/07-03-2024", token,
		`{"content":"x","updated_at_ms":1}`)
	if badDay.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for malformed day, got %d", badDay.Code)
	}
	missingContent := performRequest(server.handler, http.MethodPut, "/notes/2024-03-07", token,
		`{"updated_at_ms":1}`)
	if missingContent.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for missing content, got %d", missingContent.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	server := newTestServer(t)
	token := server.token(t, "user-1")

	performRequest(server.handler, http.MethodPut, "/notes/2024-03-07", token, `{"content":"x","updated_at_ms":1}`)
	first := performRequest(server.handler, http.MethodDelete, "/notes/2024-03-07", token, "")
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected no content, got %d", first.Code)
	}
	second := performRequest(server.handler, http.MethodDelete, "/notes/2024-03-07", token, "")
	if second.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", second.Code)
	}
}

func TestExportPendingAndMark(t *testing.T) {
	server := newTestServer(t)
	token := server.token(t, "user-1")
	performRequest(server.handler, http.MethodPut, "/notes/2024-03-08", token, `{"content":"b","updated_at_ms":2}`)
	performRequest(server.handler, http.MethodPut, "/notes/2024-03-07", token, `{"content":"a","updated_at_ms":1}`)

	pending := performRequest(server.handler, http.MethodGet, "/notes/export/pending", token, "")
	if pending.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", pending.Code)
	}
	var listing struct {
		Notes []notePayload `json:"notes"`
	}
	if err := json.Unmarshal(pending.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Notes) != 2 || listing.Notes[0].DayKey != "2024-03-07" {
		t.Fatalf("unexpected pending listing %#v", listing.Notes)
	}

	marked := performRequest(server.handler, http.MethodPost, "/notes/export/mark", token, `{"days":["2024-03-07"]}`)
	if marked.Code != http.StatusOK || !strings.Contains(marked.Body.String(), `"marked":1`) {
		t.Fatalf("unexpected mark response %d %s", marked.Code, marked.Body.String())
	}

	invalid := performRequest(server.handler, http.MethodPost, "/notes/export/mark", token, `{"days":["nope"]}`)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", invalid.Code)
	}
}

func TestNotesStreamDeliversChanges(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()
	token := server.token(t, "user-stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/notes/stream?access_token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for server.dispatcher.SubscriberCount("user-stream") == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("stream never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err = server.service.UpsertNote(ctx, notes.UpsertRequest{
		UserID:    "user-stream",
		DayKey:    "2024-03-07",
		Content:   "from another session",
		UpdatedAt: time.UnixMilli(1709800000000),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var event notes.ChangeEvent
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if event.Type != notes.ChangeTypeInsert || event.Content != "from another session" || event.UpdatedAtMillis != 1709800000000 {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestNotesStreamRegistersSubscriberAfterHandshake(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()
	token := server.token(t, "user-handshake")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/notes/stream"
	conn, response, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("failed to dial stream: %v", err)
	}
	if response.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", response.StatusCode)
	}

	waitForSubscribers(ctx, t, server.dispatcher, "user-handshake", 1)
	if failures := server.logs.FilterMessage("websocket upgrade failed").Len(); failures != 0 {
		t.Fatalf("expected a clean upgrade, got %d failures", failures)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("failed to close stream: %v", err)
	}
	waitForSubscribers(ctx, t, server.dispatcher, "user-handshake", 0)
}

func TestNotesStreamDeliversLargeNotes(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()
	token := server.token(t, "user-large")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/notes/stream?access_token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial stream: %v", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)
	waitForSubscribers(ctx, t, server.dispatcher, "user-large", 1)

	content := strings.Repeat("long day ", 8*1024)
	_, err = server.service.UpsertNote(ctx, notes.UpsertRequest{
		UserID:    "user-large",
		DayKey:    "2024-03-07",
		Content:   content,
		UpdatedAt: time.UnixMilli(1709800000000),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var event notes.ChangeEvent
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if event.Content != content {
		t.Fatalf("expected %d bytes of content, got %d", len(content), len(event.Content))
	}
}

func waitForSubscribers(ctx context.Context, t *testing.T, dispatcher *RealtimeDispatcher, userID notes.UserID, expected int) {
	t.Helper()
	for dispatcher.SubscriberCount(userID) != expected {
		select {
		case <-ctx.Done():
			t.Fatalf("expected %d subscribers for %s, have %d", expected, userID, dispatcher.SubscriberCount(userID))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/notes/2024-03-07", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected one info entry, got %#v", entries)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/notes/2024-03-07", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %#v", entries)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestCORSMiddlewareAllowsPut(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware())
	router.PUT("/notes/:day", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/notes/2024-03-07", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodPut) {
		t.Fatalf("expected PUT to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing validator error, got %v", err)
	}
}
