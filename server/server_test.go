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

	"github.com/golang-jwt/jwt/v5"

	contractx "taskpilot/agent/contract"
)

const testSecret = "test-secret"

type fakeChat struct {
	result contractx.ChatResult
	err    error

	gotOwnerID string
	gotText    string
}

func (f *fakeChat) HandleMessage(ctx context.Context, ownerID, text string) (contractx.ChatResult, error) {
	f.gotOwnerID = ownerID
	f.gotText = text
	if f.err != nil {
		return contractx.ChatResult{}, f.err
	}
	return f.result, nil
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestServer(chat ChatService) http.Handler {
	return New(Config{Auth: AuthConfig{JWTSecret: testSecret}}, chat)
}

func TestHealthOpenWithoutAuth(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(&fakeChat{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChatRequiresToken(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	newTestServer(&fakeChat{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("error body is not json: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error code: %q", envelope.Error.Code)
	}
}

func TestChatRejectsForgedToken(t *testing.T) {
	t.Parallel()

	claims := jwt.RegisteredClaims{Subject: "owner-a"}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+forged)
	newTestServer(&fakeChat{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestChatHappyPath(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		result: contractx.ChatResult{
			ConversationID: 42,
			Reply:          "Got it! Added 'buy milk'",
			ToolCalls: []contractx.ToolCallRecord{
				{Tool: "add_task", Arguments: map[string]any{"title": "buy milk"}},
			},
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"Add a task to buy milk"}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "owner-a"))
	newTestServer(chat).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if chat.gotOwnerID != "owner-a" {
		t.Fatalf("owner id not taken from token subject: %q", chat.gotOwnerID)
	}
	if chat.gotText != "Add a task to buy milk" {
		t.Fatalf("message not forwarded: %q", chat.gotText)
	}

	var body chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if body.ConversationID != 42 || body.Reply == "" || len(body.ToolCalls) != 1 {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{err: contractx.ErrEmptyMessage}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "owner-a"))
	newTestServer(chat).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatMalformedBody(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "owner-a"))
	newTestServer(&fakeChat{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatInternalErrorHidesDetail(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{err: errors.New("pg: connection refused")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "owner-a"))
	newTestServer(chat).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}
