package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/flow"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/safety"
	"github.com/Saispecial/avika-backend-api/internal/store"
	"github.com/Saispecial/avika-backend-api/internal/testutil"
	"github.com/Saispecial/avika-backend-api/internal/wellness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, opts ...Option) (*Server, http.Handler) {
	t.Helper()
	srv, h, _ := newTestServerWithStore(t, opts...)
	return srv, h
}

func newTestServerWithStore(t *testing.T, opts ...Option) (*Server, http.Handler, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	srv := NewServer(flow.NewService(st), wellness.NewService(1), opts...)
	return srv, srv.Handler(), st
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func chat(t *testing.T, h http.Handler, sessionID, message string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: sessionID, Message: message})
	return serve(h, req)
}

func TestChatHandler_Success(t *testing.T) {
	_, h := newTestServer(t)

	rr := chat(t, h, "s1", "hello")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")

	var result models.TurnResult
	envelope := testutil.DecodeResult(t, rr, &result)
	assert.Equal(t, string(models.APIStatusOK), envelope.Status)
	assert.Equal(t, string(dialogue.StageInitialQuestion), result.Stage)
	assert.Equal(t, 1, result.ExchangeCount)
	assert.NotEmpty(t, result.Response)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestChatHandler_Crisis(t *testing.T) {
	_, h := newTestServer(t)

	rr := chat(t, h, "s1", "I want to kill myself")
	require.Equal(t, http.StatusOK, rr.Code)

	var result models.TurnResult
	testutil.DecodeResult(t, rr, &result)
	assert.Equal(t, string(safety.RiskHigh), result.RiskLevel)
	assert.Equal(t, safety.Crisis().Message, result.Response)
	assert.Equal(t, string(dialogue.StageSafetyIntervention), result.Stage)
}

func TestChatHandler_BadRequests(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid JSON", `{"sessionId":`, "Invalid JSON format"},
		{"missing session", `{"message":"hi"}`, models.ErrEmptySessionID.Error()},
		{"blank message", `{"sessionId":"s1","message":"   "}`, models.ErrEmptyMessage.Error()},
		{"empty body", ``, models.ErrEmptySessionID.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, testutil.CreateJSONRequest(t, http.MethodPost, "/api/chat", tt.body))
			require.Equal(t, http.StatusBadRequest, rr.Code)
			envelope := testutil.DecodeResult(t, rr, nil)
			assert.Equal(t, string(models.APIStatusError), envelope.Status)
			assert.Equal(t, tt.message, envelope.Message)
		})
	}
}

func TestChatHandler_MethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t)
	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestChatHandler_RateLimited(t *testing.T) {
	_, h := newTestServer(t, WithRateLimit(0.001, 2))

	require.Equal(t, http.StatusOK, chat(t, h, "s1", "hello").Code)
	require.Equal(t, http.StatusOK, chat(t, h, "s1", "hello").Code)

	rr := chat(t, h, "s1", "hello")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, chat(t, h, "other", "hello").Code, "limits are per session")
}

func TestAuth(t *testing.T) {
	srv, h := newTestServer(t, WithJWTSecret(testSecret))
	assert.True(t, srv.features.Auth)

	body := models.ChatRequest{SessionID: "s1", Message: "hello"}

	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", body))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + testutil.BearerToken(t, testSecret, "s1", time.Hour), http.StatusOK},
		{"other session", "Bearer " + testutil.BearerToken(t, testSecret, "s2", time.Hour), http.StatusForbidden},
		{"wrong secret", "Bearer " + testutil.BearerToken(t, "other", "s1", time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + testutil.BearerToken(t, testSecret, "s1", -time.Hour), http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", body)
			req.Header.Set("Authorization", tt.header)
			assert.Equal(t, tt.status, serve(h, req).Code)
		})
	}

	health := serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is public")
}

func TestSessionRoutesRequireOwnership(t *testing.T) {
	_, h, st := newTestServerWithStore(t, WithJWTSecret(testSecret))
	testutil.SeedTranscript(t, st, "victim", 3)

	intruder := "Bearer " + testutil.BearerToken(t, testSecret, "intruder", time.Hour)
	owner := "Bearer " + testutil.BearerToken(t, testSecret, "victim", time.Hour)

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/sessions/victim/state"},
		{http.MethodGet, "/api/sessions/victim/history"},
		{http.MethodDelete, "/api/sessions/victim"},
	}
	for _, rq := range requests {
		req := testutil.CreateHTTPRequest(t, rq.method, rq.path, nil)
		req.Header.Set("Authorization", intruder)
		rr := serve(h, req)
		assert.Equal(t, http.StatusForbidden, rr.Code, "%s %s", rq.method, rq.path)
		assert.Equal(t, "Forbidden", testutil.DecodeResult(t, rr, nil).Message)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", models.ChatRequest{SessionID: "victim", Message: "hello"})
	req.Header.Set("Authorization", intruder)
	assert.Equal(t, http.StatusForbidden, serve(h, req).Code)
	testutil.AssertTranscriptLen(t, st, "victim", 3, "after rejected requests")

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sessions/victim/history", nil)
	req.Header.Set("Authorization", owner)
	rr := serve(h, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var history sessionHistoryResponse
	testutil.DecodeResult(t, rr, &history)
	assert.Len(t, history.Entries, 3)
}

func TestAuthenticatorSubject(t *testing.T) {
	a := newAuthenticator(testSecret)
	sub, err := a.verify("Bearer " + testutil.BearerToken(t, testSecret, "user-42", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-42", sub)

	_, err = a.verify("")
	assert.ErrorIs(t, err, errMissingToken)
	_, err = a.verify("Bearer x.y.z")
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestWellnessHandler(t *testing.T) {
	_, h := newTestServer(t)

	rr := serve(h, testutil.CreateJSONRequest(t, http.MethodPost, "/api/wellness?action=generate-recommendations", `{"count":2}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []string
	testutil.DecodeResult(t, rr, &recs)
	assert.Len(t, recs, 2)

	rr = serve(h, testutil.CreateJSONRequest(t, http.MethodPost, "/api/wellness?action=safety-check", `{"message":"I feel hopeless"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var check models.SafetyCheckResult
	testutil.DecodeResult(t, rr, &check)
	assert.Equal(t, string(safety.RiskMedium), check.RiskLevel)
	assert.NotEmpty(t, check.Helplines)

	rr = serve(h, testutil.CreateJSONRequest(t, http.MethodPost, "/api/wellness?action=analyze-session", `{"conversationHistory":["I am so angry and frustrated"]}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var analysis models.SessionAnalysis
	testutil.DecodeResult(t, rr, &analysis)
	assert.Equal(t, "anger", analysis.DominantEmotion)

	rr = serve(h, testutil.CreateJSONRequest(t, http.MethodPost, "/api/wellness?action=dance", `{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, testutil.CreateJSONRequest(t, http.MethodPost, "/api/wellness?action=safety-check", ``))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrMissingWellnessArg.Error(), testutil.DecodeResult(t, rr, nil).Message)
}

func TestSessionEndpoints(t *testing.T) {
	_, h := newTestServer(t)

	require.Equal(t, http.StatusOK, chat(t, h, "s1", "hello").Code)
	require.Equal(t, http.StatusOK, chat(t, h, "s1", "okay").Code)

	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sessions/s1/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var state sessionStateResponse
	testutil.DecodeResult(t, rr, &state)
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, int64(2), state.Version)
	assert.Equal(t, 2, state.State.ExchangeCount)

	rr = serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sessions/s1/history?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var history sessionHistoryResponse
	testutil.DecodeResult(t, rr, &history)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, "okay", history.Entries[0].UserMessage)

	rr = serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sessions/s1/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, testutil.CreateHTTPRequest(t, http.MethodDelete, "/api/sessions/s1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Session reset", testutil.DecodeResult(t, rr, nil).Message)

	rr = serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/sessions/s1/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	testutil.DecodeResult(t, rr, &state)
	assert.Zero(t, state.Version)
	assert.Equal(t, dialogue.StageGreeting, state.State.Stage)
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := newTestServer(t, WithVersion("1.2.3"), WithFeatures(Features{Store: "memory", Responder: true}))

	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]interface{}
	testutil.DecodeResult(t, rr, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "1.2.3", health["version"])
	features, ok := health["features"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "memory", features["store"])
	assert.Equal(t, false, features["auth"])

	rr = serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	testutil.DecodeResult(t, rr, &health)
	assert.Contains(t, health, "goVersion")
	assert.Contains(t, health, "rateLimit")

	require.Equal(t, http.StatusOK, chat(t, h, "metrics", "hello").Code)
	rr = serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "avika_chat_turns_total"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, h := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-from-client")
	rr := serve(h, req)
	assert.Equal(t, "req-from-client", rr.Header().Get(RequestIDHeader))
}

func TestStatusForError(t *testing.T) {
	status, _ := statusForError(flow.ErrTooManyConflicts)
	assert.Equal(t, http.StatusConflict, status)

	status, msg := statusForError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", msg)
}

func TestSessionLimiterSweepsIdleSessions(t *testing.T) {
	l := newSessionLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.size())

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, l.Allow("a"))
	assert.Equal(t, 1, l.size(), "idle session b is swept")
}
