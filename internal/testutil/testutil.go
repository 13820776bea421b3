// Package testutil provides common test utilities and helpers for avika tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeResult decodes an APIResponse envelope and, when target is not nil,
// its result field into target.
func DecodeResult(t TB, rr *httptest.ResponseRecorder, target interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v (body %q)", err, rr.Body.String())
	}
	if target != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, target); err != nil {
			t.Fatalf("failed to decode response result: %v", err)
		}
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateJSONRequest creates an HTTP request with a raw JSON body.
func CreateJSONRequest(t TB, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// BearerToken returns an HS256 token signed with secret that expires after ttl.
// A negative ttl yields an already expired token.
func BearerToken(t TB, secret, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// AssertTranscriptLen validates the number of transcript entries stored for a session.
func AssertTranscriptLen(t TB, st store.TranscriptStore, sessionID string, expected int, label string) {
	t.Helper()
	entries, err := st.GetTranscript(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("%s: failed to get transcript: %v", label, err)
	}
	if len(entries) != expected {
		t.Errorf("%s: expected %d transcript entries, got %d", label, expected, len(entries))
	}
}

// SeedTranscript appends n placeholder turns for sessionID.
func SeedTranscript(t TB, st store.TranscriptStore, sessionID string, n int) {
	t.Helper()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		entry := models.TranscriptEntry{
			ID:            fmt.Sprintf("%s-turn-%d", sessionID, i),
			SessionID:     sessionID,
			UserMessage:   fmt.Sprintf("user message %d", i),
			BotResponse:   fmt.Sprintf("bot response %d", i),
			Stage:         "supportive_response",
			Emotion:       "neutral",
			RiskLevel:     "low",
			ExchangeCount: i,
			ActionType:    "regular",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AppendTranscript(context.Background(), entry); err != nil {
			t.Fatalf("failed to seed transcript entry %d: %v", i, err)
		}
	}
}
