package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/util"
	"github.com/golang-jwt/jwt/v5"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	subjectKey
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// SubjectFrom returns the authenticated token subject, if any.
func SubjectFrom(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

// withRequestID reuses a client-supplied request ID or generates one, and
// logs every request on completion.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = util.GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		slog.Debug("Server: request handled", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start), "requestID", id)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// authenticator verifies HS256 bearer tokens.
type authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// verify returns the token subject.
func (a *authenticator) verify(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", errors.Join(errInvalidToken, err)
	}
	return claims.Subject, nil
}

// requireAuth rejects requests without a valid token. A nil authenticator
// lets every request through.
func (a *authenticator) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if a == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := a.verify(r.Header.Get("Authorization"))
		if err != nil {
			slog.Warn("Server.requireAuth: unauthorized", "path", r.URL.Path, "error", err, "requestID", requestIDFrom(r.Context()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="avika"`)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), subjectKey, sub)))
	}
}

// authorizeSession reports whether the caller may act on sessionID, writing
// a 403 when it may not. With auth enabled a token only grants access to
// the session named by its subject.
func (s *Server) authorizeSession(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if s.auth == nil {
		return true
	}
	if sub := SubjectFrom(r.Context()); sub != sessionID {
		slog.Warn("Server.authorizeSession: subject does not own session", "sessionID", sessionID,
			"subject", sub, "path", r.URL.Path, "requestID", requestIDFrom(r.Context()))
		writeJSONResponse(w, http.StatusForbidden, models.Error("Forbidden"))
		return false
	}
	return true
}
