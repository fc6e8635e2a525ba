package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vibecards-backend/internal/handlers"
	"vibecards-backend/internal/middleware"
)

func newTestRouter(t *testing.T) (http.Handler, *middleware.JWTAuth) {
	t.Helper()
	jwtAuth := middleware.NewJWTAuth("router-test-secret")
	limiters := Limiters{
		Auth:     middleware.NewRateLimiter(3, time.Minute),
		Generate: middleware.NewRateLimiter(5, time.Minute),
	}
	t.Cleanup(limiters.Auth.Stop)
	t.Cleanup(limiters.Generate.Stop)

	h := Handlers{
		Auth:  handlers.NewAuthHandler(nil),
		Decks: handlers.NewDeckHandler(nil),
		Study: handlers.NewStudyHandler(nil),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"database": handlers.PingFunc(func(ctx context.Context) error { return nil }),
		}),
	}
	return New(jwtAuth, h, limiters, "http://localhost:3000", zap.NewNop()), jwtAuth
}

func TestRouter_Health(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_ProtectedRoutesNeedToken(t *testing.T) {
	r, _ := newTestRouter(t)
	id := uuid.NewString()

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/generate-deck"},
		{http.MethodGet, "/api/decks"},
		{http.MethodGet, "/api/decks/" + id},
		{http.MethodDelete, "/api/decks/" + id},
		{http.MethodGet, "/api/decks/" + id + "/export"},
		{http.MethodPost, "/api/decks/" + id + "/study"},
		{http.MethodGet, "/api/study/" + id},
		{http.MethodPost, "/api/study/" + id + "/flip"},
		{http.MethodPost, "/api/study/" + id + "/answer"},
		{http.MethodDelete, "/api/study/" + id},
		{http.MethodGet, "/api/dashboard/stats"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(rt.method, rt.path, nil))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestRouter_BadIDWithToken(t *testing.T) {
	r, jwtAuth := newTestRouter(t)
	token, err := jwtAuth.GenerateAccessToken(uuid.New(), "a@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/decks/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_AuthRateLimited(t *testing.T) {
	r, _ := newTestRouter(t)

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in", strings.NewReader("not json"))
		req.RemoteAddr = "192.0.2.1:5000"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		last = rr.Code
		if i < 3 {
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
