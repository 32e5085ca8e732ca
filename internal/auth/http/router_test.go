package http_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authhttp "github.com/spendlog/backend/internal/auth/http"
	"github.com/spendlog/backend/internal/common/jwtverify"
	"github.com/spendlog/backend/internal/common/logger"
)

func newTestHandler(verify jwtverify.VerifyFunc) http.Handler {
	if verify == nil {
		verify = func(tokenString string) (jwtverify.Claims, error) {
			return jwtverify.Claims{}, errors.New("invalid")
		}
	}
	return authhttp.NewHandler(nil, 5*time.Second, verify, logger.NewDiscard())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(nil)

	for _, path := range []string{"/api/auth/register", "/api/auth/login", "/api/auth/refresh", "/api/auth/logout"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestHandler_Register_InvalidJSON(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Register_ValidationFailure(t *testing.T) {
	handler := newTestHandler(nil)

	body := `{"email":"not-an-email","password":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VALIDATION_FAILED") {
		t.Errorf("expected validation error code, got %s", rec.Body.String())
	}
}

func TestHandler_Refresh_MissingCookie(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "MISSING_REFRESH_TOKEN") {
		t.Errorf("expected missing-token code, got %s", rec.Body.String())
	}
}

func TestHandler_Me_MissingAuthorization(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_Me_InvalidToken(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_TOKEN") {
		t.Errorf("expected invalid-token code, got %s", rec.Body.String())
	}
}
