// README: Tests for Firebase auth middleware and the role gate.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier, lookup middleware.RoleLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier, lookup))
	r.GET("/test", func(c *gin.Context) {
		uid := middleware.CallerUID(c)
		role := middleware.CallerRole(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "role": role})
	})
	r.GET("/rider-only", middleware.RequireRole("rider"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}}, nil)
	if w := do(r, "/test", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}}, nil)
	if w := do(r, "/test", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")}, nil)
	if w := do(r, "/test", "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "rider123",
		Claims: map[string]interface{}{"role": "rider"},
	}
	r := newTestRouter(&stubVerifier{token: token}, nil)
	w := do(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"uid":"rider123"`) || !strings.Contains(body, `"role":"rider"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestAuth_QueryTokenForWebsocket(t *testing.T) {
	r := newTestRouter(infra.NewDevVerifier(), nil)
	w := do(r, "/test?access_token=c9:customer", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "c9") {
		t.Fatalf("expected 200 with uid, got %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_RoleLookupFallback(t *testing.T) {
	token := &infra.FirebaseToken{UID: "u7", Claims: map[string]interface{}{}}
	lookup := func(_ context.Context, uid string) (string, error) {
		if uid == "u7" {
			return "rider", nil
		}
		return "", errors.New("unknown")
	}
	r := newTestRouter(&stubVerifier{token: token}, lookup)
	if w := do(r, "/rider-only", "Bearer x"); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	token := &infra.FirebaseToken{UID: "c1", Claims: map[string]interface{}{"role": "customer"}}
	r := newTestRouter(&stubVerifier{token: token}, nil)
	if w := do(r, "/rider-only", "Bearer x"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}
