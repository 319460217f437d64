package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/segment-api/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newRouter(cfg config.AuthConfig) *gin.Engine {
	router := gin.New()
	router.GET("/whoami", Middleware(cfg), func(c *gin.Context) {
		subject, _ := GetSubject(c.Request.Context())
		c.String(http.StatusOK, subject)
	})
	return router
}

func TestMiddlewarePassesThroughWhenDisabled(t *testing.T) {
	router := newRouter(config.AuthConfig{Enabled: false})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "" {
		t.Fatalf("expected no subject, got %q", rec.Body.String())
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, Secret: "s3cret", Audience: "segment-api"}
	router := newRouter(cfg)
	token := signToken(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "user-42",
		Audience:  jwt.ClaimStrings{"segment-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "user-42" {
		t.Fatalf("unexpected subject %q", rec.Body.String())
	}
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, Secret: "s3cret", Audience: "segment-api"}
	router := newRouter(cfg)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"wrong secret": "Bearer " + signToken(t, "other", jwt.RegisteredClaims{
			Subject: "u", Audience: jwt.ClaimStrings{"segment-api"},
		}),
		"wrong audience": "Bearer " + signToken(t, "s3cret", jwt.RegisteredClaims{
			Subject: "u", Audience: jwt.ClaimStrings{"elsewhere"},
		}),
		"expired": "Bearer " + signToken(t, "s3cret", jwt.RegisteredClaims{
			Subject: "u", Audience: jwt.ClaimStrings{"segment-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}),
		"no subject": "Bearer " + signToken(t, "s3cret", jwt.RegisteredClaims{
			Audience: jwt.ClaimStrings{"segment-api"},
		}),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}
