package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestRateLimit_KeysPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	// Stands in for JWTAuth: the client id is already on the context when
	// the limiter runs.
	router.Use(func(c *gin.Context) {
		c.Set("clientID", c.GetHeader("X-Client"))
	})
	router.Use(RateLimit())
	router.POST("/api/v1/analysis/run", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(client string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/run", nil)
		req.Header.Set("X-Client", client)
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Trigger routes allow a burst of 5.
	for i := 0; i < 5; i++ {
		if code := do("limiter-client-a"); code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i+1, code)
		}
	}
	if code := do("limiter-client-a"); code != http.StatusBadRequest {
		t.Errorf("burst-exhausted client got %d, want 400", code)
	}

	// A different client from the same address has its own bucket.
	if code := do("limiter-client-b"); code != http.StatusOK {
		t.Errorf("fresh client got %d, want 200", code)
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTAuth("test-secret"))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("clientID"))
	})

	do := func(authorization string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		router.ServeHTTP(w, req)
		return w
	}

	valid := signToken(t, "test-secret", jwt.MapClaims{
		"client_id": "client-1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	if w := do("Bearer " + valid); w.Code != http.StatusOK {
		t.Errorf("valid token got %d, want 200", w.Code)
	} else if w.Body.String() != "client-1" {
		t.Errorf("clientID = %q, want client-1", w.Body.String())
	}

	if w := do(""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing header got %d, want 401", w.Code)
	}

	wrongSecret := signToken(t, "other-secret", jwt.MapClaims{
		"client_id": "client-1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	if w := do("Bearer " + wrongSecret); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret got %d, want 401", w.Code)
	}

	missingClaim := signToken(t, "test-secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if w := do("Bearer " + missingClaim); w.Code != http.StatusUnauthorized {
		t.Errorf("missing client_id got %d, want 401", w.Code)
	}
}
