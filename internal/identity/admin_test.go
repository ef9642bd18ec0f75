package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T) *AdminTokenIssuer {
	t.Helper()
	a, err := NewAdminTokenIssuer("s3cret", "integrityd", time.Hour)
	if err != nil {
		t.Fatalf("NewAdminTokenIssuer: %v", err)
	}
	return a
}

func TestNewAdminTokenIssuer_emptySecret(t *testing.T) {
	if _, err := NewAdminTokenIssuer("", "integrityd", 0); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestAdminToken_issueAndVerify(t *testing.T) {
	a := newTestIssuer(t)

	tok, err := a.Issue("ops@artha", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := a.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "ops@artha" {
		t.Errorf("Subject: got %q", claims.Subject)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role: got %q", claims.Role)
	}
}

func TestAdminToken_rejections(t *testing.T) {
	a := newTestIssuer(t)
	other, _ := NewAdminTokenIssuer("different", "integrityd", time.Hour)
	otherIssuer, _ := NewAdminTokenIssuer("s3cret", "someone-else", time.Hour)

	wrongKey, _ := other.Issue("ops", 0)
	wrongIss, _ := otherIssuer.Issue("ops", 0)
	expired, _ := a.Issue("ops", -time.Minute)

	// Correct key but no admin role.
	claims := AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "integrityd",
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))

	tests := map[string]string{
		"wrong key":    wrongKey,
		"wrong issuer": wrongIss,
		"expired":      expired,
		"no role":      noRole,
		"garbage":      "not-a-jwt",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Verify(tok); err == nil {
				t.Error("expected verification error")
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestIssuer(t)
	tok, _ := a.Issue("ops@artha", 0)

	r := gin.New()
	r.POST("/guarded", RequireAdmin(a), func(c *gin.Context) {
		c.String(http.StatusOK, OperatorFromCtx(c))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != "ops@artha" {
				t.Errorf("operator: got %q", w.Body.String())
			}
		})
	}
}

func TestRequireAdmin_nilIssuerIsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/open", RequireAdmin(nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}
