// Package identity issues and checks the operator tokens that guard the
// admin API. Tokens are HS256 JWTs signed with the shared admin secret; the
// subject names the operator and is journaled as the actor of each action.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxAdminClaims = "integrity_admin_claims"

// RoleAdmin is the only role accepted by RequireAdmin.
const RoleAdmin = "admin"

// AdminClaims are the JWT claims of an operator token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokenIssuer issues and verifies operator tokens.
type AdminTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewAdminTokenIssuer creates an AdminTokenIssuer.
//
//	secret: shared HMAC key; must not be empty.
//	issuer: the "iss" claim value.
//	ttl:    default token lifetime (8 hours when zero).
func NewAdminTokenIssuer(secret, issuer string, ttl time.Duration) (*AdminTokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("admin secret is empty")
	}
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &AdminTokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed operator token for operator. A zero ttl uses the
// issuer default.
func (a *AdminTokenIssuer) Issue(operator string, ttl time.Duration) (string, error) {
	if operator == "" {
		return "", errors.New("operator is required")
	}
	if ttl == 0 {
		ttl = a.ttl
	}
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Role: RoleAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator token.
func (a *AdminTokenIssuer) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid admin token claims")
	}
	if claims.Role != RoleAdmin {
		return nil, errors.New("not an admin token")
	}
	return claims, nil
}

// RequireAdmin returns a Gin middleware that enforces a valid operator Bearer
// token. A nil issuer disables the check.
func RequireAdmin(tokens *AdminTokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer admin token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid admin token: " + err.Error(),
			})
			return
		}

		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// AdminClaimsFromCtx returns the verified operator claims, or nil.
func AdminClaimsFromCtx(c *gin.Context) *AdminClaims {
	v, _ := c.Get(ctxAdminClaims)
	claims, _ := v.(*AdminClaims)
	return claims
}

// OperatorFromCtx returns the subject of the verified operator token, or "".
func OperatorFromCtx(c *gin.Context) string {
	if claims := AdminClaimsFromCtx(c); claims != nil {
		return claims.Subject
	}
	return ""
}
