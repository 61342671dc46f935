package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/llm-governance-gateway/utils"
	"go.uber.org/zap"
)

var (
	// ErrInvalidToken is returned when a bearer token fails verification
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a bearer token has expired
	ErrTokenExpired = errors.New("token expired")
)

// AdminClaims are the claims carried by an operator token
type AdminClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// HasRole reports whether the token grants role
func (c *AdminClaims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// AdminAuth guards operational endpoints with HS256 bearer tokens
type AdminAuth struct {
	secret []byte
	issuer string
	role   string
	logger *zap.Logger
}

// NewAdminAuth creates a new AdminAuth. An empty secret disables the check.
func NewAdminAuth(secret, issuer, role string, logger *zap.Logger) *AdminAuth {
	return &AdminAuth{
		secret: []byte(secret),
		issuer: issuer,
		role:   role,
		logger: logger,
	}
}

// Enabled reports whether tokens are verified
func (m *AdminAuth) Enabled() bool {
	return len(m.secret) > 0
}

// ValidateToken verifies the signature, expiry and issuer of a token
func (m *AdminAuth) ValidateToken(tokenString string) (*AdminClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireAdmin rejects requests without a valid token carrying the admin role
func (m *AdminAuth) RequireAdmin(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestIDFromContext(r.Context())

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing admin token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.ValidateToken(token)
		if err != nil {
			m.logger.Warn("admin token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		if !claims.HasRole(m.role) {
			m.logger.Warn("insufficient permissions",
				zap.String("request_id", requestID),
				zap.String("required_role", m.role),
				zap.String("sub", claims.Subject),
				zap.Strings("roles", claims.Roles))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
