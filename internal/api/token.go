package api

import (
	"context"
	"strings"

	"salonbook/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload. Tokens are issued elsewhere; the API
// only verifies them.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HMAC-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses the raw token and returns the caller identity.
func (v *TokenVerifier) Verify(raw string) (models.AuthContext, error) {
	if len(v.secret) == 0 {
		return models.AuthContext{}, errInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return models.AuthContext{}, errInvalidToken
	}

	if strings.TrimSpace(claims.Subject) == "" || !models.IsValidRole(claims.Role) {
		return models.AuthContext{}, errInvalidToken
	}
	return models.AuthContext{SubjectID: claims.Subject, Role: claims.Role}, nil
}

type contextKey string

const authContextKey contextKey = "auth"

func withAuth(ctx context.Context, auth models.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// AuthFromContext returns the verified caller, if any.
func AuthFromContext(ctx context.Context) (models.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey).(models.AuthContext)
	return auth, ok
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errInvalidToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
