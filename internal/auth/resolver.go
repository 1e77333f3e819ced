// Package auth resolves connection credentials into user identities.
//
// An identity is resolved once, when a connection is opened, and then reused
// for every action on that connection. A token that is revoked or expires
// mid-session stays effective until the client reconnects.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrAuthentication is returned for a missing, malformed, expired or
// otherwise invalid credential.
var ErrAuthentication = errors.New("authentication failed")

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// Identity is a stable, authenticated user.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Claims is the JWT payload. The user id travels in the standard "sub" claim.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies and mints HS256 tokens.
type Resolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewResolver(secret, issuer string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Resolve validates a token and returns the identity it carries.
func (r *Resolver) Resolve(tokenString string) (Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, fmt.Errorf("%w: credential missing", ErrAuthentication)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrAuthentication)
	}

	role := claims.Role
	if role == "" {
		role = RoleStudent
	}
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrAuthentication, role)
	}

	return Identity{UserID: claims.Subject, Role: role}, nil
}

// Issue mints a token for userID. It backs the dev token endpoint, the admin
// CLI and tests; production tokens come from the platform's login flow.
func (r *Resolver) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if role == "" {
		role = RoleStudent
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := r.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

// CredentialFromRequest extracts the connection credential from the
// handshake: an "Authorization: Bearer" header, or the "token" query
// parameter for browser WebSocket clients that cannot set headers.
func CredentialFromRequest(req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return req.URL.Query().Get("token")
}
