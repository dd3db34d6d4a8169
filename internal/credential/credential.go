// Package credential issues access tokens for accepted recognitions.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// DefaultRefreshTTL is the refresh token lifetime.
const DefaultRefreshTTL = 24 * time.Hour

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Issuer turns a matched identity into opaque tokens.
type Issuer interface {
	Issue(identityID, attemptID string) (Tokens, error)
}

// Tokens is an access/refresh pair.
type Tokens struct {
	Access    string
	Refresh   string
	ExpiresAt time.Time
}

// Claims are the JWT claims of issued tokens.
type Claims struct {
	IdentityID string `json:"identity_id"`
	AttemptID  string `json:"attempt_id"`
	Type       string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTIssuer signs HS256 tokens.
type JWTIssuer struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTIssuer creates an issuer. ttl is the access token lifetime.
func NewJWTIssuer(signingKey, issuer, audience string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
}

func (s *JWTIssuer) sign(identityID, attemptID, typ string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		IdentityID: identityID,
		AttemptID:  attemptID,
		Type:       typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Issue signs an access and a refresh token for identityID.
func (s *JWTIssuer) Issue(identityID, attemptID string) (Tokens, error) {
	if identityID == "" {
		return Tokens{}, errors.New("issuing token: empty identity")
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)

	access, err := s.sign(identityID, attemptID, TypeAccess, expiresAt)
	if err != nil {
		return Tokens{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := s.sign(identityID, attemptID, TypeRefresh, now.Add(s.refreshTTL))
	if err != nil {
		return Tokens{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return Tokens{Access: access, Refresh: refresh, ExpiresAt: expiresAt}, nil
}

// Validate parses and verifies a token issued by s.
func (s *JWTIssuer) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
