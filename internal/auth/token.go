package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "venus-auth"
	defaultAudience = "venus-api"
	defaultTokenTTL = 24 * time.Hour
	defaultLeeway   = 30 * time.Second
)

// ErrInvalidToken covers structural and cryptographic verification failures.
var ErrInvalidToken = errors.New("invalid token")

// TokenConfig configures access-token issue and verification.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// Tokens issues and verifies HS256 access tokens for connection auth.
type Tokens struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
}

// NewTokens builds the token service.
func NewTokens(cfg TokenConfig) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Tokens{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		leeway:   leeway,
	}, nil
}

// Issue mints a signed token whose subject is the user ID.
func (t *Tokens) Issue(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    t.issuer,
		Audience:  jwt.ClaimStrings{t.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// VerifySubject validates the token and returns the subject user ID.
func (t *Tokens) VerifySubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(t.leeway),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
