package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/queue"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Issuer signs and verifies the HS256 access and refresh tokens.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func (i *Issuer) Issue(u models.User) (TokenPair, error) {
	access, err := i.sign(u, i.accessTTL, i.accessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := i.sign(u, i.refreshTTL, i.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (i *Issuer) sign(u models.User, ttl time.Duration, secret []byte) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"user_id": u.ID,
		"role":    string(u.Role),
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseAccess verifies an access token and returns the caller it names.
func (i *Issuer) ParseAccess(token string) (queue.Actor, error) {
	claims, err := i.parse(token, i.accessSecret)
	if err != nil {
		return queue.Actor{}, err
	}
	role := models.Role(stringClaim(claims, "role"))
	if !role.Valid() {
		return queue.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}
	return queue.Actor{UserID: stringClaim(claims, "user_id"), Role: role}, nil
}

// ParseRefresh verifies a refresh token and returns its user ID.
func (i *Issuer) ParseRefresh(token string) (string, error) {
	claims, err := i.parse(token, i.refreshSecret)
	if err != nil {
		return "", err
	}
	return stringClaim(claims, "user_id"), nil
}

func (i *Issuer) parse(raw string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || stringClaim(claims, "user_id") == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
