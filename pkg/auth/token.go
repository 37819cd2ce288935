// Package auth verifies the HS256 access tokens minted by the identity service.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/enums"
)

// clockSkew tolerated between the identity service and this one.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Identity is the caller a verified token speaks for.
type Identity struct {
	UserID string
	Email  string
	Role   enums.Role
}

// Claims is the token body. user_id falls back to sub for tokens that omit it.
type Claims struct {
	UserID string     `json:"user_id,omitempty"`
	Email  string     `json:"email,omitempty"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after jwt's own checks on expiry and issuer.
func (c *Claims) Validate() error {
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	if c.UserID == "" {
		return errors.New("token carries no user id")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token carries unknown role %q", c.Role)
	}
	return nil
}

func (c *Claims) identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

// Verifier checks signature, issuer and expiry. It is safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.key); err != nil {
		return Identity{}, err
	}
	return claims.identity(), nil
}

func (v *Verifier) key(*jwt.Token) (any, error) { return v.secret, nil }

// BearerToken extracts the token from an Authorization header. The scheme is
// optional for callers that send the raw token.
func BearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	switch {
	case len(fields) == 1 && !strings.EqualFold(fields[0], "bearer"):
		return fields[0], true
	case len(fields) == 2 && strings.EqualFold(fields[0], "bearer"):
		return fields[1], true
	default:
		return "", false
	}
}

// Mint signs a token the way the identity service does. Tests and local tooling
// use it with the shared secret.
func Mint(cfg config.JWTConfig, now time.Time, ttl time.Duration, id Identity) (string, error) {
	switch {
	case cfg.Secret == "" || cfg.Issuer == "":
		return "", errors.New("jwt secret and issuer are required")
	case ttl <= 0:
		return "", errors.New("jwt ttl must be positive")
	case strings.TrimSpace(id.UserID) == "":
		return "", errors.New("user id is required")
	case !id.Role.IsValid():
		return "", fmt.Errorf("invalid role %q", id.Role)
	}
	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
