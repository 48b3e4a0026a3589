// Package auth resolves bearer tokens to identities.
package auth

import (
	"errors"
	"fmt"

	"github.com/dkeye/Dialtone/internal/config"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityProvider verifies a token and returns the identity it names.
type IdentityProvider interface {
	Identify(token string) (domain.Identity, error)
}

// JWTProvider accepts HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret       []byte
	nameClaim    string
	displayClaim string
	parser       *jwt.Parser
}

func NewJWTProvider(cfg config.AuthConfig) (*JWTProvider, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	p := &JWTProvider{
		secret:       []byte(cfg.JWTSecret),
		nameClaim:    cfg.NameClaim,
		displayClaim: cfg.DisplayClaim,
		parser:       jwt.NewParser(opts...),
	}
	if p.nameClaim == "" {
		p.nameClaim = "unique_name"
	}
	if p.displayClaim == "" {
		p.displayClaim = "name"
	}
	return p, nil
}

// Identify reads the unique name from the configured claim, falling back to
// "sub". The display name defaults to the unique name.
func (p *JWTProvider) Identify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrUnauthenticated
	}
	claims := jwt.MapClaims{}
	if _, err := p.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	name, _ := claims[p.nameClaim].(string)
	if name == "" {
		name, _ = claims["sub"].(string)
	}
	display, _ := claims[p.displayClaim].(string)
	id, err := domain.NewIdentity(name, display)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return id, nil
}

// Issue signs a token for name, for tests and development peers.
func (p *JWTProvider) Issue(name, display string, claims jwt.MapClaims) (string, error) {
	c := jwt.MapClaims{p.nameClaim: name}
	if display != "" {
		c[p.displayClaim] = display
	}
	for k, v := range claims {
		c[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}
