package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unicro/uniscout/internal/config"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	Algorithm string

	// SecretKey is the HS256 shared secret.
	SecretKey string

	// PublicKeyPEM is the RS256 public key, PKIX or PKCS#1.
	PublicKeyPEM string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// tokenClaims is the wire form of a token's claims.
type tokenClaims struct {
	Roles  []string `json:"roles"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Verifier checks token signatures and claims.
type Verifier struct {
	config    VerifierConfig
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier creates a verifier for one algorithm.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: cfg}

	switch cfg.Algorithm {
	case AlgorithmRS256:
		if cfg.PublicKeyPEM == "" {
			return nil, fmt.Errorf("RS256 requires a public key")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("load public key: %w", err)
		}
		v.publicKey = key
	case AlgorithmHS256:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithIssuedAt(),
	)
	return v, nil
}

// NewVerifierFromConfig builds a verifier from the auth section, reading the
// RS256 public key file when one is configured.
func NewVerifierFromConfig(cfg config.AuthConfig) (*Verifier, error) {
	vc := VerifierConfig{
		Algorithm: strings.ToUpper(cfg.Algorithm),
		SecretKey: cfg.Secret,
		Leeway:    30 * time.Second,
	}
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key file: %w", err)
		}
		vc.PublicKeyPEM = string(data)
	}
	return NewVerifier(vc)
}

// VerifyToken verifies a JWT and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrInvalidToken)
	}

	var tc tokenClaims
	token, err := v.parser.ParseWithClaims(tokenString, &tc, v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	if !validRoles(tc.Roles) {
		return nil, fmt.Errorf("%w: invalid roles: %v", ErrInvalidToken, tc.Roles)
	}
	if !validScopes(tc.Scopes) {
		return nil, fmt.Errorf("%w: invalid scopes: %v", ErrInvalidToken, tc.Scopes)
	}

	return &Claims{
		Subject: tc.Subject,
		Roles:   tc.Roles,
		Scopes:  tc.Scopes,
	}, nil
}

func (v *Verifier) key(token *jwt.Token) (interface{}, error) {
	switch v.config.Algorithm {
	case AlgorithmRS256:
		return v.publicKey, nil
	default:
		return []byte(v.config.SecretKey), nil
	}
}

// Issue signs claims with an HS256 secret. The CLI and tests use it to mint
// local tokens.
func Issue(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		Roles:  claims.Roles,
		Scopes: claims.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(secret))
}

func validRoles(roles []string) bool {
	for _, role := range roles {
		if role != RoleViewer && role != RoleController {
			return false
		}
	}
	return len(roles) > 0
}

func validScopes(scopes []string) bool {
	for _, scope := range scopes {
		switch scope {
		case ScopeRead, ScopeControl, ScopeTelemetry:
		default:
			return false
		}
	}
	return len(scopes) > 0
}
