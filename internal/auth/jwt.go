// Package auth - jwt.go issues and verifies the signed access tokens handed to organization admins
// after login. Tokens are HS256 JWTs scoped to exactly one organization.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is stamped into the iss claim when no issuer is configured.
const DefaultIssuer = "tenant-service"

// MinSecretLength is the recommended minimum signing secret length.
const MinSecretLength = 32

var (
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrMalformedToken   = errors.New("token is malformed")
)

// Claims is the wire format of an access token.
// The admin id travels in the registered "sub" claim.
type Claims struct {
	OrganizationID string `json:"organization_id"`
	jwt.RegisteredClaims
}

// SubjectID returns the admin the token was issued to.
func (c *Claims) SubjectID() string {
	return c.Subject
}

// TokenService signs and verifies access tokens with a single process-wide secret.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenService creates a token service. The secret must already be resolved,
// see ResolveSigningSecret.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is empty")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// IssueToken signs a token for subjectID scoped to organizationID.
// A ttl of zero or less produces a token that is already expired.
func (s *TokenService) IssueToken(subjectID, organizationID string, ttl time.Duration) (string, time.Time, error) {
	if subjectID == "" || organizationID == "" {
		return "", time.Time{}, errors.New("subject and organization are required")
	}

	issuedAt := s.now()
	expiresAt := issuedAt
	if ttl > 0 {
		expiresAt = issuedAt.Add(ttl)
	}

	claims := &Claims{
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyToken checks the signature first and the claims second. Any failure
// rejects the token as a whole.
func (s *TokenService) VerifyToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid {
		return nil, ErrMalformedToken
	}
	if claims.Subject == "" || claims.OrganizationID == "" {
		return nil, fmt.Errorf("%w: missing subject or organization", ErrMalformedToken)
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}

// ExtractBearerToken pulls the token out of an Authorization header.
// Expected format: "Bearer eyJhbGciOi..."
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("bearer token is empty")
	}
	return token, nil
}

// isDevMode mirrors config.IsDevMode; duplicated to keep auth free of the config import.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ResolveSigningSecret validates the configured secret once at startup.
// In production an empty secret is fatal. In dev mode a random secret is generated,
// which means tokens do not survive a restart.
func ResolveSigningSecret(configured string) (string, error) {
	if configured == "" {
		if !isDevMode() {
			return "", errors.New("auth.jwt_secret (TNT_AUTH_JWT_SECRET) is required outside dev mode; " +
				"generate one with: go run scripts/generate-key.go")
		}
		secret, err := generateRandomSecret()
		if err != nil {
			return "", fmt.Errorf("failed to generate dev signing secret: %w", err)
		}
		slog.Warn("auth.jwt_secret not set, using an auto-generated secret for development",
			"hint", "tokens will not persist across restarts")
		return secret, nil
	}

	if len(configured) < MinSecretLength {
		slog.Warn("auth.jwt_secret is shorter than recommended", "min_length", MinSecretLength)
	}
	return configured, nil
}
