// Package auth implements the identity collaborator: credential hashing and
// the JWT session tokens that carry an authenticated subject id and role.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"example.com/mealbridge/services/dispatch/internal/model"
)

// Identity is the opaque authenticated identity attached to each request.
// The dispatch core trusts it and never re-derives trust.
type Identity struct {
	ID    string
	Role  model.Role
	Email string
}

// Claims represents the JWT claims
type Claims struct {
	Role    string `json:"role,omitempty"`
	Email   string `json:"email,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// purpose value carried by password reset tokens
const resetPurpose = "reset"

// common token errors
var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Tokens issues and verifies session and reset tokens
type Tokens struct {
	secret   []byte
	tokenTTL time.Duration
	resetTTL time.Duration
}

// NewTokens creates a token issuer
func NewTokens(secret string, tokenTTL, resetTTL time.Duration) *Tokens {
	return &Tokens{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		resetTTL: resetTTL,
	}
}

// IssueSession creates a signed session token for an account
func (t *Tokens) IssueSession(account *model.Account) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  string(account.Role),
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign session token")
	}
	return signed, nil
}

// IssueReset creates a short-lived password reset token
func (t *Tokens) IssueReset(accountID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Purpose: resetPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.resetTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign reset token")
	}
	return signed, nil
}

// VerifySession validates a session token and returns the identity it carries
func (t *Tokens) VerifySession(tokenStr string) (*Identity, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, ErrInvalidToken
	}

	role := model.Role(claims.Role)
	if !role.Valid() {
		return nil, ErrInvalidToken
	}

	return &Identity{
		ID:    claims.Subject,
		Role:  role,
		Email: claims.Email,
	}, nil
}

// VerifyReset validates a reset token and returns the subject account id
func (t *Tokens) VerifyReset(tokenStr string) (string, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return "", err
	}
	if claims.Purpose != resetPurpose {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (t *Tokens) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashSecret hashes a password or security answer with bcrypt
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash secret")
	}
	return string(hash), nil
}

// CheckSecret compares a plaintext secret against its bcrypt hash
func CheckSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
