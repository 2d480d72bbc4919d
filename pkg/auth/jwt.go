package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/venue-support/pkg/model"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID   model.Identity `json:"user_id"`
	Username string         `json:"username"`
	Role     model.Role     `json:"role"`
	jwt.RegisteredClaims
}

// Sender is the identity the claims put on outgoing messages.
func (c *Claims) Sender() model.Sender {
	return model.Sender{ID: c.UserID, Name: c.Username, Role: model.ParseRole(string(c.Role))}
}

// Issuer signs and checks HS256 access tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateToken creates a token for the given user.
func (i *Issuer) GenerateToken(userID model.Identity, username string, role model.Role) (string, error) {
	now := i.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// ValidateToken parses and validates a token.
func (i *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID.IsZero() {
		return nil, ErrInvalidToken
	}
	claims.Role = model.ParseRole(string(claims.Role))
	return claims, nil
}
