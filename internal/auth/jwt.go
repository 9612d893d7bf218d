// Package auth provides JWT minting and verification for stream capabilities.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry is the lifetime of a stream capability token.
const TokenExpiry = 24 * time.Hour

// DefaultLeeway tolerates minor clock skew between nodes during validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUserID is returned when userID is empty.
var ErrEmptyUserID = errors.New("userID cannot be empty")

// ErrEmptySessionID is returned when sessionID is empty.
var ErrEmptySessionID = errors.New("sessionID cannot be empty")

// Claims binds a participant (or creator) to a session for the token's
// lifetime. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// TokenService mints and verifies stream capability tokens.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type TokenService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewTokenService creates a TokenService with the given secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		currentSecret:  []byte(secret),
		previousSecret: nil,
		leeway:         DefaultLeeway,
	}
}

// NewTokenServiceWithRotation creates a TokenService with dual-key support
// for zero-downtime rotation. Tokens are always signed with currentSecret,
// but can be validated with either secret. Set previousSecret to empty
// string if no rotation is in progress.
func NewTokenServiceWithRotation(currentSecret, previousSecret string) *TokenService {
	svc := &TokenService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// Mint creates a signed token binding userID to sessionID for 24 hours.
// The same shape is used for participant stream tokens and creator tokens.
func (s *TokenService) Mint(userID, sessionID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	if sessionID == "" {
		return "", ErrEmptySessionID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiry)),
		},
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// Verify parses and validates a token, returning the claims if valid.
// Expired tokens return ErrExpiredToken; any other failure, including a
// non-HS256 signing method or missing claims, returns ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.currentSecret, nil
	}, jwt.WithLeeway(s.leeway))

	if err == nil {
		claims, ok := token.Claims.(*Claims)
		if ok && token.Valid && claims.Subject != "" && claims.SessionID != "" {
			return claims, nil
		}
		return nil, ErrInvalidToken
	}

	// If current secret fails and previous secret is available, try previous secret
	if s.previousSecret != nil {
		token, retryErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, ErrInvalidToken
			}
			return s.previousSecret, nil
		}, jwt.WithLeeway(s.leeway))

		if retryErr == nil {
			claims, ok := token.Claims.(*Claims)
			if ok && token.Valid && claims.Subject != "" && claims.SessionID != "" {
				return claims, nil
			}
			return nil, ErrInvalidToken
		}
		// A token signed with the current secret fails the retry with a
		// signature error; keep the first parse's verdict so an expired
		// token still reports as expired.
		if !errors.Is(err, jwt.ErrTokenExpired) {
			err = retryErr
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}
