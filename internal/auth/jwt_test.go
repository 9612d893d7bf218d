package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func TestMint(t *testing.T) {
	svc := NewTokenService(testSecret)

	tests := []struct {
		name      string
		userID    string
		sessionID string
		wantErr   error
	}{
		{
			name:      "valid token",
			userID:    "user-123",
			sessionID: "d3b07384-d9a0-4c9e-8b3a-111111111111",
			wantErr:   nil,
		},
		{
			name:      "empty userID",
			userID:    "",
			sessionID: "d3b07384-d9a0-4c9e-8b3a-111111111111",
			wantErr:   ErrEmptyUserID,
		},
		{
			name:      "empty sessionID",
			userID:    "user-123",
			sessionID: "",
			wantErr:   ErrEmptySessionID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Mint(tt.userID, tt.sessionID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Mint() error = %v, want %v", err, tt.wantErr)
				return
			}
			if err == nil && token == "" {
				t.Error("Mint() returned empty token")
			}
		})
	}
}

func TestVerify(t *testing.T) {
	svc := NewTokenService(testSecret)

	token, err := svc.Mint("user-123", "sess-abc")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-123")
	}
	if claims.SessionID != "sess-abc" {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, "sess-abc")
	}
	if claims.ExpiresAt == nil {
		t.Fatal("ExpiresAt is nil")
	}
	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != TokenExpiry {
		t.Errorf("token lifetime = %v, want %v", lifetime, TokenExpiry)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewTokenService(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"empty string", ""},
		{"not a jwt", "not-a-jwt"},
		{"truncated jwt", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", tt.token, err)
			}
		})
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := NewTokenService(testSecret)
	other := NewTokenService("another-secret-that-is-32-chars-long!!")

	token, err := other.Mint("user-123", "sess-abc")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewTokenService(testSecret)

	// Hand-craft a token expired well beyond the validation leeway.
	now := time.Now().Add(-2 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		SessionID: "sess-abc",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsUnexpectedAlg(t *testing.T) {
	svc := NewTokenService(testSecret)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "sess-abc",
	}
	// alg=none tokens must never validate regardless of signature contents.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsMissingSessionID(t *testing.T) {
	svc := NewTokenService(testSecret)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyWithRotation(t *testing.T) {
	oldSvc := NewTokenService(testSecret)
	newSecret := "rotated-secret-that-is-32-chars-long!!"

	token, err := oldSvc.Mint("user-123", "sess-abc")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	rotated := NewTokenServiceWithRotation(newSecret, testSecret)
	claims, err := rotated.Verify(token)
	if err != nil {
		t.Fatalf("Verify() with previous secret error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-123")
	}

	// Without the previous secret the old token must be rejected.
	unrotated := NewTokenService(newSecret)
	if _, err := unrotated.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyWithRotationKeepsExpiredVerdict(t *testing.T) {
	// An expired token signed with the current secret fails the
	// previous-secret retry on signature; the caller must still see it
	// as expired, not invalid.
	now := time.Now().Add(-2 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		SessionID: "sess-abc",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	rotated := NewTokenServiceWithRotation(testSecret, "previous-secret-that-is-32-chars-long!")
	if _, err := rotated.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}
