package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseAccessToken(t *testing.T) {
	op := &Operator{ID: "op-001", Username: "alice", Role: RoleOperator}

	token, expires, err := GenerateAccessToken(op, testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if time.Until(expires) < 14*time.Minute {
		t.Errorf("expires = %v, want ~15m from now", expires)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "op-001" || claims.Username != "alice" || claims.Role != RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	op := &Operator{ID: "op-001", Role: RoleViewer}

	_, expires, err := GenerateAccessToken(op, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	diff := time.Until(expires) - DefaultTokenTTL
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL off by %v", diff)
	}
}

func signClaims(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	now := time.Now()
	valid := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				Subject:   "op-001",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Role: RoleAdmin,
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = ""
	badRole := valid()
	badRole.Role = "owner"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-valid-jwt"},
		{"empty", ""},
		{"wrong secret", signClaims(t, valid(), jwt.SigningMethodHS256, []byte("another-secret"))},
		{"wrong method", signClaims(t, valid(), jwt.SigningMethodHS512, []byte(testSecret))},
		{"none method", signClaims(t, valid(), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)},
		{"expired", signClaims(t, expired, jwt.SigningMethodHS256, []byte(testSecret))},
		{"no expiry", signClaims(t, noExpiry, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong issuer", signClaims(t, wrongIssuer, jwt.SigningMethodHS256, []byte(testSecret))},
		{"no subject", signClaims(t, noSubject, jwt.SigningMethodHS256, []byte(testSecret))},
		{"unknown role", signClaims(t, badRole, jwt.SigningMethodHS256, []byte(testSecret))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, testSecret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}

	if _, err := ParseToken(signClaims(t, valid(), jwt.SigningMethodHS256, []byte(testSecret)), testSecret); err != nil {
		t.Errorf("control token rejected: %v", err)
	}
}
