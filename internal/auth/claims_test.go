package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("usr-001", RoleAdmin, testSecret, "graylogic", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, "graylogic")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateAccessToken("usr-001", RoleUser, testSecret, "graylogic", 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	expired := signClaims(t, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: RoleUser,
	}, jwt.SigningMethodHS256)

	noSubject := signClaims(t, CustomClaims{Role: RoleUser}, jwt.SigningMethodHS256)
	badRole := signClaims(t, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-001"},
		Role:             "superuser",
	}, jwt.SigningMethodHS256)
	hs512 := signClaims(t, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-001"},
		Role:             RoleUser,
	}, jwt.SigningMethodHS512)

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"garbage", "not-a-valid-jwt", testSecret, ""},
		{"wrong secret", valid, "wrong-secret", ""},
		{"wrong issuer", valid, testSecret, "someone-else"},
		{"expired", expired, testSecret, ""},
		{"missing subject", noSubject, testSecret, ""},
		{"unknown role", badRole, testSecret, ""},
		{"unexpected algorithm", hs512, testSecret, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_IssuerOptional(t *testing.T) {
	token, err := GenerateAccessToken("panel-kitchen", RolePanel, testSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if _, err := ParseToken(token, testSecret, ""); err != nil {
		t.Errorf("ParseToken() error = %v", err)
	}
}

func signClaims(t *testing.T, claims CustomClaims, method jwt.SigningMethod) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}
