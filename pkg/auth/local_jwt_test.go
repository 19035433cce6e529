package auth

import (
	"strings"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *LocalJWTAuth {
	t.Helper()
	a, err := NewLocalJWTAuth("test-secret-key", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewLocalJWTAuth failed: %v", err)
	}
	return a
}

func TestGenerateAndVerifyTokens(t *testing.T) {
	a := newTestAuth(t)

	access, refresh, err := a.GenerateTokens("user-1", "student@example.com", "student")
	if err != nil {
		t.Fatalf("GenerateTokens failed: %v", err)
	}
	if access == "" || refresh == "" || access == refresh {
		t.Fatal("expected two distinct non-empty tokens")
	}

	user, err := a.VerifyAccessToken(access)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if user.ID != "user-1" || user.Email != "student@example.com" || user.Role != "student" {
		t.Errorf("unexpected user %+v", user)
	}

	claims, err := a.VerifyRefreshToken(refresh)
	if err != nil {
		t.Fatalf("VerifyRefreshToken failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.TokenID == "" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := newTestAuth(t)
	other, _ := NewLocalJWTAuth("another-secret", time.Minute, time.Hour)

	access, _, err := other.GenerateTokens("user-1", "x@example.com", "teacher")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.VerifyAccessToken(access); err == nil {
		t.Error("token signed with a different secret was accepted")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a, err := NewLocalJWTAuth("test-secret-key", -time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	access, _, err := a.GenerateTokens("user-1", "x@example.com", "student")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.VerifyAccessToken(access); err == nil {
		t.Error("expired token was accepted")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer abc123", "abc123", false},
		{"case insensitive scheme", "bearer abc123", "abc123", false},
		{"empty header", "", "", true},
		{"no scheme", "abc123", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Errorf("unexpected hash format: %s", hash)
	}

	ok, err := VerifyPassword(hash, "Sup3rSecret")
	if err != nil || !ok {
		t.Errorf("correct password rejected: ok=%v err=%v", ok, err)
	}

	ok, err = VerifyPassword(hash, "WrongPassword1")
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Error("wrong password accepted")
	}

	// Same password twice must produce different salts.
	hash2, _ := HashPassword("Sup3rSecret")
	if hash == hash2 {
		t.Error("two hashes of the same password are identical")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plaintext", "argon2id$onlyone", "bcrypt$a$b"} {
		if _, err := VerifyPassword(hash, "whatever"); err == nil {
			t.Errorf("malformed hash %q accepted", hash)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"Abcdef12", false},
		{"short1A", true},
		{"alllowercase1", true},
		{"ALLUPPERCASE1", true},
		{"NoNumbersHere", true},
	}

	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePassword(%q) err = %v, wantErr %v", tt.password, err, tt.wantErr)
		}
	}
}
