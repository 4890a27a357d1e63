package auth

import (
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := CheckPassword(hash, pwd); err != nil {
		t.Fatalf("CheckPassword failed when password should match: %v", err)
	}

	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("CheckPassword succeeded when it should have failed")
	}
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, _, err := m.GenerateToken(42, "test@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}

	if claims.Email != "test@example.com" || claims.UserID != 42 {
		t.Fatalf("claims mismatch: got %d %s", claims.UserID, claims.Email)
	}
}

func TestJWTManager_NormalizeEmailClaim(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, _, err := m.GenerateToken(7, "User.Case@Example.COM")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}

	if claims.Email != "user.case@example.com" {
		t.Fatalf("expected normalized email in claims, got %s", claims.Email)
	}
}

func TestJWTManager_RejectsWrongSecretAndExpired(t *testing.T) {
	good := NewJWTManager("secret-a", 5*time.Minute)
	other := NewJWTManager("secret-b", 5*time.Minute)

	token, _, err := other.GenerateToken(1, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := good.VerifyToken(token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}

	expired := NewJWTManager("secret-a", -time.Minute)
	token, _, err = expired.GenerateToken(1, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := good.VerifyToken(token); err == nil {
		t.Fatal("expected verification failure for expired token")
	}
}

func TestJWTManager_Rotation(t *testing.T) {
	// create a manager with two keys and active kid "k2"
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m := NewJWTManagerFromKeys(keys, "k2", 5*time.Minute)

	tkn2, _, err := m.GenerateToken(3, "rot@example.com")
	if err != nil {
		t.Fatalf("GenerateToken (k2) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn2); err != nil {
		t.Fatalf("VerifyToken (k2) failed: %v", err)
	}

	// A token signed by the older key (k1) emulates one issued before rotation.
	mOld := NewJWTManagerFromKeys(keys, "k1", 5*time.Minute)
	tkn1, _, err := mOld.GenerateToken(3, "rot@example.com")
	if err != nil {
		t.Fatalf("GenerateToken (k1) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn1); err != nil {
		t.Fatalf("VerifyToken (old k1) failed: %v", err)
	}

	// Once k1 is retired its tokens stop verifying.
	retired := NewJWTManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	if _, err := retired.VerifyToken(tkn1); err == nil {
		t.Fatal("expected token signed with retired key to fail")
	}
}
