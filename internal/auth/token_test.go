package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validClaims(exp time.Time) Claims {
	return Claims{
		Sub:   uuid.NewString(),
		Name:  "Avery",
		Email: "avery@example.com",
		Role:  "editor",
		JTI:   "jti-1",
		Exp:   exp.Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	want := validClaims(time.Now().Add(time.Hour))
	issued, err := IssueToken(secret, want)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims != want {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.UserID().String() != want.Sub {
		t.Fatalf("UserID() = %s, want %s", claims.UserID(), want.Sub)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, validClaims(time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	secret := []byte("secret")
	good, err := IssueToken(secret, validClaims(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	noEmail := validClaims(time.Now().Add(time.Hour))
	noEmail.Email = ""
	missingEmail, _ := IssueToken(secret, noEmail)
	badSub := validClaims(time.Now().Add(time.Hour))
	badSub.Sub = "user-1"
	nonUUID, _ := IssueToken(secret, badSub)

	cases := map[string]string{
		"empty":         "",
		"no signature":  strings.Split(good, ".")[0],
		"wrong secret":  mustIssue(t, []byte("other"), validClaims(time.Now().Add(time.Hour))),
		"extra segment": good + ".x",
		"missing email": missingEmail,
		"non uuid sub":  nonUUID,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func mustIssue(t *testing.T, secret []byte, c Claims) string {
	t.Helper()
	token, err := IssueToken(secret, c)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}
