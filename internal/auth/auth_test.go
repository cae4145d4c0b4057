package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateToken(t *testing.T) {
	s := NewService("test-secret")
	s.RegisterAPICredentials("client-1", "shh")

	token, err := s.GenerateToken(Credentials{APIKey: "client-1", APISecret: "shh"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token.Token == "" {
		t.Fatal("empty token")
	}
	if token.Expiration.Before(time.Now().Add(23 * time.Hour)) {
		t.Errorf("Expiration = %v, want roughly 24h out", token.Expiration)
	}

	// The token round-trips with the issuing secret and carries the claims
	// the middleware requires.
	parsed, err := jwt.Parse(token.Token, func(tok *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("claims type = %T", parsed.Claims)
	}
	if claims["client_id"] != "client-1" {
		t.Errorf("client_id = %v", claims["client_id"])
	}
	if _, ok := claims["exp"]; !ok {
		t.Error("exp claim missing")
	}
	if GetClientID(claims) != "client-1" {
		t.Errorf("GetClientID = %q", GetClientID(claims))
	}
}

func TestGenerateToken_InvalidCredentials(t *testing.T) {
	s := NewService("test-secret")
	s.RegisterAPICredentials("client-1", "shh")

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong secret", Credentials{APIKey: "client-1", APISecret: "wrong"}},
		{"unknown key", Credentials{APIKey: "nobody", APISecret: "shh"}},
		{"empty", Credentials{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.GenerateToken(tt.creds); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}
