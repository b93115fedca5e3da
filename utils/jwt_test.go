package utils

import (
	"testing"
	"time"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := GenerateAccessToken(secret, "alice", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	claims, err := ParseAccessToken(secret, tok)
	if err != nil || claims.UserID != "alice" {
		t.Fatalf("claims = %+v, %v", claims, err)
	}
	if _, err := ParseAccessToken([]byte("other"), tok); err == nil {
		t.Fatal("token verified with the wrong secret")
	}
}

func TestAccessToken_Expired(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := GenerateAccessToken(secret, "alice", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAccessToken(secret, tok); err == nil {
		t.Fatal("expired token accepted")
	}
}
