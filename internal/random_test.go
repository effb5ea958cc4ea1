package internal

import "testing"

func TestTemporaryTokenKeyMatchesIssuedKey(t *testing.T) {
	token, key, err := NewTemporaryToken()
	if err != nil {
		t.Fatalf("NewTemporaryToken: %v", err)
	}
	if len(token) != 43 {
		t.Fatalf("expected 43-char token, got %d", len(token))
	}
	got, err := TemporaryTokenKey(token)
	if err != nil {
		t.Fatalf("TemporaryTokenKey: %v", err)
	}
	if got != key {
		t.Fatal("derived key must match issued key")
	}
	if _, err := TemporaryTokenKey(token[:40]); err == nil {
		t.Fatal("expected error for truncated token")
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	token, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken: %v", err)
	}
	gotSID, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken: %v", err)
	}
	if gotSID != sid.String() || gotSecret != secret {
		t.Fatal("roundtrip mismatch")
	}
	if _, err := EncodeRefreshToken("not-a-session", secret); err == nil {
		t.Fatal("expected error for malformed session id")
	}
}
