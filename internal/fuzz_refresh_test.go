package internal

import (
	"testing"
)

// FuzzDecodeRefreshToken feeds arbitrary strings to the refresh decoder.
// Invalid inputs must return errors, never panic.
func FuzzDecodeRefreshToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	sid, err := NewSessionID()
	if err == nil {
		secret, err := NewRefreshSecret()
		if err == nil {
			token, err := EncodeRefreshToken(sid.String(), secret)
			if err == nil {
				f.Add(token)
			}
		}
	}

	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")

	f.Fuzz(func(t *testing.T, input string) {
		sessionID, secret, err := DecodeRefreshToken(input)
		if err != nil {
			return
		}

		reEncoded, err := EncodeRefreshToken(sessionID, secret)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		sid2, secret2, err := DecodeRefreshToken(reEncoded)
		if err != nil {
			t.Fatalf("roundtrip decode failed: %v", err)
		}
		if sid2 != sessionID || secret2 != secret {
			t.Fatal("roundtrip mismatch")
		}
	})
}

// FuzzTemporaryTokenKey checks that only well-sized tokens map to a key.
func FuzzTemporaryTokenKey(f *testing.F) {
	token, _, err := NewTemporaryToken()
	if err == nil {
		f.Add(token)
	}
	f.Add("")
	f.Add("short")

	f.Fuzz(func(t *testing.T, input string) {
		key, err := TemporaryTokenKey(input)
		if err != nil {
			return
		}
		if len(key) != 64 {
			t.Fatalf("unexpected key length %d", len(key))
		}
	})
}
