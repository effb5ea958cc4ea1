package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzJWTParseAccess feeds arbitrary strings to ParseAccess. Malformed input
// must be rejected without panicking.
func FuzzJWTParseAccess(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		AccessTTL:  5 * time.Minute,
		PrivateKey: priv,
		Issuer:     "fuzz-test",
		Leeway:     30 * time.Second,
		KeyID:      "k1",
		VerifyKeys: map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}
	now := time.Now()

	validToken, _, err := mgr.CreateAccess("acct-1", "sid1", now)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(validToken)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.ParseAccess(input, now)
		if err != nil {
			return
		}
		if claims.Subject == "" || claims.SID == "" || claims.Typ != TypeAccess {
			t.Fatalf("accepted token with incomplete claims: %+v", claims)
		}
	})
}
