package totp

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

func TestCodesMatchIndependentImplementation(t *testing.T) {
	g := mustGenerator(t, Config{Issuer: "go2fa"})
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	for _, ts := range []int64{59, 1111111109, 1234567890, 1700000000, time.Now().Unix()} {
		at := time.Unix(ts, 0)
		want, err := pqtotp.GenerateCodeCustom(secret.Base32(), at, pqtotp.ValidateOpts{
			Period:    30,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			t.Fatalf("reference code: %v", err)
		}
		got, err := g.Now(secret, at)
		if err != nil {
			t.Fatalf("Now: %v", err)
		}
		if got != want {
			t.Fatalf("t=%d: got %s, reference %s", ts, got, want)
		}
	}
}

func TestProvisioningURIParsesAsKey(t *testing.T) {
	g := mustGenerator(t, Config{Issuer: "go2fa"})
	secret, _ := GenerateSecret()

	uri, err := g.ProvisioningURI("alice@example.com", secret, "")
	if err != nil {
		t.Fatalf("ProvisioningURI: %v", err)
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		t.Fatalf("NewKeyFromURL: %v", err)
	}
	if key.Type() != "totp" {
		t.Fatalf("type = %s", key.Type())
	}
	if key.Issuer() != "go2fa" {
		t.Fatalf("issuer = %s", key.Issuer())
	}
	if key.AccountName() != "alice@example.com" {
		t.Fatalf("account = %s", key.AccountName())
	}
	if key.Secret() != secret.Base32() {
		t.Fatalf("secret = %s", key.Secret())
	}
	if key.Period() != 30 || key.Digits() != otp.DigitsSix {
		t.Fatalf("period=%d digits=%d", key.Period(), key.Digits())
	}

	code, err := pqtotp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if ok, _, _ := g.Verify(secret, code, time.Now()); !ok {
		t.Fatal("code from parsed key rejected")
	}
}
