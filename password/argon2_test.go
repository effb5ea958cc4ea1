package password

import (
	"errors"
	"strings"
	"testing"
)

// testConfig keeps cost at the validation floor so the suite stays fast.
func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func mustHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestHashRoundTrip(t *testing.T) {
	h := mustHasher(t, testConfig())

	encoded, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	again, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if again == encoded {
		t.Fatal("two hashes of one password must differ by salt")
	}

	for _, tc := range []struct {
		password string
		want     bool
	}{
		{"correct-password-123", true},
		{"correct-password-124", false},
		{"Correct-password-123", false},
	} {
		ok, err := h.Verify(tc.password, encoded)
		if err != nil {
			t.Fatalf("Verify(%q): %v", tc.password, err)
		}
		if ok != tc.want {
			t.Fatalf("Verify(%q) = %v, want %v", tc.password, ok, tc.want)
		}
	}
}

func TestLengthBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MinPasswordBytes = 12
	cfg.MaxPasswordBytes = 64
	h := mustHasher(t, cfg)

	cases := []struct {
		name    string
		length  int
		wantErr error
	}{
		{"empty", 0, ErrPasswordTooShort},
		{"one below min", 11, ErrPasswordTooShort},
		{"min", 12, nil},
		{"max", 64, nil},
		{"one above max", 65, ErrPasswordTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Hash(strings.Repeat("x", tc.length))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Hash(%d bytes) err = %v, want %v", tc.length, err, tc.wantErr)
			}
		})
	}
}

func TestVerifyRejectsOversizedInputBeforeParsing(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPasswordBytes = 64
	h := mustHasher(t, cfg)

	// The hash is garbage: the length check must win.
	_, err := h.Verify(strings.Repeat("c", 65), "garbage")
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestZeroBoundsUseDefaults(t *testing.T) {
	h := mustHasher(t, testConfig())

	if _, err := h.Hash(strings.Repeat("d", DefaultMinPasswordBytes-1)); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort below %d bytes, got %v", DefaultMinPasswordBytes, err)
	}
	if _, err := h.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong above %d bytes, got %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := h.Hash(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("expected %d bytes to be accepted: %v", DefaultMaxPasswordBytes, err)
	}
}

func TestVerifyMalformedHashes(t *testing.T) {
	h := mustHasher(t, testConfig())
	valid, err := h.Hash("valid-password-123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	parts := strings.Split(valid, "$")

	cases := map[string]string{
		"not phc":           "not-a-phc-hash",
		"other algorithm":   "$bcrypt$x",
		"wrong version":     strings.Replace(valid, "$v=19$", "$v=18$", 1),
		"missing param":     strings.Join([]string{"", parts[1], parts[2], "m=8192,t=1", parts[4], parts[5]}, "$"),
		"memory too low":    strings.Replace(valid, "m=8192", "m=1024", 1),
		"unknown param":     strings.Replace(valid, "p=1", "x=1", 1),
		"bad salt encoding": strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$"),
		"empty digest":      strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], ""}, "$"),
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := h.Verify("valid-password-123", encoded)
			if ok {
				t.Fatal("malformed hash must not verify")
			}
			if !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("expected ErrMalformedHash, got %v", err)
			}
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := mustHasher(t, testConfig())
	encoded, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	stronger := testConfig()
	stronger.Time = 2
	longerKey := testConfig()
	longerKey.KeyLength = 64

	for name, cfg := range map[string]Config{
		"same":       testConfig(),
		"more time":  stronger,
		"longer key": longerKey,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := mustHasher(t, cfg).NeedsUpgrade(encoded)
			if err != nil {
				t.Fatalf("NeedsUpgrade: %v", err)
			}
			if want := name != "same"; got != want {
				t.Fatalf("NeedsUpgrade = %v, want %v", got, want)
			}
		})
	}

	if _, err := weak.NeedsUpgrade("junk"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"memory":   func(c *Config) { c.Memory = 1024 },
		"time":     func(c *Config) { c.Time = 0 },
		"threads":  func(c *Config) { c.Parallelism = 0 },
		"salt":     func(c *Config) { c.SaltLength = 8 },
		"key":      func(c *Config) { c.KeyLength = 8 },
		"max<min":  func(c *Config) { c.MinPasswordBytes = 20; c.MaxPasswordBytes = 10 },
		"negative": func(c *Config) { c.MinPasswordBytes = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			if _, err := NewArgon2(cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}

	if _, err := NewArgon2(DefaultConfig()); err != nil {
		t.Fatalf("DefaultConfig must be valid: %v", err)
	}
}
