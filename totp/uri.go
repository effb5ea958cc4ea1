package totp

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ProvisioningURI builds the otpauth:// URI consumed by authenticator apps.
// An empty issuer falls back to the Generator's configured Issuer. The output
// is deterministic for identical inputs.
func (g *Generator) ProvisioningURI(label string, secret Secret, issuer string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", errors.New("totp: empty account label")
	}
	if len(secret) < SecretSize {
		return "", ErrMalformedSecret
	}
	if issuer == "" {
		issuer = g.config.Issuer
	}

	path := label
	if issuer != "" {
		path = issuer + ":" + label
	}

	v := url.Values{}
	v.Set("secret", secret.Base32())
	if issuer != "" {
		v.Set("issuer", issuer)
	}
	v.Set("algorithm", string(g.config.Algorithm))
	v.Set("digits", strconv.Itoa(g.config.Digits))
	v.Set("period", strconv.Itoa(g.config.Period))

	return "otpauth://totp/" + url.PathEscape(path) + "?" + v.Encode(), nil
}
