package totp

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the PNG edge length in pixels used when size <= 0.
const DefaultQRSize = 256

var (
	// ErrEmptyURI is returned by QRCodePNG for blank content.
	ErrEmptyURI = errors.New("totp: empty provisioning uri")
	// ErrQRCode wraps rasterization failures.
	ErrQRCode = errors.New("totp: failed to render qr code")
)

// QRCodePNG renders a provisioning URI as a PNG image.
func QRCodePNG(uri string, size int) ([]byte, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, ErrEmptyURI
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrQRCode, err)
	}
	return png, nil
}
