package httpapi

import (
	"time"

	go2fa "github.com/MrEthical07/go2fa"
	"github.com/MrEthical07/go2fa/totp"
)

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PreferredMethod string `json:"preferred_method"`
}

// loginRequest accepts the handle as either username or email.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (r loginRequest) handle() string {
	if r.Username != "" {
		return r.Username
	}
	return r.Email
}

type verifyRequest struct {
	TemporaryToken string `json:"temporary_token"`
	Code           string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type disableRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

type errorResponse struct {
	Error   go2fa.ErrorKind `json:"error"`
	Message string          `json:"message"`
	Reason  go2fa.ErrorKind `json:"reason,omitempty"`
}

type enrollmentResponse struct {
	AccountID       string   `json:"account_id"`
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCodePNG       []byte   `json:"qr_code_png"`
	BackupCodes     []string `json:"backup_codes"`
}

func newEnrollmentResponse(e *go2fa.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		AccountID:       e.AccountID,
		Secret:          e.Secret,
		ProvisioningURI: e.ProvisioningURI,
		QRCodePNG:       e.QRCodePNG,
		BackupCodes:     e.BackupCodes,
	}
}

// Login responses carry a status so clients can branch without probing
// for fields.
const (
	loginStatusAuthenticated    = "authenticated"
	loginStatusSecondFactorStep = "2fa_required"
)

type tokenResponse struct {
	Status       string    `json:"status,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func newTokenResponse(t *go2fa.Token) tokenResponse {
	return tokenResponse{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    int64(t.ExpiresIn / time.Second),
		ExpiresAt:    t.ExpiresAt,
	}
}

type secondFactorResponse struct {
	Status          string    `json:"status"`
	TemporaryToken  string    `json:"temporary_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	PreferredMethod string    `json:"preferred_method"`
}

type statusResponse struct {
	Enabled              bool   `json:"enabled"`
	State                string `json:"state"`
	PreferredMethod      string `json:"preferred_method"`
	SMSEnabled           bool   `json:"sms_enabled"`
	PendingSetup         bool   `json:"pending_setup"`
	BackupCodesRemaining int    `json:"backup_codes_remaining"`
}

type debugResponse struct {
	ServerTime  time.Time         `json:"server_time"`
	Counter     int64             `json:"counter"`
	Period      int               `json:"period"`
	Skew        int               `json:"skew"`
	SecretState string            `json:"secret_state"`
	Window      []totp.WindowCode `json:"window"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}
