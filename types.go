package go2fa

import (
	"time"

	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/totp"
)

// Second-factor methods. Only MethodTOTP is operational; MethodSMS may be
// recorded as a preference but codes are never delivered by SMS.
const (
	MethodTOTP = "totp"
	MethodSMS  = "sms"
)

// RegisterRequest carries the inputs of Engine.Register. At least one of
// Username and Email is required.
type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	PreferredMethod string
}

// Enrollment is everything a user needs to add the account to an
// authenticator app and keep recovery codes.
type Enrollment struct {
	AccountID       string
	Secret          string
	ProvisioningURI string
	QRCodePNG       []byte
	BackupCodes     []string
}

// Token is an access/refresh pair.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	ExpiresAt    time.Time
}

// LoginOutcome is the result of the password step. It is either *FinalToken
// or *SecondFactorRequired.
type LoginOutcome interface {
	loginOutcome()
}

// FinalToken is returned when no second factor is required.
type FinalToken struct {
	Token
}

// SecondFactorRequired is returned when the account has 2FA enabled. The
// temporary token must be presented to Verify2FA before ExpiresAt.
type SecondFactorRequired struct {
	TemporaryToken  string
	ExpiresAt       time.Time
	PreferredMethod string
}

func (*FinalToken) loginOutcome()           {}
func (*SecondFactorRequired) loginOutcome() {}

// Principal is an authenticated caller. It can only be obtained from
// Engine.Authenticate and is only accepted by the Engine that issued it.
type Principal struct {
	AccountID string
	SessionID string
	Username  string
	Email     string

	engine *Engine
}

// TwoFactorStatus describes the second-factor configuration of an account.
type TwoFactorStatus struct {
	Enabled              bool
	State                store.TwoFactorState
	PreferredMethod      string
	SMSEnabled           bool
	PendingSetup         bool
	BackupCodesRemaining int
}

// DebugReport lists every code the verifier would currently accept.
type DebugReport struct {
	ServerTime  time.Time
	Counter     int64
	Period      int
	Skew        int
	SecretState string
	Window      []totp.WindowCode
}
