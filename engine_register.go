package go2fa

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/go2fa/password"
	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/totp"
)

// Register creates an account in PENDING_SETUP together with a pending TOTP
// secret and a first batch of backup codes. The secret becomes live once
// Confirm2FA accepts a code from it; until then logins need only the
// password.
//
// Register returns ErrDuplicateAccount when the username or email is
// already taken and ErrInvalidRequest for malformed input.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Enrollment, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	method, err := normalizeRegistration(username, email, req.PreferredMethod)
	if err != nil {
		return nil, err
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort):
			return nil, invalidRequest("password is too short")
		case errors.Is(err, password.ErrPasswordTooLong):
			return nil, invalidRequest("password is too long")
		}
		return nil, e.unavailable("hash password", err)
	}

	accountID := uuid.NewString()
	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, e.unavailable("generate secret", err)
	}
	codes, hashes, err := e.vault.Issue(accountID)
	if err != nil {
		return nil, e.unavailable("issue backup codes", err)
	}
	sealed, err := e.sealSecret(accountID, secret)
	if err != nil {
		return nil, e.unavailable("seal secret", err)
	}

	now := e.now().UTC()
	acct := &store.Account{
		ID:              accountID,
		Username:        username,
		Email:           email,
		PasswordHash:    hash,
		State:           store.StatePendingSetup,
		PreferredMethod: method,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	pending := &store.PendingSecret{
		Sealed:           sealed,
		BackupCodeHashes: hashes,
		CreatedAt:        now,
	}

	if err := e.credentials.CreateAccount(ctx, acct, pending); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrDuplicateAccount, nil)
			return nil, ErrDuplicateAccount
		}
		return nil, e.unavailable("create account", err)
	}

	enrollment, err := e.enrollment(acct, secret, codes)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"preferred_method": method}
	})
	return enrollment, nil
}

// enrollment renders the provisioning material for secret.
func (e *Engine) enrollment(acct *store.Account, secret totp.Secret, codes []string) (*Enrollment, error) {
	uri, err := e.totp.ProvisioningURI(accountLabel(acct), secret, e.config.TOTP.Issuer)
	if err != nil {
		return nil, e.unavailable("provisioning uri", err)
	}
	png, err := totp.QRCodePNG(uri, e.config.TOTP.QRSize)
	if err != nil {
		return nil, e.unavailable("render qr code", err)
	}
	return &Enrollment{
		AccountID:       acct.ID,
		Secret:          secret.Base32(),
		ProvisioningURI: uri,
		QRCodePNG:       png,
		BackupCodes:     codes,
	}, nil
}

func accountLabel(acct *store.Account) string {
	if acct.Username != "" {
		return acct.Username
	}
	return acct.Email
}

func normalizeRegistration(username, email, method string) (string, error) {
	if username == "" && email == "" {
		return "", invalidRequest("username or email is required")
	}
	if strings.Contains(username, "@") {
		return "", invalidRequest("username must not contain '@'")
	}
	if len(username) > 64 {
		return "", invalidRequest("username is too long")
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return "", invalidRequest("email is malformed")
		}
	}

	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "":
		return MethodTOTP, nil
	case MethodTOTP, MethodSMS:
		return method, nil
	}
	return "", invalidRequest("preferred method must be 'totp' or 'sms'")
}
