package httpapi

import (
	"errors"
	"net/http"

	go2fa "github.com/MrEthical07/go2fa"
	"github.com/MrEthical07/go2fa/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

var errDecodeBody = errors.New("request body must be a JSON object")

func statusFor(kind go2fa.ErrorKind) int {
	switch kind {
	case go2fa.KindInvalidRequest:
		return http.StatusBadRequest
	case go2fa.KindDuplicateAccount, go2fa.KindNotConfigured:
		return http.StatusConflict
	case go2fa.KindInvalidCredentials,
		go2fa.KindInvalidCode,
		go2fa.KindBackupCodesExhausted,
		go2fa.KindTemporaryTokenExpired,
		go2fa.KindTemporaryTokenReused,
		go2fa.KindTemporaryTokenNotFound,
		go2fa.KindRefreshTokenExpired,
		go2fa.KindRefreshTokenInvalid,
		go2fa.KindUnauthorized:
		return http.StatusUnauthorized
	case go2fa.KindRateLimited:
		return http.StatusTooManyRequests
	case go2fa.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": kind, "message": text}. Errors without
// a kind are reported as internal and logged; their text never reaches the
// client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{}

	switch {
	case errors.Is(err, errDecodeBody):
		resp.Error = go2fa.KindInvalidRequest
		resp.Message = errDecodeBody.Error()
	case errors.Is(err, middleware.ErrMissingBearer):
		resp.Error = go2fa.KindUnauthorized
		resp.Message = go2fa.ErrUnauthorized.Message
	default:
		var e *go2fa.Error
		if !errors.As(err, &e) {
			h.logger.Error("unclassified engine error", zap.Error(err))
			resp.Error = "internal_error"
			resp.Message = "internal error"
			break
		}
		resp.Error = e.Kind
		resp.Message = e.Message
		if e.Kind == go2fa.KindInvalidCode && errors.Is(e.Err, go2fa.ErrBackupCodesExhausted) {
			resp.Reason = go2fa.KindBackupCodesExhausted
		}
	}

	render.Status(r, statusFor(resp.Error))
	render.JSON(w, r, resp)
}
