package httpapi

import (
	"errors"
	"net"
	"net/http"

	go2fa "github.com/MrEthical07/go2fa"
	"github.com/MrEthical07/go2fa/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Options configures the HTTP surface.
type Options struct {
	Logger *zap.Logger
	// EnableDebug mounts GET /auth/2fa/debug. The report lists currently
	// valid codes, so it must stay off in production.
	EnableDebug bool
}

// Handler serves the go2fa HTTP API over an Engine.
type Handler struct {
	engine      *go2fa.Engine
	logger      *zap.Logger
	enableDebug bool
}

// New returns a Handler for engine.
func New(engine *go2fa.Engine, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:      engine,
		logger:      logger.Named("httpapi"),
		enableDebug: opts.EnableDebug,
	}
}

// Routes returns a router with every endpoint mounted under /auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(withClientIP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/verify-2fa", h.verify2FA)
		r.Post("/login-2fa", h.loginWith2FA)
		r.Post("/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBearer(h.engine, h.writeError))
			r.Get("/2fa/status", h.status)
			r.Post("/2fa/setup", h.setup)
			r.Post("/2fa/confirm", h.confirm)
			r.Post("/2fa/disable", h.disable)
			r.Get("/2fa/qr", h.qrCode)
			r.Post("/2fa/backup-codes", h.regenerateBackupCodes)
			if h.enableDebug {
				r.Get("/2fa/debug", h.debug)
			}
			r.Post("/logout", h.logout)
		})
	})
	return r
}

func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(go2fa.WithClientIP(r.Context(), ip)))
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return errors.Join(errDecodeBody, err)
	}
	return nil
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	enrollment, err := h.engine.Register(r.Context(), go2fa.RegisterRequest{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PreferredMethod: req.PreferredMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newEnrollmentResponse(enrollment))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.engine.Login(r.Context(), req.handle(), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch o := outcome.(type) {
	case *go2fa.FinalToken:
		resp := newTokenResponse(&o.Token)
		resp.Status = loginStatusAuthenticated
		render.JSON(w, r, resp)
	case *go2fa.SecondFactorRequired:
		render.JSON(w, r, secondFactorResponse{
			Status:          loginStatusSecondFactorStep,
			TemporaryToken:  o.TemporaryToken,
			ExpiresAt:       o.ExpiresAt,
			PreferredMethod: o.PreferredMethod,
		})
	default:
		h.writeError(w, r, errors.New("unexpected login outcome"))
	}
}

func (h *Handler) verify2FA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tok, err := h.engine.Verify2FA(r.Context(), req.TemporaryToken, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, newTokenResponse(tok))
}

func (h *Handler) loginWith2FA(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tok, err := h.engine.LoginWith2FA(r.Context(), req.handle(), req.Password, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, newTokenResponse(tok))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tok, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, newTokenResponse(tok))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	st, err := h.engine.Status2FA(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, statusResponse{
		Enabled:              st.Enabled,
		State:                string(st.State),
		PreferredMethod:      st.PreferredMethod,
		SMSEnabled:           st.SMSEnabled,
		PendingSetup:         st.PendingSetup,
		BackupCodesRemaining: st.BackupCodesRemaining,
	})
}

func (h *Handler) setup(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	enrollment, err := h.engine.Setup2FA(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, newEnrollmentResponse(enrollment))
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.engine.Confirm2FA(r.Context(), p, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) disable(w http.ResponseWriter, r *http.Request) {
	var req disableRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.engine.Disable2FA(r.Context(), p, req.Code, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) qrCode(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	png, err := h.engine.QRCode(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	codes, err := h.engine.RegenerateBackupCodes(r.Context(), p, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, backupCodesResponse{BackupCodes: codes})
}

func (h *Handler) debug(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	report, err := h.engine.Debug2FA(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, debugResponse{
		ServerTime:  report.ServerTime,
		Counter:     report.Counter,
		Period:      report.Period,
		Skew:        report.Skew,
		SecretState: report.SecretState,
		Window:      report.Window,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
