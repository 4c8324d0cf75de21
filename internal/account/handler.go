package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

// Handler exposes HTTP endpoints for registration and sign-in. Every request
// gets its own relational context and store, closed when the request ends.
type Handler struct {
	db       *sqlx.DB
	cfg      Config
	hasher   PasswordHasher
	logger   *zap.SugaredLogger
	repoOpts []repo.Option
}

func NewHandler(db *sqlx.DB, cfg Config, logger *zap.SugaredLogger, opts ...repo.Option) *Handler {
	return &Handler{
		db:       db,
		cfg:      cfg,
		hasher:   BcryptHasher{Cost: cfg.BcryptCost},
		logger:   logger,
		repoOpts: opts,
	}
}

func (h *Handler) withService(fn func(*Service) error) error {
	l := h.logger.Desugar()
	opts := append([]repo.Option{repo.WithLogger(l)}, h.repoOpts...)
	users := identity.NewUserStore(repo.NewContext(h.db, opts...), identity.WithLogger(l))
	defer users.Close()
	return fn(NewService(users, h.hasher, h.cfg, l))
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse response body containing the new account id.
type RegisterResponse struct {
	ID       string `json:"id"`
	UserName string `json:"user_name"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	var a *entity.Account
	err := h.withService(func(s *Service) (err error) {
		a, err = s.Register(r.Context(), req.UserName, req.Email, req.Password)
		return err
	})
	if err != nil {
		h.writeError(w, "register", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, RegisterResponse{ID: a.ID, UserName: a.UserName})
}

// LoginRequest is the body of every sign-in endpoint. Code is only read by
// the two-factor and recovery endpoints.
type LoginRequest struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, func(s *Service, req LoginRequest) (*Token, error) {
		return s.PasswordSignIn(r.Context(), req.UserName, req.Password)
	})
}

func (h *Handler) LoginTwoFactor(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, func(s *Service, req LoginRequest) (*Token, error) {
		return s.TwoFactorSignIn(r.Context(), req.UserName, req.Password, req.Code)
	})
}

func (h *Handler) LoginRecovery(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, func(s *Service, req LoginRequest) (*Token, error) {
		return s.RecoveryCodeSignIn(r.Context(), req.UserName, req.Password, req.Code)
	})
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, fn func(*Service, LoginRequest) (*Token, error)) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	var tok *Token
	err := h.withService(func(s *Service) (err error) {
		tok, err = fn(s, req)
		return err
	})
	if err != nil {
		h.writeError(w, "login", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tok)
}

// EnableAuthenticator provisions TOTP for the bearer of the access token.
func (h *Handler) EnableAuthenticator(w http.ResponseWriter, r *http.Request) {
	var enrollment *Enrollment
	err := h.withService(func(s *Service) error {
		a, err := s.ValidateToken(r.Context(), bearer(r))
		if err != nil {
			return err
		}
		enrollment, err = s.EnableAuthenticator(r.Context(), a.ID)
		return err
	})
	if err != nil {
		h.writeError(w, "enable authenticator", err)
		return
	}
	h.writeJSON(w, http.StatusOK, enrollment)
}

// RefreshRequest body of the refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	var tok *Token
	err := h.withService(func(s *Service) (err error) {
		tok, err = s.Refresh(r.Context(), req.RefreshToken)
		return err
	})
	if err != nil {
		h.writeError(w, "refresh", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tok)
}

// SignOut ends the bearer's refresh session.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	err := h.withService(func(s *Service) error {
		a, err := s.ValidateToken(r.Context(), bearer(r))
		if err != nil {
			return err
		}
		return s.SignOut(r.Context(), a)
	})
	if err != nil {
		h.writeError(w, "sign out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MeResponse describes the caller's account.
type MeResponse struct {
	*entity.Account
	RecoveryCodesLeft int `json:"recovery_codes_left"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	var resp MeResponse
	err := h.withService(func(s *Service) error {
		a, err := s.ValidateToken(r.Context(), bearer(r))
		if err != nil {
			return err
		}
		left, err := s.RecoveryCodesLeft(r.Context(), a)
		if err != nil {
			return err
		}
		resp = MeResponse{Account: a, RecoveryCodesLeft: left}
		return nil
	})
	if err != nil {
		h.writeError(w, "me", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, identity.ErrInvalidArgument):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
	case errors.Is(err, ErrBadCredentials):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	case errors.Is(err, ErrTwoFactorRequired):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "two-factor code required"})
	case errors.Is(err, ErrStaleToken):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	case errors.Is(err, ErrLocked):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "account locked"})
	case errors.Is(err, ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
	case errors.Is(err, ErrUserExists):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "user name taken"})
	case errors.Is(err, ErrConflict):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "account changed, retry"})
	default:
		h.logger.Warnw(op+" failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
		return
	}
	h.logger.Debugw(op+" rejected", "err", err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
