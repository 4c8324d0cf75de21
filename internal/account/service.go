package account

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the slice of the identity user store the sign-in flows need.
type Store interface {
	identity.Users
	identity.UserPasswords
	identity.UserEmails
	identity.UserSecurityStamps
	identity.UserLockouts
	identity.UserTwoFactor
	identity.UserAuthenticatorKeys
	identity.UserRecoveryCodes
	identity.UserTokens
}

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrLocked            = errors.New("user locked")
	ErrBadCredentials    = errors.New("invalid credentials")
	ErrTwoFactorRequired = errors.New("two-factor code required")
	ErrStaleToken        = errors.New("token no longer valid")
	ErrConflict          = errors.New("account changed concurrently")
)

// Token is a signed access token, plus a refresh token after a sign-in.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
}

// Enrollment is returned once when an authenticator is enabled.
type Enrollment struct {
	Secret        string   `json:"secret"`
	URL           string   `json:"otpauth_url"`
	RecoveryCodes []string `json:"recovery_codes"`
}

type accessClaims struct {
	Stamp string `json:"sst"`
	jwt.RegisteredClaims
}

// Service orchestrates registration and sign-in on top of a Store.
type Service struct {
	users  Store
	hasher PasswordHasher
	cfg    Config
	secret []byte
	logger *zap.Logger
	now    func() time.Time
}

func NewService(users Store, hasher PasswordHasher, cfg Config, logger *zap.Logger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: cfg.BcryptCost}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		hasher: hasher,
		cfg:    cfg,
		secret: signingKey(cfg.TokenSecret, logger),
		logger: logger,
		now:    time.Now,
	}
}

var (
	ephemeralOnce sync.Once
	ephemeralKey  []byte
)

// signingKey falls back to a per-process random key when no secret is
// configured; tokens then do not survive a restart.
func signingKey(secret string, logger *zap.Logger) []byte {
	if secret != "" {
		return []byte(secret)
	}
	ephemeralOnce.Do(func() {
		ephemeralKey = make([]byte, 32)
		if _, err := rand.Read(ephemeralKey); err != nil {
			panic(fmt.Sprintf("token key: %v", err))
		}
		logger.Warn("IDENTITY_TOKEN_SECRET not set; using an ephemeral signing key")
	})
	return ephemeralKey
}

// Normalize trims and upper-cases user names and emails for lookups.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Register creates an account with a hashed password.
func (s *Service) Register(ctx context.Context, userName, email, password string) (*entity.Account, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" || password == "" {
		return nil, fmt.Errorf("%w: user name and password are required", ErrInvalidRequest)
	}
	existing, err := s.users.FindByName(ctx, Normalize(userName))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	a := entity.NewAccount(userName)
	if err := s.users.SetNormalizedUserName(ctx, a, Normalize(userName)); err != nil {
		return nil, err
	}
	if email = strings.TrimSpace(email); email != "" {
		if err := s.users.SetEmail(ctx, a, email); err != nil {
			return nil, err
		}
		if err := s.users.SetNormalizedEmail(ctx, a, Normalize(email)); err != nil {
			return nil, err
		}
	}
	if err := s.users.SetPasswordHash(ctx, a, &hash); err != nil {
		return nil, err
	}
	if err := s.users.SetSecurityStamp(ctx, a, utilities.NewStamp()); err != nil {
		return nil, err
	}
	res, err := s.users.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded {
		return nil, fmt.Errorf("%w: %s", ErrConflict, res)
	}
	s.logger.Info("account registered", zap.String("account_id", a.ID))
	return a, nil
}

// PasswordSignIn verifies a password. Accounts with two-factor enabled get
// ErrTwoFactorRequired instead of a token once the password checks out.
func (s *Service) PasswordSignIn(ctx context.Context, userName, password string) (*Token, error) {
	a, err := s.signInTarget(ctx, userName)
	if err != nil {
		return nil, err
	}
	ok, err := s.checkPassword(ctx, a, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failed(ctx, a)
	}
	twoFactor, err := s.users.GetTwoFactorEnabled(ctx, a)
	if err != nil {
		return nil, err
	}
	if twoFactor {
		return nil, ErrTwoFactorRequired
	}
	return s.succeeded(ctx, a)
}

// TwoFactorSignIn completes a sign-in with the password and an authenticator code.
func (s *Service) TwoFactorSignIn(ctx context.Context, userName, password, code string) (*Token, error) {
	a, err := s.signInTarget(ctx, userName)
	if err != nil {
		return nil, err
	}
	ok, err := s.checkPassword(ctx, a, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failed(ctx, a)
	}
	key, err := s.users.GetAuthenticatorKey(ctx, a)
	if err != nil {
		return nil, err
	}
	if key == "" || !totp.Validate(strings.TrimSpace(code), key) {
		return nil, s.failed(ctx, a)
	}
	return s.succeeded(ctx, a)
}

// RecoveryCodeSignIn completes a sign-in with the password and one
// recovery code, which is consumed.
func (s *Service) RecoveryCodeSignIn(ctx context.Context, userName, password, code string) (*Token, error) {
	a, err := s.signInTarget(ctx, userName)
	if err != nil {
		return nil, err
	}
	ok, err := s.checkPassword(ctx, a, password)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if !ok || code == "" {
		return nil, s.failed(ctx, a)
	}
	ok, err = s.users.RedeemCode(ctx, a, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failed(ctx, a)
	}
	return s.succeeded(ctx, a)
}

// signInTarget loads the account and rejects it while it is locked out.
func (s *Service) signInTarget(ctx context.Context, userName string) (*entity.Account, error) {
	if strings.TrimSpace(userName) == "" {
		return nil, ErrBadCredentials
	}
	a, err := s.users.FindByName(ctx, Normalize(userName))
	if err != nil {
		return nil, err
	}
	if a == nil {
		// avoid user enumeration
		return nil, ErrBadCredentials
	}
	locked, err := s.isLockedOut(ctx, a)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrLocked
	}
	return a, nil
}

func (s *Service) checkPassword(ctx context.Context, a *entity.Account, password string) (bool, error) {
	hash, err := s.users.GetPasswordHash(ctx, a)
	if err != nil {
		return false, err
	}
	return hash != nil && *hash != "" && s.hasher.Verify(*hash, password), nil
}

func (s *Service) isLockedOut(ctx context.Context, a *entity.Account) (bool, error) {
	enabled, err := s.users.GetLockoutEnabled(ctx, a)
	if err != nil || !enabled {
		return false, err
	}
	end, err := s.users.GetLockoutEndDate(ctx, a)
	if err != nil {
		return false, err
	}
	return end != nil && end.After(s.now()), nil
}

// failed counts a bad attempt and locks the account once MaxFailed is reached.
func (s *Service) failed(ctx context.Context, a *entity.Account) error {
	enabled, err := s.users.GetLockoutEnabled(ctx, a)
	if err != nil {
		return err
	}
	if !enabled {
		return ErrBadCredentials
	}
	n, err := s.users.IncrementAccessFailedCount(ctx, a)
	if err != nil {
		return err
	}
	lockedNow := false
	if s.cfg.MaxFailed > 0 && n >= s.cfg.MaxFailed {
		end := s.now().Add(s.cfg.lockout())
		if err := s.users.SetLockoutEndDate(ctx, a, &end); err != nil {
			return err
		}
		if err := s.users.ResetAccessFailedCount(ctx, a); err != nil {
			return err
		}
		lockedNow = true
	}
	res, err := s.users.Update(ctx, a)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		s.logger.Warn("failed attempt not recorded", zap.String("account_id", a.ID), zap.Stringer("result", res))
	}
	if lockedNow {
		s.logger.Info("account locked out", zap.String("account_id", a.ID))
		return ErrLocked
	}
	return ErrBadCredentials
}

// succeeded clears lockout bookkeeping and issues tokens.
func (s *Service) succeeded(ctx context.Context, a *entity.Account) (*Token, error) {
	count, err := s.users.GetAccessFailedCount(ctx, a)
	if err != nil {
		return nil, err
	}
	end, err := s.users.GetLockoutEndDate(ctx, a)
	if err != nil {
		return nil, err
	}
	if count > 0 || end != nil {
		if err := s.users.ResetAccessFailedCount(ctx, a); err != nil {
			return nil, err
		}
		if err := s.users.SetLockoutEndDate(ctx, a, nil); err != nil {
			return nil, err
		}
		res, err := s.users.Update(ctx, a)
		if err != nil {
			return nil, err
		}
		if !res.Succeeded {
			return nil, fmt.Errorf("%w: %s", ErrConflict, res)
		}
	}
	return s.signedIn(ctx, a)
}

// EnableAuthenticator provisions a TOTP key and a fresh set of recovery
// codes. The security stamp changes, so earlier access and refresh tokens
// stop validating.
func (s *Service) EnableAuthenticator(ctx context.Context, accountID string) (*Enrollment, error) {
	a, err := s.users.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrUserNotFound
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.cfg.Issuer, AccountName: a.UserName})
	if err != nil {
		return nil, err
	}
	codes, err := newRecoveryCodes(s.cfg.RecoveryCodes)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetAuthenticatorKey(ctx, a, key.Secret()); err != nil {
		return nil, err
	}
	if err := s.users.ReplaceCodes(ctx, a, codes); err != nil {
		return nil, err
	}
	if err := s.users.SetTwoFactorEnabled(ctx, a, true); err != nil {
		return nil, err
	}
	if err := s.users.SetSecurityStamp(ctx, a, utilities.NewStamp()); err != nil {
		return nil, err
	}
	res, err := s.users.Update(ctx, a)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded {
		return nil, fmt.Errorf("%w: %s", ErrConflict, res)
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL(), RecoveryCodes: codes}, nil
}

// RecoveryCodesLeft reports how many recovery codes the account can still use.
func (s *Service) RecoveryCodesLeft(ctx context.Context, a *entity.Account) (int, error) {
	return s.users.CountCodes(ctx, a)
}

func newRecoveryCodes(n int) ([]string, error) {
	if n <= 0 {
		n = 10
	}
	codes := make([]string, n)
	buf := make([]byte, 5)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("recovery code: %w", err)
		}
		c := strings.ToLower(base32.StdEncoding.EncodeToString(buf))
		codes[i] = c[:4] + "-" + c[4:]
	}
	return codes, nil
}

// IssueToken signs an HS256 access token bound to the account's security stamp.
func (s *Service) IssueToken(ctx context.Context, a *entity.Account) (*Token, error) {
	stamp, err := s.users.GetSecurityStamp(ctx, a)
	if err != nil {
		return nil, err
	}
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)
	claims := accessClaims{
		Stamp: stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp}, nil
}

// ValidateToken checks signature, issuer and expiry, then that the account
// still exists with the same security stamp.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*entity.Account, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaleToken, err)
	}
	a, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrStaleToken
	}
	stamp, err := s.users.GetSecurityStamp(ctx, a)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stamp), []byte(claims.Stamp)) != 1 {
		return nil, ErrStaleToken
	}
	return a, nil
}
