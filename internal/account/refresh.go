package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

// Refresh sessions live in the account's token rows, one per account.
// The stored value is "sha256(secret);expiry-unix;security-stamp", so the
// secret itself never reaches the database.
const (
	refreshProvider  = "[RefreshSessions]"
	refreshTokenName = "RefreshToken"
)

// Refresh exchanges a refresh token for a new access token. The refresh
// token is rotated; the old one stops working.
func (s *Service) Refresh(ctx context.Context, raw string) (*Token, error) {
	accountID, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || accountID == "" || secret == "" {
		return nil, ErrStaleToken
	}
	a, err := s.users.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrStaleToken
	}
	stored, err := s.users.GetToken(ctx, a, refreshProvider, refreshTokenName)
	if err != nil {
		return nil, err
	}
	stamp, err := s.users.GetSecurityStamp(ctx, a)
	if err != nil {
		return nil, err
	}
	if !s.refreshMatches(stored, secret, stamp) {
		return nil, ErrStaleToken
	}
	locked, err := s.isLockedOut(ctx, a)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrLocked
	}
	// Rotation goes through the account's concurrency stamp: of two refreshes
	// racing on the same token only the first update wins.
	res, err := s.users.Update(ctx, a)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded {
		return nil, ErrStaleToken
	}
	return s.signedIn(ctx, a)
}

// SignOut drops the account's refresh session. Access tokens already issued
// stay valid until they expire.
func (s *Service) SignOut(ctx context.Context, a *entity.Account) error {
	if err := s.users.RemoveToken(ctx, a, refreshProvider, refreshTokenName); err != nil {
		return err
	}
	s.logger.Debug("refresh session removed", zap.String("account_id", a.ID))
	return nil
}

// signedIn issues an access token plus a fresh refresh token.
func (s *Service) signedIn(ctx context.Context, a *entity.Account) (*Token, error) {
	tok, err := s.IssueToken(ctx, a)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	stamp, err := s.users.GetSecurityStamp(ctx, a)
	if err != nil {
		return nil, err
	}
	exp := s.now().Add(s.cfg.RefreshTTL)
	value := strings.Join([]string{digest(secret), strconv.FormatInt(exp.Unix(), 10), stamp}, ";")
	if err := s.users.SetToken(ctx, a, refreshProvider, refreshTokenName, value); err != nil {
		return nil, err
	}
	tok.RefreshToken = a.ID + "." + secret
	return tok, nil
}

func (s *Service) refreshMatches(stored, secret, stamp string) bool {
	parts := strings.Split(stored, ";")
	if len(parts) != 3 {
		return false
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || !time.Unix(exp, 0).After(s.now()) {
		return false
	}
	if parts[2] != stamp {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[0]), []byte(digest(secret))) == 1
}

func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
