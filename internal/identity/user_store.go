package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// Internal secrets live under a provider name no external login can use.
const (
	internalLoginProvider = "[IdentityStore]"
	authenticatorKeyName  = "AuthenticatorKey"
	recoveryCodesName     = "RecoveryCodes"
	recoveryCodeSeparator = ";"
)

// UserStore persists accounts together with their claims, logins, tokens
// and role memberships. It owns its DataContext and closes it on Close.
//
// Scalar setters only change the in-memory account; call Update to persist
// them. Claim, login, role, token and recovery-code operations are written
// immediately.
type UserStore struct {
	base
}

func NewUserStore(db DataContext, opts ...Option) *UserStore {
	return &UserStore{base: newBase("user", db, opts)}
}

// enter validates a and then checks the store and ctx.
func (s *UserStore) enter(ctx context.Context, a *entity.Account) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	return s.ready(ctx)
}

// Create inserts a.
func (s *UserStore) Create(ctx context.Context, a *entity.Account) (Result, error) {
	if err := s.enter(ctx, a); err != nil {
		return Result{}, err
	}
	s.db.Add(a)
	return s.save(ctx, "create")
}

// Update stores a under a fresh concurrency stamp.
func (s *UserStore) Update(ctx context.Context, a *entity.Account) (Result, error) {
	if err := s.enter(ctx, a); err != nil {
		return Result{}, err
	}
	s.db.Attach(a)
	a.ConcurrencyStamp = utilities.NewStamp()
	s.db.Update(a)
	return s.save(ctx, "update")
}

// Delete removes a; its claims, logins, tokens and memberships cascade.
func (s *UserStore) Delete(ctx context.Context, a *entity.Account) (Result, error) {
	if err := s.enter(ctx, a); err != nil {
		return Result{}, err
	}
	s.db.Attach(a)
	s.db.Remove(a)
	return s.save(ctx, "delete")
}

func (s *UserStore) find(ctx context.Context, by repo.AccountKey, value string) (*entity.Account, error) {
	a, err := s.db.FindAccount(ctx, by, value)
	if err != nil || a == nil {
		return nil, err
	}
	if err := s.db.IncludeAccountGraph(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// FindByID returns the account with its claims, logins, tokens and roles
// loaded, or nil.
func (s *UserStore) FindByID(ctx context.Context, id string) (*entity.Account, error) {
	if err := requireText("userId", id); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.find(ctx, repo.AccountByID, id)
}

// FindByName returns the account with normalizedUserName, loaded like FindByID.
func (s *UserStore) FindByName(ctx context.Context, normalizedUserName string) (*entity.Account, error) {
	if err := requireText("normalizedUserName", normalizedUserName); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.find(ctx, repo.AccountByNormalizedUserName, normalizedUserName)
}

// FindByEmail returns the first account with normalizedEmail, or nil.
func (s *UserStore) FindByEmail(ctx context.Context, normalizedEmail string) (*entity.Account, error) {
	if err := requireText("normalizedEmail", normalizedEmail); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.find(ctx, repo.AccountByNormalizedEmail, normalizedEmail)
}

// FindByLogin resolves an external login to its account, loaded like FindByID.
func (s *UserStore) FindByLogin(ctx context.Context, provider, providerKey string) (*entity.Account, error) {
	if err := requireText("loginProvider", provider); err != nil {
		return nil, err
	}
	if err := requireText("providerKey", providerKey); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	login, err := s.db.FindAccountLogin(ctx, provider, providerKey)
	if err != nil || login == nil {
		return nil, err
	}
	return s.find(ctx, repo.AccountByID, login.AccountID)
}

func (s *UserStore) GetUserID(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *UserStore) GetUserName(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return a.UserName, nil
}

// SetUserName changes the display name on a; nothing is saved until Update.
func (s *UserStore) SetUserName(ctx context.Context, a *entity.Account, userName string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("userName", userName); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	a.UserName = userName
	return nil
}

func (s *UserStore) GetNormalizedUserName(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return a.NormalizedUserName, nil
}

func (s *UserStore) SetNormalizedUserName(ctx context.Context, a *entity.Account, normalizedName string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("normalizedName", normalizedName); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	a.NormalizedUserName = normalizedName
	return nil
}

// Claims

// GetClaims returns the claims of a ordered by row id.
func (s *UserStore) GetClaims(ctx context.Context, a *entity.Account) ([]entity.Claim, error) {
	if err := s.enter(ctx, a); err != nil {
		return nil, err
	}
	rows, err := s.db.AccountClaims(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	claims := make([]entity.Claim, 0, len(rows))
	for _, row := range rows {
		claims = append(claims, row.Claim())
	}
	return claims, nil
}

func validateClaims(claims []entity.Claim) error {
	if claims == nil {
		return &ArgumentError{Param: "claims"}
	}
	for _, c := range claims {
		if err := requireText("claims", c.Type); err != nil {
			return err
		}
	}
	return nil
}

// AddClaims inserts one row per claim in a single transaction.
func (s *UserStore) AddClaims(ctx context.Context, a *entity.Account, claims []entity.Claim) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := validateClaims(claims); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	rows := make([]*entity.AccountClaim, 0, len(claims))
	for _, c := range claims {
		row := &entity.AccountClaim{AccountID: a.ID, ClaimType: c.Type, ClaimValue: c.Value}
		s.db.Add(row)
		rows = append(rows, row)
	}
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	a.Claims = append(a.Claims, rows...)
	return nil
}

// ReplaceClaim adds newClaim and then removes every row matching claim.
// When both are equal the account ends up with the single new row.
func (s *UserStore) ReplaceClaim(ctx context.Context, a *entity.Account, claim, newClaim entity.Claim) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("claim", claim.Type); err != nil {
		return err
	}
	if err := requireText("newClaim", newClaim.Type); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	existing, err := s.db.AccountClaims(ctx, a.ID)
	if err != nil {
		return err
	}
	added := &entity.AccountClaim{AccountID: a.ID, ClaimType: newClaim.Type, ClaimValue: newClaim.Value}
	s.db.Add(added)
	removed := s.removeMatching(existing, []entity.Claim{claim})
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	a.Claims = append(pruneClaims(a.Claims, removed), added)
	return nil
}

// RemoveClaims deletes every row of a matching any of claims.
func (s *UserStore) RemoveClaims(ctx context.Context, a *entity.Account, claims []entity.Claim) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := validateClaims(claims); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	existing, err := s.db.AccountClaims(ctx, a.ID)
	if err != nil {
		return err
	}
	removed := s.removeMatching(existing, claims)
	if len(removed) == 0 {
		return nil
	}
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	a.Claims = pruneClaims(a.Claims, removed)
	return nil
}

func (s *UserStore) removeMatching(rows []*entity.AccountClaim, claims []entity.Claim) map[int64]bool {
	removed := make(map[int64]bool)
	for _, c := range claims {
		for _, row := range rows {
			if !removed[row.ID] && row.ClaimType == c.Type && row.ClaimValue == c.Value {
				s.db.Remove(row)
				removed[row.ID] = true
			}
		}
	}
	return removed
}

func pruneClaims(rows []*entity.AccountClaim, removed map[int64]bool) []*entity.AccountClaim {
	kept := make([]*entity.AccountClaim, 0, len(rows))
	for _, row := range rows {
		if !removed[row.ID] {
			kept = append(kept, row)
		}
	}
	return kept
}

// GetUsersForClaim returns every account holding a row with exactly claim's
// type and value. The result is empty, never nil, when nobody matches.
func (s *UserStore) GetUsersForClaim(ctx context.Context, claim entity.Claim) ([]*entity.Account, error) {
	if err := requireText("claim", claim.Type); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	accounts, err := s.db.AccountsForClaim(ctx, claim.Type, claim.Value)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []*entity.Account{}
	}
	return accounts, nil
}

// Logins

// AddLogin links an external login to a. The store's own provider is refused.
func (s *UserStore) AddLogin(ctx context.Context, a *entity.Account, login entity.LoginInfo) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireProvider(login.LoginProvider); err != nil {
		return err
	}
	if err := requireText("providerKey", login.ProviderKey); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	row := &entity.AccountLogin{
		LoginProvider:       login.LoginProvider,
		ProviderKey:         login.ProviderKey,
		ProviderDisplayName: login.ProviderDisplayName,
		AccountID:           a.ID,
	}
	s.db.Add(row)
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	a.Logins = append(a.Logins, row)
	return nil
}

// RemoveLogin deletes the login of a for (provider, providerKey). A login
// that does not exist or belongs to another account is left alone.
func (s *UserStore) RemoveLogin(ctx context.Context, a *entity.Account, provider, providerKey string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("loginProvider", provider); err != nil {
		return err
	}
	if err := requireText("providerKey", providerKey); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	row, err := s.db.FindAccountLogin(ctx, provider, providerKey)
	if err != nil || row == nil || row.AccountID != a.ID {
		return err
	}
	s.db.Remove(row)
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	kept := make([]*entity.AccountLogin, 0, len(a.Logins))
	for _, l := range a.Logins {
		if l.LoginProvider != provider || l.ProviderKey != providerKey {
			kept = append(kept, l)
		}
	}
	a.Logins = kept
	return nil
}

func (s *UserStore) GetLogins(ctx context.Context, a *entity.Account) ([]entity.LoginInfo, error) {
	if err := s.enter(ctx, a); err != nil {
		return nil, err
	}
	rows, err := s.db.AccountLogins(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	logins := make([]entity.LoginInfo, 0, len(rows))
	for _, row := range rows {
		logins = append(logins, row.Info())
	}
	return logins, nil
}

// Roles

func (s *UserStore) role(ctx context.Context, normalizedRoleName string) (*entity.Role, error) {
	return s.db.FindRole(ctx, repo.RoleByNormalizedName, normalizedRoleName)
}

// AddToRole joins a to the role named normalizedRoleName. An unknown role
// fails with ErrInvalidOperation. Joining a role twice is a no-op.
func (s *UserStore) AddToRole(ctx context.Context, a *entity.Account, normalizedRoleName string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("normalizedRoleName", normalizedRoleName); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	r, err := s.role(ctx, normalizedRoleName)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: role %q not found", ErrInvalidOperation, normalizedRoleName)
	}
	member, err := s.db.FindAccountRole(ctx, a.ID, r.ID)
	if err != nil || member != nil {
		return err
	}
	row := &entity.AccountRole{AccountID: a.ID, RoleID: r.ID}
	s.db.Add(row)
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	row.Role = r
	a.Roles = append(a.Roles, row)
	return nil
}

// RemoveFromRole drops the membership if it exists.
func (s *UserStore) RemoveFromRole(ctx context.Context, a *entity.Account, normalizedRoleName string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("normalizedRoleName", normalizedRoleName); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	r, err := s.role(ctx, normalizedRoleName)
	if err != nil || r == nil {
		return err
	}
	member, err := s.db.FindAccountRole(ctx, a.ID, r.ID)
	if err != nil || member == nil {
		return err
	}
	s.db.Remove(member)
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	kept := make([]*entity.AccountRole, 0, len(a.Roles))
	for _, ar := range a.Roles {
		if ar.RoleID != r.ID {
			kept = append(kept, ar)
		}
	}
	a.Roles = kept
	return nil
}

// GetRoles returns the names of the roles a belongs to.
func (s *UserStore) GetRoles(ctx context.Context, a *entity.Account) ([]string, error) {
	if err := s.enter(ctx, a); err != nil {
		return nil, err
	}
	names, err := s.db.AccountRoleNames(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *UserStore) IsInRole(ctx context.Context, a *entity.Account, normalizedRoleName string) (bool, error) {
	if err := requireAccount(a); err != nil {
		return false, err
	}
	if err := requireText("normalizedRoleName", normalizedRoleName); err != nil {
		return false, err
	}
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	r, err := s.role(ctx, normalizedRoleName)
	if err != nil || r == nil {
		return false, err
	}
	member, err := s.db.FindAccountRole(ctx, a.ID, r.ID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}

// GetUsersInRole lists the members of a role. An unknown role yields an
// empty list.
func (s *UserStore) GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]*entity.Account, error) {
	if err := requireText("normalizedRoleName", normalizedRoleName); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	r, err := s.role(ctx, normalizedRoleName)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return []*entity.Account{}, nil
	}
	accounts, err := s.db.AccountsInRole(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []*entity.Account{}
	}
	return accounts, nil
}

// Password

// SetPasswordHash sets or clears the hash on a.
func (s *UserStore) SetPasswordHash(ctx context.Context, a *entity.Account, hash *string) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (s *UserStore) GetPasswordHash(ctx context.Context, a *entity.Account) (*string, error) {
	if err := s.enter(ctx, a); err != nil {
		return nil, err
	}
	return a.PasswordHash, nil
}

// HasPassword reports whether a carries a non-empty hash.
func (s *UserStore) HasPassword(ctx context.Context, a *entity.Account) (bool, error) {
	if err := s.enter(ctx, a); err != nil {
		return false, err
	}
	return a.PasswordHash != nil && *a.PasswordHash != "", nil
}

// Security stamp

// SetSecurityStamp replaces the stamp; a blank stamp is refused.
func (s *UserStore) SetSecurityStamp(ctx context.Context, a *entity.Account, stamp string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("stamp", stamp); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	a.SecurityStamp = stamp
	return nil
}

func (s *UserStore) GetSecurityStamp(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return a.SecurityStamp, nil
}

// Email

func (s *UserStore) SetEmail(ctx context.Context, a *entity.Account, email string) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.Email = email
	return nil
}

func (s *UserStore) GetEmail(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return a.Email, nil
}

func (s *UserStore) GetEmailConfirmed(ctx context.Context, a *entity.Account) (bool, error) {
	if err := s.enter(ctx, a); err != nil {
		return false, err
	}
	return a.EmailConfirmed, nil
}

func (s *UserStore) SetEmailConfirmed(ctx context.Context, a *entity.Account, confirmed bool) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.EmailConfirmed = confirmed
	return nil
}

func (s *UserStore) GetNormalizedEmail(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return a.NormalizedEmail, nil
}

func (s *UserStore) SetNormalizedEmail(ctx context.Context, a *entity.Account, normalizedEmail string) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.NormalizedEmail = normalizedEmail
	return nil
}

// Phone

func (s *UserStore) SetPhoneNumber(ctx context.Context, a *entity.Account, phone *string) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.PhoneNumber = phone
	return nil
}

func (s *UserStore) GetPhoneNumber(ctx context.Context, a *entity.Account) (*string, error) {
	if err := s.enter(ctx, a); err != nil {
		return nil, err
	}
	return a.PhoneNumber, nil
}

func (s *UserStore) GetPhoneNumberConfirmed(ctx context.Context, a *entity.Account) (bool, error) {
	if err := s.enter(ctx, a); err != nil {
		return false, err
	}
	return a.PhoneNumberConfirmed, nil
}

func (s *UserStore) SetPhoneNumberConfirmed(ctx context.Context, a *entity.Account, confirmed bool) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.PhoneNumberConfirmed = confirmed
	return nil
}

// Lockout

func (s *UserStore) GetLockoutEndDate(ctx context.Context, a *entity.Account) (*time.Time, error) {
	if err := s.enter(ctx, a); err != nil {
		return nil, err
	}
	return a.LockoutEnd, nil
}

func (s *UserStore) SetLockoutEndDate(ctx context.Context, a *entity.Account, end *time.Time) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	if end != nil {
		utc := end.UTC()
		end = &utc
	}
	a.LockoutEnd = end
	return nil
}

// IncrementAccessFailedCount bumps the in-memory counter and returns the new value.
func (s *UserStore) IncrementAccessFailedCount(ctx context.Context, a *entity.Account) (int, error) {
	if err := s.enter(ctx, a); err != nil {
		return 0, err
	}
	a.AccessFailedCount++
	return a.AccessFailedCount, nil
}

func (s *UserStore) ResetAccessFailedCount(ctx context.Context, a *entity.Account) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.AccessFailedCount = 0
	return nil
}

func (s *UserStore) GetAccessFailedCount(ctx context.Context, a *entity.Account) (int, error) {
	if err := s.enter(ctx, a); err != nil {
		return 0, err
	}
	return a.AccessFailedCount, nil
}

func (s *UserStore) GetLockoutEnabled(ctx context.Context, a *entity.Account) (bool, error) {
	if err := s.enter(ctx, a); err != nil {
		return false, err
	}
	return a.LockoutEnabled, nil
}

func (s *UserStore) SetLockoutEnabled(ctx context.Context, a *entity.Account, enabled bool) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.LockoutEnabled = enabled
	return nil
}

// Two-factor

func (s *UserStore) SetTwoFactorEnabled(ctx context.Context, a *entity.Account, enabled bool) error {
	if err := s.enter(ctx, a); err != nil {
		return err
	}
	a.TwoFactorEnabled = enabled
	return nil
}

func (s *UserStore) GetTwoFactorEnabled(ctx context.Context, a *entity.Account) (bool, error) {
	if err := s.enter(ctx, a); err != nil {
		return false, err
	}
	return a.TwoFactorEnabled, nil
}

// Tokens

func (s *UserStore) enterToken(ctx context.Context, a *entity.Account, provider, name string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireProvider(provider); err != nil {
		return err
	}
	if err := requireText("name", name); err != nil {
		return err
	}
	return s.ready(ctx)
}

// requireProvider rejects blank providers and the provider reserved for the
// authenticator key and recovery codes.
func requireProvider(provider string) error {
	if err := requireText("loginProvider", provider); err != nil {
		return err
	}
	if strings.TrimSpace(provider) == internalLoginProvider {
		return &ArgumentError{Param: "loginProvider"}
	}
	return nil
}

// SetToken writes value under (provider, name), updating the row in place
// when it already exists.
func (s *UserStore) SetToken(ctx context.Context, a *entity.Account, provider, name, value string) error {
	if err := s.enterToken(ctx, a, provider, name); err != nil {
		return err
	}
	return s.setToken(ctx, a, provider, name, value)
}

func (s *UserStore) setToken(ctx context.Context, a *entity.Account, provider, name, value string) error {
	tok, err := s.db.FindAccountToken(ctx, a.ID, provider, name)
	if err != nil {
		return err
	}
	if tok == nil {
		tok = &entity.AccountToken{AccountID: a.ID, LoginProvider: provider, Name: name, Value: value}
		s.db.Add(tok)
	} else {
		tok.Value = value
		s.db.Update(tok)
	}
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	for _, t := range a.Tokens {
		if t.LoginProvider == provider && t.Name == name {
			t.Value = value
			return nil
		}
	}
	a.Tokens = append(a.Tokens, tok)
	return nil
}

// RemoveToken deletes the token if it exists.
func (s *UserStore) RemoveToken(ctx context.Context, a *entity.Account, provider, name string) error {
	if err := s.enterToken(ctx, a, provider, name); err != nil {
		return err
	}
	tok, err := s.db.FindAccountToken(ctx, a.ID, provider, name)
	if err != nil || tok == nil {
		return err
	}
	s.db.Remove(tok)
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	kept := make([]*entity.AccountToken, 0, len(a.Tokens))
	for _, t := range a.Tokens {
		if t.LoginProvider != provider || t.Name != name {
			kept = append(kept, t)
		}
	}
	a.Tokens = kept
	return nil
}

// GetToken returns the token value, or "" when there is none.
func (s *UserStore) GetToken(ctx context.Context, a *entity.Account, provider, name string) (string, error) {
	if err := s.enterToken(ctx, a, provider, name); err != nil {
		return "", err
	}
	return s.getToken(ctx, a, provider, name)
}

func (s *UserStore) getToken(ctx context.Context, a *entity.Account, provider, name string) (string, error) {
	tok, err := s.db.FindAccountToken(ctx, a.ID, provider, name)
	if err != nil || tok == nil {
		return "", err
	}
	return tok.Value, nil
}

func (s *UserStore) SetAuthenticatorKey(ctx context.Context, a *entity.Account, key string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireText("key", key); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.setToken(ctx, a, internalLoginProvider, authenticatorKeyName, key)
}

func (s *UserStore) GetAuthenticatorKey(ctx context.Context, a *entity.Account) (string, error) {
	if err := s.enter(ctx, a); err != nil {
		return "", err
	}
	return s.getToken(ctx, a, internalLoginProvider, authenticatorKeyName)
}

// Recovery codes

func splitCodes(joined string) []string {
	var codes []string
	for _, c := range strings.Split(joined, recoveryCodeSeparator) {
		if c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

func requireCodes(codes []string) error {
	if codes == nil {
		return &ArgumentError{Param: "codes"}
	}
	for _, c := range codes {
		if strings.TrimSpace(c) == "" || strings.Contains(c, recoveryCodeSeparator) {
			return &ArgumentError{Param: "codes"}
		}
	}
	return nil
}

// ReplaceCodes overwrites every stored recovery code with codes. An empty
// slice clears them; blank codes and codes containing the separator are rejected.
func (s *UserStore) ReplaceCodes(ctx context.Context, a *entity.Account, codes []string) error {
	if err := requireAccount(a); err != nil {
		return err
	}
	if err := requireCodes(codes); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.setToken(ctx, a, internalLoginProvider, recoveryCodesName, strings.Join(codes, recoveryCodeSeparator))
}

// RedeemCode consumes code. It reports false when the code is not stored,
// including when it was already redeemed.
func (s *UserStore) RedeemCode(ctx context.Context, a *entity.Account, code string) (bool, error) {
	if err := requireAccount(a); err != nil {
		return false, err
	}
	if err := requireText("code", code); err != nil {
		return false, err
	}
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	joined, err := s.getToken(ctx, a, internalLoginProvider, recoveryCodesName)
	if err != nil {
		return false, err
	}
	codes := splitCodes(joined)
	for i, c := range codes {
		if c != code {
			continue
		}
		rest := append(codes[:i:i], codes[i+1:]...)
		if err := s.setToken(ctx, a, internalLoginProvider, recoveryCodesName, strings.Join(rest, recoveryCodeSeparator)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// CountCodes returns how many recovery codes remain.
func (s *UserStore) CountCodes(ctx context.Context, a *entity.Account) (int, error) {
	if err := s.enter(ctx, a); err != nil {
		return 0, err
	}
	joined, err := s.getToken(ctx, a, internalLoginProvider, recoveryCodesName)
	if err != nil {
		return 0, err
	}
	return len(splitCodes(joined)), nil
}

// Accounts exposes every account for ad hoc queries. After Close the query
// fails with ErrDisposed.
func (s *UserStore) Accounts() *repo.Query[entity.Account] {
	q := s.db.Accounts()
	if s.disposed {
		q.Fail(ErrDisposed)
	}
	return q
}
