package identity

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

// The interfaces below are the narrow contracts an authentication engine
// depends on. UserStore implements all of the User* ones and RoleStore the
// Role* ones; callers should accept the smallest set they use.

// Users covers create, update, delete, lookup by id and name, and the id and
// name accessors.
type Users interface {
	Create(ctx context.Context, a *entity.Account) (Result, error)
	Update(ctx context.Context, a *entity.Account) (Result, error)
	Delete(ctx context.Context, a *entity.Account) (Result, error)
	FindByID(ctx context.Context, id string) (*entity.Account, error)
	FindByName(ctx context.Context, normalizedUserName string) (*entity.Account, error)
	GetUserID(ctx context.Context, a *entity.Account) (string, error)
	GetUserName(ctx context.Context, a *entity.Account) (string, error)
	SetUserName(ctx context.Context, a *entity.Account, userName string) error
	GetNormalizedUserName(ctx context.Context, a *entity.Account) (string, error)
	SetNormalizedUserName(ctx context.Context, a *entity.Account, normalizedName string) error
	Close() error
}

// UserLogins links accounts to external login providers.
type UserLogins interface {
	AddLogin(ctx context.Context, a *entity.Account, login entity.LoginInfo) error
	RemoveLogin(ctx context.Context, a *entity.Account, provider, providerKey string) error
	GetLogins(ctx context.Context, a *entity.Account) ([]entity.LoginInfo, error)
	FindByLogin(ctx context.Context, provider, providerKey string) (*entity.Account, error)
}

// UserClaims manages the claims held directly by an account.
type UserClaims interface {
	GetClaims(ctx context.Context, a *entity.Account) ([]entity.Claim, error)
	AddClaims(ctx context.Context, a *entity.Account, claims []entity.Claim) error
	ReplaceClaim(ctx context.Context, a *entity.Account, claim, newClaim entity.Claim) error
	RemoveClaims(ctx context.Context, a *entity.Account, claims []entity.Claim) error
	GetUsersForClaim(ctx context.Context, claim entity.Claim) ([]*entity.Account, error)
}

// UserPasswords reads and writes the stored password hash.
type UserPasswords interface {
	SetPasswordHash(ctx context.Context, a *entity.Account, hash *string) error
	GetPasswordHash(ctx context.Context, a *entity.Account) (*string, error)
	HasPassword(ctx context.Context, a *entity.Account) (bool, error)
}

// UserSecurityStamps exposes the stamp that invalidates issued credentials.
type UserSecurityStamps interface {
	SetSecurityStamp(ctx context.Context, a *entity.Account, stamp string) error
	GetSecurityStamp(ctx context.Context, a *entity.Account) (string, error)
}

// UserEmails manages the email address and its confirmation.
type UserEmails interface {
	SetEmail(ctx context.Context, a *entity.Account, email string) error
	GetEmail(ctx context.Context, a *entity.Account) (string, error)
	GetEmailConfirmed(ctx context.Context, a *entity.Account) (bool, error)
	SetEmailConfirmed(ctx context.Context, a *entity.Account, confirmed bool) error
	FindByEmail(ctx context.Context, normalizedEmail string) (*entity.Account, error)
	GetNormalizedEmail(ctx context.Context, a *entity.Account) (string, error)
	SetNormalizedEmail(ctx context.Context, a *entity.Account, normalizedEmail string) error
}

// UserLockouts tracks failed attempts and the lockout window.
type UserLockouts interface {
	GetLockoutEndDate(ctx context.Context, a *entity.Account) (*time.Time, error)
	SetLockoutEndDate(ctx context.Context, a *entity.Account, end *time.Time) error
	IncrementAccessFailedCount(ctx context.Context, a *entity.Account) (int, error)
	ResetAccessFailedCount(ctx context.Context, a *entity.Account) error
	GetAccessFailedCount(ctx context.Context, a *entity.Account) (int, error)
	GetLockoutEnabled(ctx context.Context, a *entity.Account) (bool, error)
	SetLockoutEnabled(ctx context.Context, a *entity.Account, enabled bool) error
}

// UserPhoneNumbers manages the phone number and its confirmation.
type UserPhoneNumbers interface {
	SetPhoneNumber(ctx context.Context, a *entity.Account, phone *string) error
	GetPhoneNumber(ctx context.Context, a *entity.Account) (*string, error)
	GetPhoneNumberConfirmed(ctx context.Context, a *entity.Account) (bool, error)
	SetPhoneNumberConfirmed(ctx context.Context, a *entity.Account, confirmed bool) error
}

// QueryableUsers exposes every account for ad hoc filtering and paging.
type QueryableUsers interface {
	Accounts() *repo.Query[entity.Account]
}

// UserTwoFactor toggles two-factor sign-in for an account.
type UserTwoFactor interface {
	SetTwoFactorEnabled(ctx context.Context, a *entity.Account, enabled bool) error
	GetTwoFactorEnabled(ctx context.Context, a *entity.Account) (bool, error)
}

// UserTokens stores named tokens per provider. The store's own provider is not reachable here.
type UserTokens interface {
	SetToken(ctx context.Context, a *entity.Account, provider, name, value string) error
	RemoveToken(ctx context.Context, a *entity.Account, provider, name string) error
	GetToken(ctx context.Context, a *entity.Account, provider, name string) (string, error)
}

// UserAuthenticatorKeys holds the shared secret for authenticator apps.
type UserAuthenticatorKeys interface {
	SetAuthenticatorKey(ctx context.Context, a *entity.Account, key string) error
	GetAuthenticatorKey(ctx context.Context, a *entity.Account) (string, error)
}

// UserRecoveryCodes keeps single-use recovery codes.
type UserRecoveryCodes interface {
	ReplaceCodes(ctx context.Context, a *entity.Account, codes []string) error
	RedeemCode(ctx context.Context, a *entity.Account, code string) (bool, error)
	CountCodes(ctx context.Context, a *entity.Account) (int, error)
}

// UserRoles manages role membership.
type UserRoles interface {
	AddToRole(ctx context.Context, a *entity.Account, normalizedRoleName string) error
	RemoveFromRole(ctx context.Context, a *entity.Account, normalizedRoleName string) error
	GetRoles(ctx context.Context, a *entity.Account) ([]string, error)
	IsInRole(ctx context.Context, a *entity.Account, normalizedRoleName string) (bool, error)
	GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]*entity.Account, error)
}

// Roles covers role create, update, delete, lookup and the name accessors.
type Roles interface {
	Create(ctx context.Context, r *entity.Role) (Result, error)
	Update(ctx context.Context, r *entity.Role) (Result, error)
	Delete(ctx context.Context, r *entity.Role) (Result, error)
	FindByID(ctx context.Context, id string) (*entity.Role, error)
	FindByName(ctx context.Context, normalizedName string) (*entity.Role, error)
	GetRoleID(ctx context.Context, r *entity.Role) (string, error)
	GetRoleName(ctx context.Context, r *entity.Role) (string, error)
	SetRoleName(ctx context.Context, r *entity.Role, name string) error
	GetNormalizedRoleName(ctx context.Context, r *entity.Role) (string, error)
	SetNormalizedRoleName(ctx context.Context, r *entity.Role, normalizedName string) error
	Close() error
}

// RoleClaims manages the claims attached to a role.
type RoleClaims interface {
	GetClaims(ctx context.Context, r *entity.Role) ([]entity.Claim, error)
	AddClaim(ctx context.Context, r *entity.Role, claim entity.Claim) error
	RemoveClaim(ctx context.Context, r *entity.Role, claim entity.Claim) error
}

// QueryableRoles exposes every role for ad hoc filtering and paging.
type QueryableRoles interface {
	Roles() *repo.Query[entity.Role]
}

var (
	_ Users                 = (*UserStore)(nil)
	_ UserLogins            = (*UserStore)(nil)
	_ UserClaims            = (*UserStore)(nil)
	_ UserPasswords         = (*UserStore)(nil)
	_ UserSecurityStamps    = (*UserStore)(nil)
	_ UserEmails            = (*UserStore)(nil)
	_ UserLockouts          = (*UserStore)(nil)
	_ UserPhoneNumbers      = (*UserStore)(nil)
	_ QueryableUsers        = (*UserStore)(nil)
	_ UserTwoFactor         = (*UserStore)(nil)
	_ UserTokens            = (*UserStore)(nil)
	_ UserAuthenticatorKeys = (*UserStore)(nil)
	_ UserRecoveryCodes     = (*UserStore)(nil)
	_ UserRoles             = (*UserStore)(nil)

	_ Roles          = (*RoleStore)(nil)
	_ RoleClaims     = (*RoleStore)(nil)
	_ QueryableRoles = (*RoleStore)(nil)
)
