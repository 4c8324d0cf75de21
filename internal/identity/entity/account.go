package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// Account represents a row in the `accounts` table together with the
// child collections a finder may have eagerly loaded.
type Account struct {
	ID                   string     `db:"id" json:"id"`
	UserName             string     `db:"user_name" json:"user_name"`
	NormalizedUserName   string     `db:"normalized_user_name" json:"-"`
	Email                string     `db:"email" json:"email,omitempty"`
	NormalizedEmail      string     `db:"normalized_email" json:"-"`
	EmailConfirmed       bool       `db:"email_confirmed" json:"email_confirmed"`
	PasswordHash         *string    `db:"password_hash" json:"-"`
	PhoneNumber          *string    `db:"phone_number" json:"phone_number,omitempty"`
	PhoneNumberConfirmed bool       `db:"phone_number_confirmed" json:"phone_number_confirmed"`
	SecurityStamp        string     `db:"security_stamp" json:"-"`
	ConcurrencyStamp     string     `db:"concurrency_stamp" json:"-"`
	LockoutEnabled       bool       `db:"lockout_enabled" json:"lockout_enabled"`
	LockoutEnd           *time.Time `db:"lockout_end" json:"lockout_end,omitempty"`
	AccessFailedCount    int        `db:"access_failed_count" json:"-"`
	TwoFactorEnabled     bool       `db:"two_factor_enabled" json:"two_factor_enabled"`

	Claims []*AccountClaim `db:"-" json:"-"`
	Logins []*AccountLogin `db:"-" json:"-"`
	Tokens []*AccountToken `db:"-" json:"-"`
	Roles  []*AccountRole  `db:"-" json:"-"`
}

// NewAccount returns an unsaved account with a fresh id and stamps.
// Normalized fields are left to the caller.
func NewAccount(userName string) *Account {
	return &Account{
		ID:               utilities.NewKSUID(),
		UserName:         userName,
		SecurityStamp:    utilities.NewStamp(),
		ConcurrencyStamp: utilities.NewStamp(),
		LockoutEnabled:   true,
	}
}

// AccountClaim is a (type, value) pair attached to one account.
type AccountClaim struct {
	ID         int64  `db:"id"`
	AccountID  string `db:"account_id"`
	ClaimType  string `db:"claim_type"`
	ClaimValue string `db:"claim_value"`
}

// Claim projects the row to its (type, value) pair.
func (c *AccountClaim) Claim() Claim {
	return Claim{Type: c.ClaimType, Value: c.ClaimValue}
}

// AccountLogin links an account to an external identity. (LoginProvider,
// ProviderKey) is unique system-wide.
type AccountLogin struct {
	LoginProvider       string `db:"login_provider"`
	ProviderKey         string `db:"provider_key"`
	ProviderDisplayName string `db:"provider_display_name"`
	AccountID           string `db:"account_id"`
}

// Info projects the row to a LoginInfo.
func (l *AccountLogin) Info() LoginInfo {
	return LoginInfo{
		LoginProvider:       l.LoginProvider,
		ProviderKey:         l.ProviderKey,
		ProviderDisplayName: l.ProviderDisplayName,
	}
}

// AccountToken is a named secret keyed by (AccountID, LoginProvider, Name).
type AccountToken struct {
	AccountID     string `db:"account_id"`
	LoginProvider string `db:"login_provider"`
	Name          string `db:"name"`
	Value         string `db:"value"`
}

// AccountRole is the join row between accounts and roles. Role is only
// populated when loaded as part of an account aggregate.
type AccountRole struct {
	AccountID string `db:"account_id"`
	RoleID    string `db:"role_id"`

	Role *Role `db:"-"`
}

// Claim is a (type, value) attribute consumed by authorization.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// LoginInfo describes one external login of an account.
type LoginInfo struct {
	LoginProvider       string `json:"login_provider"`
	ProviderKey         string `json:"provider_key"`
	ProviderDisplayName string `json:"provider_display_name,omitempty"`
}
