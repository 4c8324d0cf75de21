package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

var accountColumnList = []string{
	"id", "user_name", "normalized_user_name", "email", "normalized_email",
	"email_confirmed", "password_hash", "phone_number", "phone_number_confirmed",
	"security_stamp", "concurrency_stamp", "lockout_enabled", "lockout_end",
	"access_failed_count", "two_factor_enabled",
}

var roleColumnList = []string{"id", "name", "normalized_name", "concurrency_stamp"}

var (
	accountColumns = strings.Join(accountColumnList, ", ")
	roleColumns    = strings.Join(roleColumnList, ", ")
)

func prefixed(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = alias + "." + col
	}
	return strings.Join(out, ", ")
}

// AccountKey selects the column an account lookup matches on.
type AccountKey int

const (
	AccountByID AccountKey = iota
	AccountByNormalizedUserName
	AccountByNormalizedEmail
)

func (k AccountKey) column() string {
	switch k {
	case AccountByNormalizedUserName:
		return "normalized_user_name"
	case AccountByNormalizedEmail:
		return "normalized_email"
	default:
		return "id"
	}
}

// RoleKey selects the column a role lookup matches on.
type RoleKey int

const (
	RoleByID RoleKey = iota
	RoleByNormalizedName
)

func (k RoleKey) column() string {
	if k == RoleByNormalizedName {
		return "normalized_name"
	}
	return "id"
}

// get runs a single-row query. A missing row is reported as (false, nil).
func (c *Context) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	err := c.db.GetContext(ctx, dest, c.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Context) list(ctx context.Context, dest any, query string, args ...any) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.db.SelectContext(ctx, dest, c.db.Rebind(query), args...)
}

// FindAccount returns the account whose key column equals value, or nil.
func (c *Context) FindAccount(ctx context.Context, by AccountKey, value string) (*entity.Account, error) {
	var a entity.Account
	q := fmt.Sprintf(`select %s from %s where %s = ? order by id limit 1`, accountColumns, c.t.accounts, by.column())
	ok, err := c.get(ctx, &a, q, value)
	if err != nil || !ok {
		return nil, err
	}
	c.track(&a)
	return &a, nil
}

// IncludeAccountGraph loads the claims, logins, tokens and roles of a.
func (c *Context) IncludeAccountGraph(ctx context.Context, a *entity.Account) error {
	claims, err := c.AccountClaims(ctx, a.ID)
	if err != nil {
		return err
	}
	logins, err := c.AccountLogins(ctx, a.ID)
	if err != nil {
		return err
	}
	tokens, err := c.AccountTokens(ctx, a.ID)
	if err != nil {
		return err
	}
	roles, err := c.accountRoles(ctx, a.ID)
	if err != nil {
		return err
	}
	a.Claims, a.Logins, a.Tokens, a.Roles = claims, logins, tokens, roles
	return nil
}

func (c *Context) accountRoles(ctx context.Context, accountID string) ([]*entity.AccountRole, error) {
	var rows []struct {
		AccountID        string `db:"account_id"`
		RoleID           string `db:"role_id"`
		Name             string `db:"name"`
		NormalizedName   string `db:"normalized_name"`
		ConcurrencyStamp string `db:"concurrency_stamp"`
	}
	q := fmt.Sprintf(`select ar.account_id, ar.role_id, r.name, r.normalized_name, r.concurrency_stamp
		from %s ar join %s r on r.id = ar.role_id
		where ar.account_id = ? order by r.normalized_name`, c.t.accountRoles, c.t.roles)
	if err := c.list(ctx, &rows, q, accountID); err != nil {
		return nil, err
	}
	out := make([]*entity.AccountRole, 0, len(rows))
	for _, r := range rows {
		out = append(out, &entity.AccountRole{
			AccountID: r.AccountID,
			RoleID:    r.RoleID,
			Role: &entity.Role{
				ID:               r.RoleID,
				Name:             r.Name,
				NormalizedName:   r.NormalizedName,
				ConcurrencyStamp: r.ConcurrencyStamp,
			},
		})
	}
	return out, nil
}

// AccountClaims lists the claim rows of one account in insertion order.
func (c *Context) AccountClaims(ctx context.Context, accountID string) ([]*entity.AccountClaim, error) {
	var out []*entity.AccountClaim
	q := fmt.Sprintf(`select id, account_id, claim_type, claim_value from %s where account_id = ? order by id`, c.t.accountClaims)
	if err := c.list(ctx, &out, q, accountID); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountLogins lists the external logins of one account.
func (c *Context) AccountLogins(ctx context.Context, accountID string) ([]*entity.AccountLogin, error) {
	var out []*entity.AccountLogin
	q := fmt.Sprintf(`select login_provider, provider_key, provider_display_name, account_id from %s
		where account_id = ? order by login_provider, provider_key`, c.t.accountLogins)
	if err := c.list(ctx, &out, q, accountID); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountTokens lists the named tokens of one account.
func (c *Context) AccountTokens(ctx context.Context, accountID string) ([]*entity.AccountToken, error) {
	var out []*entity.AccountToken
	q := fmt.Sprintf(`select account_id, login_provider, name, value from %s
		where account_id = ? order by login_provider, name`, c.t.accountTokens)
	if err := c.list(ctx, &out, q, accountID); err != nil {
		return nil, err
	}
	return out, nil
}

// FindAccountLogin returns the login row for (provider, key), or nil.
func (c *Context) FindAccountLogin(ctx context.Context, provider, key string) (*entity.AccountLogin, error) {
	var l entity.AccountLogin
	q := fmt.Sprintf(`select login_provider, provider_key, provider_display_name, account_id from %s
		where login_provider = ? and provider_key = ?`, c.t.accountLogins)
	ok, err := c.get(ctx, &l, q, provider, key)
	if err != nil || !ok {
		return nil, err
	}
	return &l, nil
}

// FindAccountToken returns the token row for (accountID, provider, name), or nil.
func (c *Context) FindAccountToken(ctx context.Context, accountID, provider, name string) (*entity.AccountToken, error) {
	var tok entity.AccountToken
	q := fmt.Sprintf(`select account_id, login_provider, name, value from %s
		where account_id = ? and login_provider = ? and name = ?`, c.t.accountTokens)
	ok, err := c.get(ctx, &tok, q, accountID, provider, name)
	if err != nil || !ok {
		return nil, err
	}
	return &tok, nil
}

// FindAccountRole returns the join row for (accountID, roleID), or nil.
func (c *Context) FindAccountRole(ctx context.Context, accountID, roleID string) (*entity.AccountRole, error) {
	var ar entity.AccountRole
	q := fmt.Sprintf(`select account_id, role_id from %s where account_id = ? and role_id = ?`, c.t.accountRoles)
	ok, err := c.get(ctx, &ar, q, accountID, roleID)
	if err != nil || !ok {
		return nil, err
	}
	return &ar, nil
}

// AccountRoleNames projects the roles joined to an account to their names.
func (c *Context) AccountRoleNames(ctx context.Context, accountID string) ([]string, error) {
	var names []string
	q := fmt.Sprintf(`select r.name from %s ar join %s r on r.id = ar.role_id
		where ar.account_id = ? order by r.name`, c.t.accountRoles, c.t.roles)
	if err := c.list(ctx, &names, q, accountID); err != nil {
		return nil, err
	}
	return names, nil
}

// AccountsInRole lists the accounts joined to roleID.
func (c *Context) AccountsInRole(ctx context.Context, roleID string) ([]*entity.Account, error) {
	var out []*entity.Account
	q := fmt.Sprintf(`select %s from %s a join %s ar on ar.account_id = a.id
		where ar.role_id = ? order by a.normalized_user_name`, prefixed("a", accountColumnList), c.t.accounts, c.t.accountRoles)
	if err := c.list(ctx, &out, q, roleID); err != nil {
		return nil, err
	}
	for _, a := range out {
		c.track(a)
	}
	return out, nil
}

// AccountsForClaim lists the accounts holding at least one claim row that
// matches both type and value.
func (c *Context) AccountsForClaim(ctx context.Context, claimType, claimValue string) ([]*entity.Account, error) {
	var out []*entity.Account
	q := fmt.Sprintf(`select %s from %s a where exists (
		select 1 from %s ac where ac.account_id = a.id and ac.claim_type = ? and ac.claim_value = ?
	) order by a.normalized_user_name`, prefixed("a", accountColumnList), c.t.accounts, c.t.accountClaims)
	if err := c.list(ctx, &out, q, claimType, claimValue); err != nil {
		return nil, err
	}
	for _, a := range out {
		c.track(a)
	}
	return out, nil
}

// FindRole returns the role whose key column equals value, or nil.
func (c *Context) FindRole(ctx context.Context, by RoleKey, value string) (*entity.Role, error) {
	var r entity.Role
	q := fmt.Sprintf(`select %s from %s where %s = ?`, roleColumns, c.t.roles, by.column())
	ok, err := c.get(ctx, &r, q, value)
	if err != nil || !ok {
		return nil, err
	}
	c.track(&r)
	return &r, nil
}

// RoleClaims lists the claim rows of one role in insertion order.
func (c *Context) RoleClaims(ctx context.Context, roleID string) ([]*entity.RoleClaim, error) {
	var out []*entity.RoleClaim
	q := fmt.Sprintf(`select id, role_id, claim_type, claim_value from %s where role_id = ? order by id`, c.t.roleClaims)
	if err := c.list(ctx, &out, q, roleID); err != nil {
		return nil, err
	}
	return out, nil
}
