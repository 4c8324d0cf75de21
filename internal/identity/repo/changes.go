package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

type op int

const (
	opInsert op = iota
	opUpdate
	opDelete
)

func (o op) String() string {
	switch o {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	default:
		return "delete"
	}
}

type change struct {
	op       op
	entity   any
	original string
}

// stampOf returns the concurrency stamp of entities guarded by one.
func stampOf(v any) (string, bool) {
	switch e := v.(type) {
	case *entity.Account:
		return e.ConcurrencyStamp, true
	case *entity.Role:
		return e.ConcurrencyStamp, true
	}
	return "", false
}

// track records the stamp an instance had when it was read. Originals are
// kept per instance, so reading the same row again never refreshes the
// original of a copy the caller already holds.
func (c *Context) track(v any) {
	if c.stamps == nil {
		return
	}
	if stamp, ok := stampOf(v); ok {
		if _, seen := c.stamps[v]; !seen {
			c.stamps[v] = stamp
		}
	}
}

// Attach starts tracking an entity that was not loaded through this context.
// The current concurrency stamp becomes the original value unless the
// instance is already tracked.
func (c *Context) Attach(v any) {
	if c.closed {
		return
	}
	c.track(v)
}

func (c *Context) original(v any) string {
	stamp, ok := stampOf(v)
	if !ok {
		return ""
	}
	if s, seen := c.stamps[v]; seen {
		return s
	}
	return stamp
}

// Add queues an insert. Claim rows without an id get one here.
func (c *Context) Add(v any) {
	switch e := v.(type) {
	case *entity.AccountClaim:
		if e.ID == 0 {
			e.ID = c.nextID()
		}
	case *entity.RoleClaim:
		if e.ID == 0 {
			e.ID = c.nextID()
		}
	}
	c.pending = append(c.pending, change{op: opInsert, entity: v})
}

// Update queues an update guarded by the entity's original concurrency stamp.
func (c *Context) Update(v any) {
	c.pending = append(c.pending, change{op: opUpdate, entity: v, original: c.original(v)})
}

// Remove queues a delete guarded by the entity's original concurrency stamp.
func (c *Context) Remove(v any) {
	c.pending = append(c.pending, change{op: opDelete, entity: v, original: c.original(v)})
}

// Pending reports how many changes are waiting for SaveChanges.
func (c *Context) Pending() int { return len(c.pending) }

// SaveChanges applies every pending change, in the order issued, inside one
// transaction. With nothing pending it does nothing. On failure the
// transaction is rolled back and the pending changes are discarded.
func (c *Context) SaveChanges(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	if len(c.pending) == 0 {
		return nil
	}
	pending := c.pending
	c.pending = nil

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ch := range pending {
		if err := c.apply(ctx, tx, ch); err != nil {
			err = translate(err)
			if errors.Is(err, ErrConcurrencyConflict) {
				c.logger.Warn("concurrency conflict", zap.String("op", ch.op.String()), zap.String("entity", fmt.Sprintf("%T", ch.entity)))
			} else {
				c.logger.Debug("save changes failed", zap.Error(err))
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	c.accept(pending)
	c.logger.Debug("changes saved", zap.Int("count", len(pending)))
	return nil
}

func (c *Context) accept(changes []change) {
	for _, ch := range changes {
		stamp, ok := stampOf(ch.entity)
		if !ok {
			continue
		}
		if ch.op == opDelete {
			delete(c.stamps, ch.entity)
		} else {
			c.stamps[ch.entity] = stamp
		}
	}
}

func (c *Context) apply(ctx context.Context, tx *sqlx.Tx, ch change) error {
	switch e := ch.entity.(type) {
	case *entity.Account:
		return c.applyAccount(ctx, tx, ch, e)
	case *entity.Role:
		return c.applyRole(ctx, tx, ch, e)
	case *entity.AccountClaim:
		return c.applyAccountClaim(ctx, tx, ch.op, e)
	case *entity.AccountLogin:
		return c.applyAccountLogin(ctx, tx, ch.op, e)
	case *entity.AccountToken:
		return c.applyAccountToken(ctx, tx, ch.op, e)
	case *entity.AccountRole:
		return c.applyAccountRole(ctx, tx, ch.op, e)
	case *entity.RoleClaim:
		return c.applyRoleClaim(ctx, tx, ch.op, e)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedEntity, ch.entity)
}

func (c *Context) exec(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// guarded runs a stamp-checked statement and reports a conflict when no row matched.
func (c *Context) guarded(ctx context.Context, tx *sqlx.Tx, query string, args ...any) error {
	n, err := c.exec(ctx, tx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

func (c *Context) applyAccount(ctx context.Context, tx *sqlx.Tx, ch change, a *entity.Account) error {
	switch ch.op {
	case opInsert:
		q := fmt.Sprintf(`insert into %s (%s) values (:id, :user_name, :normalized_user_name, :email,
			:normalized_email, :email_confirmed, :password_hash, :phone_number, :phone_number_confirmed,
			:security_stamp, :concurrency_stamp, :lockout_enabled, :lockout_end, :access_failed_count,
			:two_factor_enabled)`, c.t.accounts, accountColumns)
		_, err := tx.NamedExecContext(ctx, q, a)
		return err
	case opUpdate:
		q := fmt.Sprintf(`update %s set user_name = ?, normalized_user_name = ?, email = ?,
			normalized_email = ?, email_confirmed = ?, password_hash = ?, phone_number = ?,
			phone_number_confirmed = ?, security_stamp = ?, concurrency_stamp = ?, lockout_enabled = ?,
			lockout_end = ?, access_failed_count = ?, two_factor_enabled = ?
			where id = ? and concurrency_stamp = ?`, c.t.accounts)
		return c.guarded(ctx, tx, q,
			a.UserName, a.NormalizedUserName, a.Email, a.NormalizedEmail, a.EmailConfirmed,
			a.PasswordHash, a.PhoneNumber, a.PhoneNumberConfirmed, a.SecurityStamp,
			a.ConcurrencyStamp, a.LockoutEnabled, a.LockoutEnd, a.AccessFailedCount,
			a.TwoFactorEnabled, a.ID, ch.original)
	default:
		q := fmt.Sprintf(`delete from %s where id = ? and concurrency_stamp = ?`, c.t.accounts)
		return c.guarded(ctx, tx, q, a.ID, ch.original)
	}
}

func (c *Context) applyRole(ctx context.Context, tx *sqlx.Tx, ch change, r *entity.Role) error {
	switch ch.op {
	case opInsert:
		q := fmt.Sprintf(`insert into %s (%s) values (:id, :name, :normalized_name, :concurrency_stamp)`,
			c.t.roles, roleColumns)
		_, err := tx.NamedExecContext(ctx, q, r)
		return err
	case opUpdate:
		q := fmt.Sprintf(`update %s set name = ?, normalized_name = ?, concurrency_stamp = ?
			where id = ? and concurrency_stamp = ?`, c.t.roles)
		return c.guarded(ctx, tx, q, r.Name, r.NormalizedName, r.ConcurrencyStamp, r.ID, ch.original)
	default:
		q := fmt.Sprintf(`delete from %s where id = ? and concurrency_stamp = ?`, c.t.roles)
		return c.guarded(ctx, tx, q, r.ID, ch.original)
	}
}

func (c *Context) applyAccountClaim(ctx context.Context, tx *sqlx.Tx, o op, cl *entity.AccountClaim) error {
	var err error
	switch o {
	case opInsert:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`insert into %s (id, account_id, claim_type, claim_value) values (?, ?, ?, ?)`,
			c.t.accountClaims), cl.ID, cl.AccountID, cl.ClaimType, cl.ClaimValue)
	case opUpdate:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`update %s set claim_type = ?, claim_value = ? where id = ?`,
			c.t.accountClaims), cl.ClaimType, cl.ClaimValue, cl.ID)
	default:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`delete from %s where id = ?`, c.t.accountClaims), cl.ID)
	}
	return err
}

func (c *Context) applyAccountLogin(ctx context.Context, tx *sqlx.Tx, o op, l *entity.AccountLogin) error {
	var err error
	switch o {
	case opInsert:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`insert into %s (login_provider, provider_key, provider_display_name, account_id)
			values (?, ?, ?, ?)`, c.t.accountLogins), l.LoginProvider, l.ProviderKey, l.ProviderDisplayName, l.AccountID)
	case opUpdate:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`update %s set provider_display_name = ? where login_provider = ? and provider_key = ?`,
			c.t.accountLogins), l.ProviderDisplayName, l.LoginProvider, l.ProviderKey)
	default:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`delete from %s where login_provider = ? and provider_key = ?`,
			c.t.accountLogins), l.LoginProvider, l.ProviderKey)
	}
	return err
}

func (c *Context) applyAccountToken(ctx context.Context, tx *sqlx.Tx, o op, t *entity.AccountToken) error {
	var err error
	switch o {
	case opInsert:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`insert into %s (account_id, login_provider, name, value) values (?, ?, ?, ?)`,
			c.t.accountTokens), t.AccountID, t.LoginProvider, t.Name, t.Value)
	case opUpdate:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`update %s set value = ? where account_id = ? and login_provider = ? and name = ?`,
			c.t.accountTokens), t.Value, t.AccountID, t.LoginProvider, t.Name)
	default:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`delete from %s where account_id = ? and login_provider = ? and name = ?`,
			c.t.accountTokens), t.AccountID, t.LoginProvider, t.Name)
	}
	return err
}

func (c *Context) applyAccountRole(ctx context.Context, tx *sqlx.Tx, o op, ar *entity.AccountRole) error {
	var err error
	switch o {
	case opInsert:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`insert into %s (account_id, role_id) values (?, ?)`, c.t.accountRoles),
			ar.AccountID, ar.RoleID)
	case opDelete:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`delete from %s where account_id = ? and role_id = ?`, c.t.accountRoles),
			ar.AccountID, ar.RoleID)
	default:
		err = fmt.Errorf("%w: update of %T", ErrUnsupportedEntity, ar)
	}
	return err
}

func (c *Context) applyRoleClaim(ctx context.Context, tx *sqlx.Tx, o op, cl *entity.RoleClaim) error {
	var err error
	switch o {
	case opInsert:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`insert into %s (id, role_id, claim_type, claim_value) values (?, ?, ?, ?)`,
			c.t.roleClaims), cl.ID, cl.RoleID, cl.ClaimType, cl.ClaimValue)
	case opUpdate:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`update %s set claim_type = ?, claim_value = ? where id = ?`,
			c.t.roleClaims), cl.ClaimType, cl.ClaimValue, cl.ID)
	default:
		_, err = c.exec(ctx, tx, fmt.Sprintf(`delete from %s where id = ?`, c.t.roleClaims), cl.ID)
	}
	return err
}

// translate maps serialization failures to ErrConcurrencyConflict and leaves
// every other error untouched.
func translate(err error) error {
	if errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	return false
}
