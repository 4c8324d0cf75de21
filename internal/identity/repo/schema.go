package repo

import (
	"context"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
)

// EnsureSchema creates the identity tables and indexes if they do not exist.
// It is the one-time schema shape; there is no migration history.
func (c *Context) EnsureSchema(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	for _, stmt := range c.ddl() {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (c *Context) ddl() []string {
	ts := "timestamptz"
	var stmts []string
	if c.dialect == database.SQLite {
		ts = "timestamp"
	} else if c.schema != "" {
		stmts = append(stmts, "create schema if not exists "+c.schema)
	}
	t := c.t
	return append(stmts,
		fmt.Sprintf(`create table if not exists %s (
	id varchar(64) primary key,
	user_name varchar(256) not null default '',
	normalized_user_name varchar(256) not null default '',
	email varchar(256) not null default '',
	normalized_email varchar(256) not null default '',
	email_confirmed boolean not null default false,
	password_hash text,
	phone_number varchar(64),
	phone_number_confirmed boolean not null default false,
	security_stamp varchar(64) not null default '',
	concurrency_stamp varchar(64) not null default '',
	lockout_enabled boolean not null default false,
	lockout_end %s,
	access_failed_count integer not null default 0,
	two_factor_enabled boolean not null default false
)`, t.accounts, ts),
		fmt.Sprintf(`create unique index if not exists ux_accounts_normalized_user_name on %s (normalized_user_name) where normalized_user_name <> ''`, t.accounts),
		fmt.Sprintf(`create index if not exists ix_accounts_normalized_email on %s (normalized_email)`, t.accounts),
		fmt.Sprintf(`create table if not exists %s (
	id varchar(64) primary key,
	name varchar(256) not null default '',
	normalized_name varchar(256) not null default '',
	concurrency_stamp varchar(64) not null default ''
)`, t.roles),
		fmt.Sprintf(`create unique index if not exists ux_roles_normalized_name on %s (normalized_name) where normalized_name <> ''`, t.roles),
		fmt.Sprintf(`create table if not exists %s (
	id bigint primary key,
	account_id varchar(64) not null references %s (id) on delete cascade,
	claim_type text not null default '',
	claim_value text not null default ''
)`, t.accountClaims, t.accounts),
		fmt.Sprintf(`create index if not exists ix_account_claims_account_id on %s (account_id)`, t.accountClaims),
		fmt.Sprintf(`create table if not exists %s (
	login_provider varchar(128) not null,
	provider_key varchar(128) not null,
	provider_display_name text not null default '',
	account_id varchar(64) not null references %s (id) on delete cascade,
	primary key (login_provider, provider_key)
)`, t.accountLogins, t.accounts),
		fmt.Sprintf(`create index if not exists ix_account_logins_account_id on %s (account_id)`, t.accountLogins),
		fmt.Sprintf(`create table if not exists %s (
	account_id varchar(64) not null references %s (id) on delete cascade,
	role_id varchar(64) not null references %s (id) on delete cascade,
	primary key (account_id, role_id)
)`, t.accountRoles, t.accounts, t.roles),
		fmt.Sprintf(`create index if not exists ix_account_roles_role_id on %s (role_id)`, t.accountRoles),
		fmt.Sprintf(`create table if not exists %s (
	account_id varchar(64) not null references %s (id) on delete cascade,
	login_provider varchar(128) not null,
	name varchar(128) not null,
	value text not null default '',
	primary key (account_id, login_provider, name)
)`, t.accountTokens, t.accounts),
		fmt.Sprintf(`create table if not exists %s (
	id bigint primary key,
	role_id varchar(64) not null references %s (id) on delete cascade,
	claim_type text not null default '',
	claim_value text not null default ''
)`, t.roleClaims, t.roles),
		fmt.Sprintf(`create index if not exists ix_role_claims_role_id on %s (role_id)`, t.roleClaims),
	)
}
