package repo

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// DefaultSchema is the PostgreSQL schema that holds the identity tables.
const DefaultSchema = "identity"

var (
	// ErrConcurrencyConflict is returned by SaveChanges when a row changed
	// since it was loaded.
	ErrConcurrencyConflict = errors.New("repo: concurrency conflict")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("repo: context closed")
	// ErrUnsupportedEntity is returned by SaveChanges for values the context does not map.
	ErrUnsupportedEntity = errors.New("repo: unsupported entity")
)

// Context maps the identity schema model onto the relational tables and
// collects pending changes until SaveChanges commits them in one transaction.
//
// A Context is request scoped and must not be shared between goroutines.
type Context struct {
	db      *sqlx.DB
	dialect database.Dialect
	schema  string
	t       tables
	logger  *zap.Logger
	nextID  func() int64
	owned   bool

	pending []change
	stamps  map[any]string
	closed  bool
}

// Option configures a Context.
type Option func(*Context)

// WithSchema overrides the PostgreSQL schema name. SQLite ignores it.
func WithSchema(name string) Option {
	return func(c *Context) {
		c.schema = name
	}
}

// WithLogger sets the logger used for save diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSnowflakeNode makes claim ids come from n instead of the process-wide node.
func WithSnowflakeNode(n *snowflake.Node) Option {
	return func(c *Context) {
		if n != nil {
			c.nextID = func() int64 { return n.Generate().Int64() }
		}
	}
}

// WithDialect overrides the dialect derived from the driver name.
func WithDialect(d database.Dialect) Option {
	return func(c *Context) {
		c.dialect = d
	}
}

// NewContext wraps an existing pool. The pool stays owned by the caller.
func NewContext(db *sqlx.DB, opts ...Option) *Context {
	c := &Context{
		db:      db,
		dialect: database.DialectOf(db.DriverName()),
		schema:  DefaultSchema,
		logger:  zap.NewNop(),
		nextID:  utilities.NewSnowflakeID,
		stamps:  make(map[any]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.t = newTables(c.dialect, c.schema)
	return c
}

// Open connects with cfg and returns a Context that owns the pool and
// closes it on Close.
func Open(cfg database.Config, opts ...Option) (*Context, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	c := NewContext(db, opts...)
	c.owned = true
	return c, nil
}

// DB exposes the underlying pool.
func (c *Context) DB() *sqlx.DB { return c.db }

// Dialect reports the SQL dialect in use.
func (c *Context) Dialect() database.Dialect { return c.dialect }

// Close discards pending changes and makes the context unusable. Only a
// context created by Open closes the pool. Close is idempotent.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	c.stamps = nil
	if c.owned {
		return c.db.Close()
	}
	return nil
}

func (c *Context) check() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

type tables struct {
	accounts      string
	accountClaims string
	accountLogins string
	accountRoles  string
	accountTokens string
	roles         string
	roleClaims    string
}

func newTables(d database.Dialect, schema string) tables {
	q := func(name string) string {
		if d == database.SQLite || schema == "" {
			return name
		}
		return schema + "." + name
	}
	return tables{
		accounts:      q("accounts"),
		accountClaims: q("account_claims"),
		accountLogins: q("account_logins"),
		accountRoles:  q("account_roles"),
		accountTokens: q("account_tokens"),
		roles:         q("roles"),
		roleClaims:    q("role_claims"),
	}
}
