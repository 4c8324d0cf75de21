package identity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

// DataContext is the relational context the stores read and write through.
// *repo.Context implements it.
type DataContext interface {
	FindAccount(ctx context.Context, by repo.AccountKey, value string) (*entity.Account, error)
	IncludeAccountGraph(ctx context.Context, a *entity.Account) error
	AccountClaims(ctx context.Context, accountID string) ([]*entity.AccountClaim, error)
	AccountLogins(ctx context.Context, accountID string) ([]*entity.AccountLogin, error)
	AccountTokens(ctx context.Context, accountID string) ([]*entity.AccountToken, error)
	FindAccountLogin(ctx context.Context, provider, key string) (*entity.AccountLogin, error)
	FindAccountToken(ctx context.Context, accountID, provider, name string) (*entity.AccountToken, error)
	FindAccountRole(ctx context.Context, accountID, roleID string) (*entity.AccountRole, error)
	AccountRoleNames(ctx context.Context, accountID string) ([]string, error)
	AccountsInRole(ctx context.Context, roleID string) ([]*entity.Account, error)
	AccountsForClaim(ctx context.Context, claimType, claimValue string) ([]*entity.Account, error)
	FindRole(ctx context.Context, by repo.RoleKey, value string) (*entity.Role, error)
	RoleClaims(ctx context.Context, roleID string) ([]*entity.RoleClaim, error)
	Accounts() *repo.Query[entity.Account]
	Roles() *repo.Query[entity.Role]

	Attach(v any)
	Add(v any)
	Update(v any)
	Remove(v any)
	SaveChanges(ctx context.Context) error
	Close() error
}

var _ DataContext = (*repo.Context)(nil)

// Option configures a store.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	describer ErrorDescriber
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorDescriber replaces the describer used for failed results.
func WithErrorDescriber(d ErrorDescriber) Option {
	return func(o *options) {
		if d != nil {
			o.describer = d
		}
	}
}

// base holds what UserStore and RoleStore share: the owned context, the
// describer and the disposal flag.
type base struct {
	name      string
	db        DataContext
	logger    *zap.Logger
	describer ErrorDescriber
	disposed  bool
}

func newBase(name string, db DataContext, opts []Option) base {
	o := options{logger: zap.NewNop(), describer: DefaultErrorDescriber{}}
	for _, opt := range opts {
		opt(&o)
	}
	return base{name: name, db: db, logger: o.logger.With(zap.String("store", name)), describer: o.describer}
}

// ready runs after argument validation: a disposed store fails first, then
// an already canceled ctx.
func (b *base) ready(ctx context.Context) error {
	if b.disposed {
		return ErrDisposed
	}
	return ctx.Err()
}

// save commits pending changes for a Create, Update or Delete and turns a
// concurrency conflict into a failed result.
func (b *base) save(ctx context.Context, op string) (Result, error) {
	err := b.db.SaveChanges(ctx)
	switch {
	case err == nil:
		observeWrite(b.name, op, outcomeSuccess)
		return Success, nil
	case errors.Is(err, repo.ErrConcurrencyConflict):
		observeWrite(b.name, op, outcomeConflict)
		b.logger.Warn("concurrency failure", zap.String("op", op))
		return Failed(b.describer.ConcurrencyFailure()), nil
	default:
		observeWrite(b.name, op, outcomeError)
		return Result{}, err
	}
}

// Close disposes the context once. Later calls on the store return ErrDisposed.
func (b *base) Close() error {
	if b.disposed {
		return nil
	}
	b.disposed = true
	return b.db.Close()
}
