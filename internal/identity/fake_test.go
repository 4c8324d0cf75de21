package identity

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

// countingContext records every call made against it and answers with
// empty data.
type countingContext struct {
	calls  map[string]int
	closes int
	save   error
}

func newCountingContext() *countingContext {
	return &countingContext{calls: make(map[string]int)}
}

func (f *countingContext) hit(name string) { f.calls[name]++ }

func (f *countingContext) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *countingContext) FindAccount(context.Context, repo.AccountKey, string) (*entity.Account, error) {
	f.hit("FindAccount")
	return nil, nil
}

func (f *countingContext) IncludeAccountGraph(context.Context, *entity.Account) error {
	f.hit("IncludeAccountGraph")
	return nil
}

func (f *countingContext) AccountClaims(context.Context, string) ([]*entity.AccountClaim, error) {
	f.hit("AccountClaims")
	return nil, nil
}

func (f *countingContext) AccountLogins(context.Context, string) ([]*entity.AccountLogin, error) {
	f.hit("AccountLogins")
	return nil, nil
}

func (f *countingContext) AccountTokens(context.Context, string) ([]*entity.AccountToken, error) {
	f.hit("AccountTokens")
	return nil, nil
}

func (f *countingContext) FindAccountLogin(context.Context, string, string) (*entity.AccountLogin, error) {
	f.hit("FindAccountLogin")
	return nil, nil
}

func (f *countingContext) FindAccountToken(context.Context, string, string, string) (*entity.AccountToken, error) {
	f.hit("FindAccountToken")
	return nil, nil
}

func (f *countingContext) FindAccountRole(context.Context, string, string) (*entity.AccountRole, error) {
	f.hit("FindAccountRole")
	return nil, nil
}

func (f *countingContext) AccountRoleNames(context.Context, string) ([]string, error) {
	f.hit("AccountRoleNames")
	return nil, nil
}

func (f *countingContext) AccountsInRole(context.Context, string) ([]*entity.Account, error) {
	f.hit("AccountsInRole")
	return nil, nil
}

func (f *countingContext) AccountsForClaim(context.Context, string, string) ([]*entity.Account, error) {
	f.hit("AccountsForClaim")
	return nil, nil
}

func (f *countingContext) FindRole(context.Context, repo.RoleKey, string) (*entity.Role, error) {
	f.hit("FindRole")
	return nil, nil
}

func (f *countingContext) RoleClaims(context.Context, string) ([]*entity.RoleClaim, error) {
	f.hit("RoleClaims")
	return nil, nil
}

func (f *countingContext) Accounts() *repo.Query[entity.Account] {
	f.hit("Accounts")
	return &repo.Query[entity.Account]{}
}

func (f *countingContext) Roles() *repo.Query[entity.Role] {
	f.hit("Roles")
	return &repo.Query[entity.Role]{}
}

func (f *countingContext) Attach(any) { f.hit("Attach") }
func (f *countingContext) Add(any)    { f.hit("Add") }
func (f *countingContext) Update(any) { f.hit("Update") }
func (f *countingContext) Remove(any) { f.hit("Remove") }

func (f *countingContext) SaveChanges(context.Context) error {
	f.hit("SaveChanges")
	return f.save
}

func (f *countingContext) Close() error {
	f.closes++
	return nil
}
