package identity

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
)

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "identity.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repo.NewContext(db).EnsureSchema(context.Background()))
	return db
}

func stores(t *testing.T, db *sqlx.DB) (*UserStore, *RoleStore) {
	t.Helper()
	users := NewUserStore(repo.NewContext(db))
	roles := NewRoleStore(repo.NewContext(db))
	t.Cleanup(func() {
		users.Close()
		roles.Close()
	})
	return users, roles
}

func createAccount(t *testing.T, users *UserStore, name string) *entity.Account {
	t.Helper()
	a := entity.NewAccount(name)
	a.NormalizedUserName = strings.ToUpper(name)
	a.Email = name + "@example.com"
	a.NormalizedEmail = strings.ToUpper(a.Email)
	res, err := users.Create(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, Success, res)
	return a
}

func TestCreateThenFind(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "alice")

	byID, err := users.FindByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.NotEmpty(t, byID.ID)
	require.Equal(t, "alice", byID.UserName)

	byName, err := users.FindByName(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, a.ID, byName.ID)

	byEmail, err := users.FindByEmail(ctx, "ALICE@EXAMPLE.COM")
	require.NoError(t, err)
	require.Equal(t, a.ID, byEmail.ID)

	missing, err := users.FindByName(ctx, "NOBODY")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSetTokenUpserts(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	users, _ := stores(t, db)
	a := createAccount(t, users, "bob")

	require.NoError(t, users.SetToken(ctx, a, "GitHub", "access_token", "one"))
	require.NoError(t, users.SetToken(ctx, a, "GitHub", "access_token", "two"))

	rows, err := repo.NewContext(db).AccountTokens(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "two", rows[0].Value)
	require.Len(t, a.Tokens, 1)

	v, err := users.GetToken(ctx, a, "GitHub", "access_token")
	require.NoError(t, err)
	require.Equal(t, "two", v)

	require.NoError(t, users.RemoveToken(ctx, a, "GitHub", "access_token"))
	require.NoError(t, users.RemoveToken(ctx, a, "GitHub", "access_token"))
	v, err = users.GetToken(ctx, a, "GitHub", "access_token")
	require.NoError(t, err)
	require.Empty(t, v)
	require.Empty(t, a.Tokens)
}

func TestRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "carol")

	n, err := users.CountCodes(ctx, a)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, users.ReplaceCodes(ctx, a, []string{"a", "b", "c"}))
	n, err = users.CountCodes(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	ok, err := users.RedeemCode(ctx, a, "b")
	require.NoError(t, err)
	require.True(t, ok)
	n, err = users.CountCodes(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ok, err = users.RedeemCode(ctx, a, "b")
	require.NoError(t, err)
	require.False(t, ok)

	joined, err := users.getToken(ctx, a, internalLoginProvider, recoveryCodesName)
	require.NoError(t, err)
	require.Equal(t, "a;c", joined)

	require.NoError(t, users.ReplaceCodes(ctx, a, []string{"x"}))
	n, _ = users.CountCodes(ctx, a)
	require.Equal(t, 1, n)
}

func TestReplaceCodesRejectsUnstorableCodes(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "cora")
	require.NoError(t, users.ReplaceCodes(ctx, a, []string{"ab", "ef"}))

	for name, codes := range map[string][]string{
		"nil":       nil,
		"separator": {"ab;cd", "ef"},
		"blank":     {"ab", " "},
		"empty":     {""},
	} {
		err := users.ReplaceCodes(ctx, a, codes)
		var argErr *ArgumentError
		require.ErrorAs(t, err, &argErr, name)
		require.Equal(t, "codes", argErr.Param, name)
	}

	// rejected calls leave the stored codes alone
	n, err := users.CountCodes(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	ok, err := users.RedeemCode(ctx, a, "cd")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, users.ReplaceCodes(ctx, a, []string{}))
	n, err = users.CountCodes(ctx, a)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReservedProviderIsNotPublic(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "cyd")
	require.NoError(t, users.SetAuthenticatorKey(ctx, a, "secret"))
	require.NoError(t, users.ReplaceCodes(ctx, a, []string{"a"}))

	var argErr *ArgumentError
	err := users.SetToken(ctx, a, internalLoginProvider, authenticatorKeyName, "mine")
	require.ErrorAs(t, err, &argErr)
	require.Equal(t, "loginProvider", argErr.Param)
	require.ErrorIs(t, users.RemoveToken(ctx, a, internalLoginProvider, recoveryCodesName), ErrInvalidArgument)
	_, err = users.GetToken(ctx, a, internalLoginProvider, recoveryCodesName)
	require.ErrorIs(t, err, ErrInvalidArgument)
	err = users.AddLogin(ctx, a, entity.LoginInfo{LoginProvider: internalLoginProvider, ProviderKey: "k"})
	require.ErrorIs(t, err, ErrInvalidArgument)

	key, err := users.GetAuthenticatorKey(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "secret", key)
	n, err := users.CountCodes(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	logins, err := users.GetLogins(ctx, a)
	require.NoError(t, err)
	require.Empty(t, logins)
}

func TestQueriesAfterCloseReportDisposed(t *testing.T) {
	ctx := context.Background()
	users, roles := stores(t, openDB(t))
	require.NoError(t, users.Close())
	require.NoError(t, roles.Close())

	_, err := users.Accounts().List(ctx)
	require.ErrorIs(t, err, ErrDisposed)
	_, err = users.Accounts().Where("user_name", "=", "x").Count(ctx)
	require.ErrorIs(t, err, ErrDisposed)
	_, err = roles.Roles().First(ctx)
	require.ErrorIs(t, err, ErrDisposed)
}

func TestAuthenticatorKey(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "dave")

	key, err := users.GetAuthenticatorKey(ctx, a)
	require.NoError(t, err)
	require.Empty(t, key)

	require.NoError(t, users.SetAuthenticatorKey(ctx, a, "JBSWY3DPEHPK3PXP"))
	key, err = users.GetAuthenticatorKey(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", key)

	// An external provider with the same token name is a different slot.
	v, err := users.GetToken(ctx, a, "AuthenticatorKey", "AuthenticatorKey")
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestRoleMembership(t *testing.T) {
	ctx := context.Background()
	users, roles := stores(t, openDB(t))
	a := createAccount(t, users, "erin")

	err := users.AddToRole(ctx, a, "ADMIN")
	require.ErrorIs(t, err, ErrInvalidOperation)
	require.NotErrorIs(t, err, ErrInvalidArgument)

	r := entity.NewRole("Admin")
	r.NormalizedName = "ADMIN"
	res, err := roles.Create(ctx, r)
	require.NoError(t, err)
	require.True(t, res.Succeeded)

	require.NoError(t, users.AddToRole(ctx, a, "ADMIN"))
	require.NoError(t, users.AddToRole(ctx, a, "ADMIN"))

	names, err := users.GetRoles(ctx, a)
	require.NoError(t, err)
	require.Equal(t, []string{"Admin"}, names)
	in, err := users.IsInRole(ctx, a, "ADMIN")
	require.NoError(t, err)
	require.True(t, in)

	members, err := users.GetUsersInRole(ctx, "ADMIN")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, a.ID, members[0].ID)

	none, err := users.GetUsersInRole(ctx, "GHOSTS")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	loaded, err := users.FindByID(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Roles, 1)
	require.Equal(t, "Admin", loaded.Roles[0].Role.Name)

	require.NoError(t, users.RemoveFromRole(ctx, a, "ADMIN"))
	require.NoError(t, users.RemoveFromRole(ctx, a, "ADMIN"))
	in, err = users.IsInRole(ctx, a, "ADMIN")
	require.NoError(t, err)
	require.False(t, in)
	require.Empty(t, a.Roles)
}

func TestExternalLogins(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "frank")

	require.NoError(t, users.AddLogin(ctx, a, entity.LoginInfo{LoginProvider: "Google", ProviderKey: "123", ProviderDisplayName: "G"}))

	found, err := users.FindByLogin(ctx, "Google", "123")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, a.ID, found.ID)
	require.Len(t, found.Logins, 1)

	logins, err := users.GetLogins(ctx, a)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	require.Equal(t, "Google", logins[0].LoginProvider)

	other := createAccount(t, users, "grace")
	require.NoError(t, users.RemoveLogin(ctx, other, "Google", "123"))
	logins, err = users.GetLogins(ctx, a)
	require.NoError(t, err)
	require.Len(t, logins, 1)

	require.NoError(t, users.RemoveLogin(ctx, a, "Google", "123"))
	logins, err = users.GetLogins(ctx, a)
	require.NoError(t, err)
	require.Empty(t, logins)

	gone, err := users.FindByLogin(ctx, "Google", "123")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestUsersForClaim(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "heidi")
	b := createAccount(t, users, "ivan")
	c := createAccount(t, users, "judy")

	sales := entity.Claim{Type: "dept", Value: "sales"}
	require.NoError(t, users.AddClaims(ctx, a, []entity.Claim{sales, {Type: "level", Value: "3"}}))
	require.NoError(t, users.AddClaims(ctx, b, []entity.Claim{sales}))
	require.NoError(t, users.AddClaims(ctx, c, []entity.Claim{{Type: "dept", Value: "support"}}))

	got, err := users.GetUsersForClaim(ctx, sales)
	require.NoError(t, err)
	ids := []string{got[0].ID, got[1].ID}
	want := []string{a.ID, b.ID}
	sort.Strings(ids)
	sort.Strings(want)
	require.Len(t, got, 2)
	require.Equal(t, want, ids)

	none, err := users.GetUsersForClaim(ctx, entity.Claim{Type: "dept", Value: "legal"})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestClaimEditing(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	a := createAccount(t, users, "kim")

	old := entity.Claim{Type: "dept", Value: "sales"}
	require.NoError(t, users.AddClaims(ctx, a, []entity.Claim{old, old, {Type: "level", Value: "1"}}))
	require.Len(t, a.Claims, 3)

	require.NoError(t, users.ReplaceClaim(ctx, a, old, entity.Claim{Type: "dept", Value: "support"}))
	claims, err := users.GetClaims(ctx, a)
	require.NoError(t, err)
	require.ElementsMatch(t, []entity.Claim{{Type: "level", Value: "1"}, {Type: "dept", Value: "support"}}, claims)
	require.Len(t, a.Claims, 2)

	require.NoError(t, users.RemoveClaims(ctx, a, []entity.Claim{{Type: "level", Value: "1"}, {Type: "level", Value: "9"}}))
	claims, err = users.GetClaims(ctx, a)
	require.NoError(t, err)
	require.Equal(t, []entity.Claim{{Type: "dept", Value: "support"}}, claims)
}

func TestUpdatePersistsAndDetectsStaleCopies(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	users, _ := stores(t, db)
	a := createAccount(t, users, "leo")

	first, _ := stores(t, db)
	second, _ := stores(t, db)
	a1, err := first.FindByID(ctx, a.ID)
	require.NoError(t, err)
	a2, err := second.FindByID(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, first.SetEmailConfirmed(ctx, a1, true))
	_, err = first.IncrementAccessFailedCount(ctx, a1)
	require.NoError(t, err)
	stamp := a1.ConcurrencyStamp
	res, err := first.Update(ctx, a1)
	require.NoError(t, err)
	require.Equal(t, Success, res)
	require.NotEqual(t, stamp, a1.ConcurrencyStamp)

	require.NoError(t, second.SetTwoFactorEnabled(ctx, a2, true))
	res, err = second.Update(ctx, a2)
	require.NoError(t, err)
	require.False(t, res.Succeeded)
	require.True(t, res.Has(CodeConcurrencyFailure))

	fresh, err := users.FindByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, fresh.EmailConfirmed)
	require.Equal(t, 1, fresh.AccessFailedCount)
	require.False(t, fresh.TwoFactorEnabled)

	res, err = first.Update(ctx, a1)
	require.NoError(t, err)
	require.True(t, res.Succeeded)
}

func TestRereadDoesNotRefreshStaleCopy(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	users, _ := stores(t, db)
	createAccount(t, users, "zoe")

	first, _ := stores(t, db)
	second, _ := stores(t, db)
	a1, err := first.FindByName(ctx, "ZOE")
	require.NoError(t, err)
	a2, err := second.FindByName(ctx, "ZOE")
	require.NoError(t, err)

	require.NoError(t, first.SetEmailConfirmed(ctx, a1, true))
	res, err := first.Update(ctx, a1)
	require.NoError(t, err)
	require.Equal(t, Success, res)

	// a uniqueness check through the same store loads the current row
	again, err := second.FindByName(ctx, "ZOE")
	require.NoError(t, err)
	require.NotSame(t, a2, again)
	require.True(t, again.EmailConfirmed)

	require.NoError(t, second.SetPhoneNumberConfirmed(ctx, a2, true))
	res, err = second.Update(ctx, a2)
	require.NoError(t, err)
	require.True(t, res.Has(CodeConcurrencyFailure))

	fresh, err := users.FindByName(ctx, "ZOE")
	require.NoError(t, err)
	require.True(t, fresh.EmailConfirmed)
	require.False(t, fresh.PhoneNumberConfirmed)

	// the freshly read copy is still current and saves
	require.NoError(t, second.SetPhoneNumberConfirmed(ctx, again, true))
	res, err = second.Update(ctx, again)
	require.NoError(t, err)
	require.Equal(t, Success, res)
}

func TestDeleteAccountCascades(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	users, _ := stores(t, db)
	a := createAccount(t, users, "mia")
	require.NoError(t, users.AddLogin(ctx, a, entity.LoginInfo{LoginProvider: "Google", ProviderKey: "9"}))
	require.NoError(t, users.ReplaceCodes(ctx, a, []string{"a"}))

	res, err := users.Delete(ctx, a)
	require.NoError(t, err)
	require.True(t, res.Succeeded)

	gone, err := users.FindByLogin(ctx, "Google", "9")
	require.NoError(t, err)
	require.Nil(t, gone)
	tokens, err := repo.NewContext(db).AccountTokens(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, tokens)
}

func TestRoleStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	_, roles := stores(t, openDB(t))

	r := entity.NewRole("Support")
	require.NoError(t, roles.SetNormalizedRoleName(ctx, r, "SUPPORT"))
	res, err := roles.Create(ctx, r)
	require.NoError(t, err)
	require.True(t, res.Succeeded)

	found, err := roles.FindByName(ctx, "SUPPORT")
	require.NoError(t, err)
	require.Equal(t, r.ID, found.ID)

	require.NoError(t, roles.SetRoleName(ctx, found, "Customer Support"))
	require.NoError(t, roles.SetNormalizedRoleName(ctx, found, "CUSTOMER SUPPORT"))
	res, err = roles.Update(ctx, found)
	require.NoError(t, err)
	require.True(t, res.Succeeded)

	byID, err := roles.FindByID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "Customer Support", byID.Name)

	perm := entity.Claim{Type: "perm", Value: "refund"}
	require.NoError(t, roles.AddClaim(ctx, byID, perm))
	claims, err := roles.GetClaims(ctx, byID)
	require.NoError(t, err)
	require.Equal(t, []entity.Claim{perm}, claims)
	require.NoError(t, roles.RemoveClaim(ctx, byID, perm))
	claims, err = roles.GetClaims(ctx, byID)
	require.NoError(t, err)
	require.Empty(t, claims)

	n, err := roles.Roles().Where("normalized_name", "like", "CUSTOMER%").Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	res, err = roles.Delete(ctx, byID)
	require.NoError(t, err)
	require.True(t, res.Succeeded)
	missing, err := roles.FindByID(ctx, r.ID)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRemoveRoleClaimLeavesCallerSliceAlone(t *testing.T) {
	ctx := context.Background()
	_, roles := stores(t, openDB(t))
	r := entity.NewRole("Billing")
	require.NoError(t, roles.SetNormalizedRoleName(ctx, r, "BILLING"))
	_, err := roles.Create(ctx, r)
	require.NoError(t, err)

	refund := entity.Claim{Type: "perm", Value: "refund"}
	void := entity.Claim{Type: "perm", Value: "void"}
	require.NoError(t, roles.AddClaim(ctx, r, refund))
	require.NoError(t, roles.AddClaim(ctx, r, void))
	held := r.Claims

	require.NoError(t, roles.RemoveClaim(ctx, r, refund))
	require.Len(t, r.Claims, 1)
	require.Equal(t, void, r.Claims[0].Claim())
	require.Len(t, held, 2)
	require.Equal(t, refund, held[0].Claim())
	require.Equal(t, void, held[1].Claim())
}

func TestAccountsQueryView(t *testing.T) {
	ctx := context.Background()
	users, _ := stores(t, openDB(t))
	for _, n := range []string{"nina", "omar", "pia"} {
		createAccount(t, users, n)
	}

	page, err := users.Accounts().OrderBy("normalized_user_name", true).Limit(2).List(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "pia", page[0].UserName)
}
