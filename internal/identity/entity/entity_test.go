package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	a := NewAccount("alice")
	b := NewAccount("alice")

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, "alice", a.UserName)
	require.Empty(t, a.NormalizedUserName)
	require.NotEmpty(t, a.SecurityStamp)
	require.NotEmpty(t, a.ConcurrencyStamp)
	require.NotEqual(t, a.SecurityStamp, a.ConcurrencyStamp)
	require.True(t, a.LockoutEnabled)
	require.Nil(t, a.PasswordHash)
}

func TestNewRole(t *testing.T) {
	r := NewRole("Admin")
	require.NotEmpty(t, r.ID)
	require.Equal(t, "Admin", r.Name)
	require.NotEmpty(t, r.ConcurrencyStamp)
}

func TestProjections(t *testing.T) {
	c := &AccountClaim{ClaimType: "scope", ClaimValue: "orders"}
	require.Equal(t, Claim{Type: "scope", Value: "orders"}, c.Claim())

	rc := &RoleClaim{ClaimType: "perm", ClaimValue: "refund"}
	require.Equal(t, Claim{Type: "perm", Value: "refund"}, rc.Claim())

	l := &AccountLogin{LoginProvider: "Google", ProviderKey: "123", ProviderDisplayName: "G", AccountID: "a1"}
	require.Equal(t, LoginInfo{LoginProvider: "Google", ProviderKey: "123", ProviderDisplayName: "G"}, l.Info())
}
