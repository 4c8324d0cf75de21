package entity

import "github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"

// Role is a named authorization group.
type Role struct {
	ID               string `db:"id" json:"id"`
	Name             string `db:"name" json:"name"`
	NormalizedName   string `db:"normalized_name" json:"-"`
	ConcurrencyStamp string `db:"concurrency_stamp" json:"-"`

	Users  []*AccountRole `db:"-" json:"-"`
	Claims []*RoleClaim   `db:"-" json:"-"`
}

// NewRole returns an unsaved role with a fresh id and concurrency stamp.
func NewRole(name string) *Role {
	return &Role{
		ID:               utilities.NewKSUID(),
		Name:             name,
		ConcurrencyStamp: utilities.NewStamp(),
	}
}

// RoleClaim is a (type, value) pair attached to one role.
type RoleClaim struct {
	ID         int64  `db:"id"`
	RoleID     string `db:"role_id"`
	ClaimType  string `db:"claim_type"`
	ClaimValue string `db:"claim_value"`
}

// Claim projects the row to its (type, value) pair.
func (c *RoleClaim) Claim() Claim {
	return Claim{Type: c.ClaimType, Value: c.ClaimValue}
}
