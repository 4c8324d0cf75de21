package identity

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// RoleStore persists roles and their claims. It owns its DataContext and
// closes it on Close.
type RoleStore struct {
	base
}

func NewRoleStore(db DataContext, opts ...Option) *RoleStore {
	return &RoleStore{base: newBase("role", db, opts)}
}

func (s *RoleStore) Create(ctx context.Context, r *entity.Role) (Result, error) {
	if err := requireRole(r); err != nil {
		return Result{}, err
	}
	if err := s.ready(ctx); err != nil {
		return Result{}, err
	}
	s.db.Add(r)
	return s.save(ctx, "create")
}

// Update stores r under a fresh concurrency stamp.
func (s *RoleStore) Update(ctx context.Context, r *entity.Role) (Result, error) {
	if err := requireRole(r); err != nil {
		return Result{}, err
	}
	if err := s.ready(ctx); err != nil {
		return Result{}, err
	}
	s.db.Attach(r)
	r.ConcurrencyStamp = utilities.NewStamp()
	s.db.Update(r)
	return s.save(ctx, "update")
}

func (s *RoleStore) Delete(ctx context.Context, r *entity.Role) (Result, error) {
	if err := requireRole(r); err != nil {
		return Result{}, err
	}
	if err := s.ready(ctx); err != nil {
		return Result{}, err
	}
	s.db.Attach(r)
	s.db.Remove(r)
	return s.save(ctx, "delete")
}

// FindByID returns nil when no role has id.
func (s *RoleStore) FindByID(ctx context.Context, id string) (*entity.Role, error) {
	if err := requireText("roleId", id); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.db.FindRole(ctx, repo.RoleByID, id)
}

// FindByName returns nil when no role has normalizedName.
func (s *RoleStore) FindByName(ctx context.Context, normalizedName string) (*entity.Role, error) {
	if err := requireText("normalizedRoleName", normalizedName); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.db.FindRole(ctx, repo.RoleByNormalizedName, normalizedName)
}

func (s *RoleStore) GetRoleID(ctx context.Context, r *entity.Role) (string, error) {
	if err := requireRole(r); err != nil {
		return "", err
	}
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *RoleStore) GetRoleName(ctx context.Context, r *entity.Role) (string, error) {
	if err := requireRole(r); err != nil {
		return "", err
	}
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	return r.Name, nil
}

func (s *RoleStore) SetRoleName(ctx context.Context, r *entity.Role, name string) error {
	if err := requireRole(r); err != nil {
		return err
	}
	if err := requireText("roleName", name); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	r.Name = name
	return nil
}

func (s *RoleStore) GetNormalizedRoleName(ctx context.Context, r *entity.Role) (string, error) {
	if err := requireRole(r); err != nil {
		return "", err
	}
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	return r.NormalizedName, nil
}

func (s *RoleStore) SetNormalizedRoleName(ctx context.Context, r *entity.Role, normalizedName string) error {
	if err := requireRole(r); err != nil {
		return err
	}
	if err := requireText("normalizedName", normalizedName); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	r.NormalizedName = normalizedName
	return nil
}

// GetClaims reads the claims of r from the store.
func (s *RoleStore) GetClaims(ctx context.Context, r *entity.Role) ([]entity.Claim, error) {
	if err := requireRole(r); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.RoleClaims(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	claims := make([]entity.Claim, 0, len(rows))
	for _, row := range rows {
		claims = append(claims, row.Claim())
	}
	return claims, nil
}

func (s *RoleStore) AddClaim(ctx context.Context, r *entity.Role, claim entity.Claim) error {
	if err := requireRole(r); err != nil {
		return err
	}
	if err := requireText("claim", claim.Type); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	row := &entity.RoleClaim{RoleID: r.ID, ClaimType: claim.Type, ClaimValue: claim.Value}
	s.db.Add(row)
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	r.Claims = append(r.Claims, row)
	return nil
}

// RemoveClaim deletes every claim row of r matching claim's type and value.
func (s *RoleStore) RemoveClaim(ctx context.Context, r *entity.Role, claim entity.Claim) error {
	if err := requireRole(r); err != nil {
		return err
	}
	if err := requireText("claim", claim.Type); err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	rows, err := s.db.RoleClaims(ctx, r.ID)
	if err != nil {
		return err
	}
	removed := make(map[int64]bool)
	for _, row := range rows {
		if row.ClaimType == claim.Type && row.ClaimValue == claim.Value {
			s.db.Remove(row)
			removed[row.ID] = true
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.db.SaveChanges(ctx); err != nil {
		return err
	}
	kept := make([]*entity.RoleClaim, 0, len(r.Claims))
	for _, row := range r.Claims {
		if !removed[row.ID] {
			kept = append(kept, row)
		}
	}
	r.Claims = kept
	return nil
}

// Roles exposes every role for ad hoc queries. After Close the query fails
// with ErrDisposed.
func (s *RoleStore) Roles() *repo.Query[entity.Role] {
	q := s.db.Roles()
	if s.disposed {
		q.Fail(ErrDisposed)
	}
	return q
}
