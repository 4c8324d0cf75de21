package repo

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

func newMock(t *testing.T) (*Context, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewContext(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSaveChangesWithNothingPending(t *testing.T) {
	c, mock := newMock(t)

	require.NoError(t, c.SaveChanges(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesCommitsInOrder(t *testing.T) {
	c, mock := newMock(t)
	r := entity.NewRole("Admin")
	r.NormalizedName = "ADMIN"
	claim := &entity.RoleClaim{ID: 42, RoleID: r.ID, ClaimType: "perm", ClaimValue: "refund"}

	mock.ExpectBegin()
	mock.ExpectExec(`insert into identity\.roles`).
		WithArgs(r.ID, "Admin", "ADMIN", r.ConcurrencyStamp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into identity\.role_claims`).
		WithArgs(int64(42), r.ID, "perm", "refund").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c.Add(r)
	c.Add(claim)
	require.Equal(t, 2, c.Pending())
	require.NoError(t, c.SaveChanges(context.Background()))
	require.Zero(t, c.Pending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAssignsClaimIDs(t *testing.T) {
	c, _ := newMock(t)
	var next int64 = 100
	c.nextID = func() int64 { next++; return next }

	a := &entity.AccountClaim{AccountID: "a1", ClaimType: "t", ClaimValue: "v"}
	b := &entity.AccountClaim{AccountID: "a1", ClaimType: "t", ClaimValue: "w"}
	c.Add(a)
	c.Add(b)
	require.Equal(t, int64(101), a.ID)
	require.Equal(t, int64(102), b.ID)
}

func TestUpdateUsesOriginalStamp(t *testing.T) {
	c, mock := newMock(t)
	a := entity.NewAccount("alice")
	original := a.ConcurrencyStamp
	c.Attach(a)
	a.ConcurrencyStamp = "next"

	args := make([]driver.Value, 0, 16)
	for i := 0; i < 15; i++ {
		args = append(args, sqlmock.AnyArg())
	}
	args = append(args, original)

	mock.ExpectBegin()
	mock.ExpectExec(`update identity\.accounts set .* where id = \? and concurrency_stamp = \?`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c.Update(a)
	require.NoError(t, c.SaveChanges(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, "next", c.original(a))
}

func TestRereadKeepsOriginalOfEarlierCopy(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(`from identity\.roles where id = \?`).
		WillReturnRows(sqlmock.NewRows(roleColumnList).AddRow("r1", "Admin", "ADMIN", "s1"))
	mock.ExpectQuery(`from identity\.roles where id = \?`).
		WillReturnRows(sqlmock.NewRows(roleColumnList).AddRow("r1", "Admin", "ADMIN", "s2"))

	stale, err := c.FindRole(context.Background(), RoleByID, "r1")
	require.NoError(t, err)
	current, err := c.FindRole(context.Background(), RoleByID, "r1")
	require.NoError(t, err)

	stale.Name = "Root"
	stale.ConcurrencyStamp = "s3"
	mock.ExpectBegin()
	mock.ExpectExec(`update identity\.roles set`).
		WithArgs("Root", "ADMIN", "s3", "r1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	c.Update(stale)
	require.ErrorIs(t, c.SaveChanges(context.Background()), ErrConcurrencyConflict)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, "s2", c.original(current))
}

func TestSaveChangesReportsConflict(t *testing.T) {
	c, mock := newMock(t)
	r := entity.NewRole("Admin")
	c.Attach(r)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from identity\.roles where id = \? and concurrency_stamp = \?`).
		WithArgs(r.ID, r.ConcurrencyStamp).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	c.Remove(r)
	err := c.SaveChanges(context.Background())
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.Zero(t, c.Pending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializationFailureIsConflict(t *testing.T) {
	for name, driverErr := range map[string]error{
		"pgx": &pgconn.PgError{Code: "40001"},
		"pq":  &pq.Error{Code: "40001"},
	} {
		t.Run(name, func(t *testing.T) {
			c, mock := newMock(t)
			tok := &entity.AccountToken{AccountID: "a1", LoginProvider: "p", Name: "n", Value: "v"}

			mock.ExpectBegin()
			mock.ExpectExec(`update identity\.account_tokens set value = \?`).WillReturnError(driverErr)
			mock.ExpectRollback()

			c.Update(tok)
			require.ErrorIs(t, c.SaveChanges(context.Background()), ErrConcurrencyConflict)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOtherDriverErrorsPropagate(t *testing.T) {
	c, mock := newMock(t)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec(`insert into identity\.account_logins`).WillReturnError(boom)
	mock.ExpectRollback()

	c.Add(&entity.AccountLogin{LoginProvider: "Google", ProviderKey: "1", AccountID: "a1"})
	err := c.SaveChanges(context.Background())
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrConcurrencyConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsupportedEntity(t *testing.T) {
	c, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	c.Add("not an entity")
	require.ErrorIs(t, c.SaveChanges(context.Background()), ErrUnsupportedEntity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClosedContext(t *testing.T) {
	c, mock := newMock(t)
	c.Add(entity.NewRole("Admin"))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	c.Add(entity.NewRole("Other"))
	require.ErrorIs(t, c.SaveChanges(context.Background()), ErrClosed)
	_, err := c.FindAccount(context.Background(), AccountByID, "a1")
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccountNotFound(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(`select .* from identity\.accounts where normalized_user_name = \?`).
		WithArgs("BOB").
		WillReturnRows(sqlmock.NewRows(accountColumnList))

	a, err := c.FindAccount(context.Background(), AccountByNormalizedUserName, "BOB")
	require.NoError(t, err)
	require.Nil(t, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRejectsUnknownColumns(t *testing.T) {
	c, mock := newMock(t)

	_, err := c.Accounts().Where("password_hash; drop table x", "=", 1).List(context.Background())
	require.Error(t, err)
	_, err = c.Roles().Where("name", "between", 1).Count(context.Background())
	require.Error(t, err)
	_, err = c.Roles().OrderBy("nope", false).First(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaQualification(t *testing.T) {
	require.Equal(t, "identity.accounts", newTables(database.Postgres, DefaultSchema).accounts)
	require.Equal(t, "auth.roles", newTables(database.Postgres, "auth").roles)
	require.Equal(t, "accounts", newTables(database.SQLite, DefaultSchema).accounts)
}

func TestWithDialectDropsSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewContext(sqlx.NewDb(db, "sqlmock"), WithDialect(database.SQLite))
	require.Equal(t, database.SQLite, c.Dialect())

	mock.ExpectQuery(`from roles where normalized_name = \?`).
		WillReturnRows(sqlmock.NewRows(roleColumnList))
	r, err := c.FindRole(context.Background(), RoleByNormalizedName, "ADMIN")
	require.NoError(t, err)
	require.Nil(t, r)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSnowflakeNode(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewContext(sqlx.NewDb(db, "sqlmock"), WithSnowflakeNode(utilities.NewSnowflakeNode(7)))

	first := &entity.RoleClaim{RoleID: "r1", ClaimType: "t", ClaimValue: "v"}
	second := &entity.RoleClaim{RoleID: "r1", ClaimType: "t", ClaimValue: "w"}
	c.Add(first)
	c.Add(second)
	require.Equal(t, int64(7), snowflake.ParseInt64(first.ID).Node())
	require.Greater(t, second.ID, first.ID)
}
