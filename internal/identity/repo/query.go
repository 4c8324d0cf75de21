package repo

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

var queryOps = map[string]string{
	"=":    "=",
	"<>":   "<>",
	"!=":   "<>",
	"<":    "<",
	"<=":   "<=",
	">":    ">",
	">=":   ">=",
	"like": "like",
}

// Query is an ad hoc filter over one table. Column names are checked
// against the mapped columns; values are always bound.
type Query[T any] struct {
	c       *Context
	table   string
	columns []string
	track   func(*T)

	where  []string
	args   []any
	order  []string
	limit  int
	offset int
	err    error
}

// Accounts returns a query over every account.
func (c *Context) Accounts() *Query[entity.Account] {
	return &Query[entity.Account]{
		c:       c,
		table:   c.t.accounts,
		columns: accountColumnList,
		track:   func(a *entity.Account) { c.track(a) },
	}
}

// Roles returns a query over every role.
func (c *Context) Roles() *Query[entity.Role] {
	return &Query[entity.Role]{
		c:       c,
		table:   c.t.roles,
		columns: roleColumnList,
		track:   func(r *entity.Role) { c.track(r) },
	}
}

// Fail makes List, First and Count return err. The first error recorded wins.
func (q *Query[T]) Fail(err error) *Query[T] {
	q.fail(err)
	return q
}

func (q *Query[T]) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

func (q *Query[T]) known(column string) bool {
	for _, col := range q.columns {
		if col == column {
			return true
		}
	}
	return false
}

// Where adds a predicate. Predicates are joined with "and".
func (q *Query[T]) Where(column, operator string, value any) *Query[T] {
	sqlOp, ok := queryOps[strings.ToLower(operator)]
	switch {
	case !q.known(column):
		q.fail(fmt.Errorf("query: unknown column %q", column))
	case !ok:
		q.fail(fmt.Errorf("query: unsupported operator %q", operator))
	default:
		q.where = append(q.where, column+" "+sqlOp+" ?")
		q.args = append(q.args, value)
	}
	return q
}

// OrderBy appends a sort key.
func (q *Query[T]) OrderBy(column string, desc bool) *Query[T] {
	if !q.known(column) {
		q.fail(fmt.Errorf("query: unknown column %q", column))
		return q
	}
	if desc {
		column += " desc"
	}
	q.order = append(q.order, column)
	return q
}

// Limit caps the number of rows returned by List. Zero means no limit.
func (q *Query[T]) Limit(n int) *Query[T] {
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query[T]) Offset(n int) *Query[T] {
	q.offset = n
	return q
}

func (q *Query[T]) predicate() string {
	if len(q.where) == 0 {
		return ""
	}
	return " where " + strings.Join(q.where, " and ")
}

// List runs the query and returns the matching rows.
func (q *Query[T]) List(ctx context.Context) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "select %s from %s%s", strings.Join(q.columns, ", "), q.table, q.predicate())
	if len(q.order) > 0 {
		b.WriteString(" order by " + strings.Join(q.order, ", "))
	} else {
		b.WriteString(" order by id")
	}
	args := append([]any(nil), q.args...)
	if q.limit > 0 || q.offset > 0 {
		limit := q.limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		b.WriteString(" limit ? offset ?")
		args = append(args, limit, q.offset)
	}
	var out []*T
	if err := q.c.list(ctx, &out, b.String(), args...); err != nil {
		return nil, err
	}
	for _, v := range out {
		q.track(v)
	}
	return out, nil
}

// First returns the first matching row, or nil.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	rows, err := q.Limit(1).List(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count returns the number of matching rows, ignoring Limit and Offset.
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	var n int64
	query := fmt.Sprintf("select count(*) from %s%s", q.table, q.predicate())
	if _, err := q.c.get(ctx, &n, query, q.args...); err != nil {
		return 0, err
	}
	return n, nil
}
