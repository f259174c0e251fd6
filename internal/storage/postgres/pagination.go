package postgres

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// PageQuery builds a parameterized count query and page query over the same
// FROM/WHERE clause. Every value reaches the database as a bind argument;
// only column names registered by the caller are spliced into SQL.
type PageQuery struct {
	columns  string
	from     string
	where    []string
	args     []any
	sortable map[string]string
	orderBy  []string
	page     int
	perPage  int
}

// NewPageQuery starts a query selecting columns from the given FROM clause
// (joins included).
func NewPageQuery(columns, from string) *PageQuery {
	return &PageQuery{columns: columns, from: from}
}

// Arg registers a bind argument and returns its placeholder.
func (q *PageQuery) Arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// Where adds a condition joined with AND.
func (q *PageQuery) Where(cond string) *PageQuery {
	q.where = append(q.where, cond)
	return q
}

// Search matches term case-insensitively as a substring of any of columns.
// An empty term adds nothing.
func (q *PageQuery) Search(term string, columns ...string) *PageQuery {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return q
	}
	ph := q.Arg("%" + escapeLike(term) + "%")
	conds := make([]string, len(columns))
	for i, c := range columns {
		conds[i] = c + " ILIKE " + ph
	}
	return q.Where("(" + strings.Join(conds, " OR ") + ")")
}

// Sortable registers the sort keys accepted by SortBy and the column
// expression each key maps to.
func (q *PageQuery) Sortable(keys map[string]string) *PageQuery {
	q.sortable = keys
	return q
}

// SortBy orders by the column registered for key.
func (q *PageQuery) SortBy(key string, desc bool) error {
	col, ok := q.sortable[key]
	if !ok {
		return errors.Errorf("unknown sort key %q", key)
	}
	q.OrderBy(col, desc)
	return nil
}

// OrderBy appends a column expression to the ORDER BY list.
func (q *PageQuery) OrderBy(expr string, desc bool) *PageQuery {
	if desc {
		expr += " DESC"
	} else {
		expr += " ASC"
	}
	q.orderBy = append(q.orderBy, expr)
	return q
}

// Paginate selects the 1-based page of perPage rows. A non-positive perPage
// disables paging.
func (q *PageQuery) Paginate(page, perPage int) *PageQuery {
	if page < 1 {
		page = 1
	}
	q.page, q.perPage = page, perPage
	return q
}

// Count returns the count query and its arguments.
func (q *PageQuery) Count() (string, []any) {
	return "SELECT COUNT(*) " + q.body(), q.args
}

// Select returns the page query and its arguments.
func (q *PageQuery) Select() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(q.columns)
	sb.WriteByte(' ')
	sb.WriteString(q.body())
	if len(q.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.orderBy, ", "))
	}

	args := append([]any(nil), q.args...)
	if q.perPage > 0 {
		args = append(args, q.perPage, (q.page-1)*q.perPage)
		sb.WriteString(" LIMIT $")
		sb.WriteString(strconv.Itoa(len(args) - 1))
		sb.WriteString(" OFFSET $")
		sb.WriteString(strconv.Itoa(len(args)))
	}
	return sb.String(), args
}

func (q *PageQuery) body() string {
	if len(q.where) == 0 {
		return q.from
	}
	return q.from + " WHERE " + strings.Join(q.where, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
