// Relational store over a direct Postgres connection.
//
// Rows travel as JSON on both sides: writes go through json_populate_record(set) so Postgres does the type
// coercion, reads come back through row_to_json so they decode into the same structs as the REST store.

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is the subset of [pgxpool.Pool] the store uses.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements [TableStore] with pgx.
type PostgresStore struct {
	db   pgQuerier
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %v", shared.ErrInvalidConfig, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres: %v", shared.ErrServiceUnavailable, err)
	}
	return &PostgresStore{db: pool, pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// whereClause renders equality filters starting at placeholder $start. Values are compared as text so string
// ids, booleans and numbers all bind the same way.
func whereClause(filters []Filter, start int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	n := start
	for _, f := range filters {
		if f.Value == nil {
			parts = append(parts, ident(f.Column)+" IS NULL")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s::text = $%d", ident(f.Column), n))
		args = append(args, formatValue(f.Value))
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// buildSelect renders q as a query returning one JSON object per row.
func buildSelect(q Query) (string, []any) {
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = ident(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, ident(q.Table))

	where, args := whereClause(q.Filters, 1)
	b.WriteString(where)

	if len(q.Orders) > 0 {
		parts := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			dir := "DESC"
			if o.Ascending {
				dir = "ASC"
			}
			parts[i] = ident(o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	return "SELECT row_to_json(r) FROM (" + b.String() + ") AS r", args
}

// buildInsert inserts every element of a JSON array parameter, touching only cols so column defaults apply.
func buildInsert(table string, cols []string) string {
	quoted := quoteAll(cols)
	return fmt.Sprintf(
		"INSERT INTO %[1]s AS t (%[2]s) SELECT %[2]s FROM json_populate_recordset(NULL::%[1]s, $1::json) RETURNING row_to_json(t)",
		ident(table), strings.Join(quoted, ", "),
	)
}

// buildUpdate sets cols from a JSON object parameter on every row matching filters.
func buildUpdate(table string, cols []string, filters []Filter) (string, []any) {
	sets := make([]string, len(cols))
	for i, c := range quoteAll(cols) {
		sets[i] = fmt.Sprintf("%s = s.%s", c, c)
	}

	where, args := whereClause(filters, 2)
	query := fmt.Sprintf(
		"UPDATE %[1]s AS t SET %[2]s FROM json_populate_record(NULL::%[1]s, $1::json) AS s%[3]s RETURNING row_to_json(t)",
		ident(table), strings.Join(sets, ", "), qualify(where),
	)
	return query, args
}

// qualify prefixes column references in a WHERE clause with the target alias so they do not collide with s.
func qualify(where string) string {
	if where == "" {
		return ""
	}
	return strings.ReplaceAll(where, ` "`, ` t."`)
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return out
}

// rowsJSON normalizes row (struct, map or slice of either) into a JSON array of objects and the sorted union
// of their keys.
func rowsJSON(row any) ([]byte, []string, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode row: %w", err)
	}

	var objects []map[string]json.RawMessage
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &objects)
	} else {
		var obj map[string]json.RawMessage
		err = json.Unmarshal(data, &obj)
		objects = []map[string]json.RawMessage{obj}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: rows must encode as JSON objects", shared.ErrInvalidArgument)
	}

	seen := map[string]struct{}{}
	for _, o := range objects {
		for k := range o {
			seen[k] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, nil, fmt.Errorf("%w: row has no columns", shared.ErrInvalidArgument)
	}

	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	arr, err := json.Marshal(objects)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode rows: %w", err)
	}
	return arr, cols, nil
}

// collect reads row_to_json results into a JSON array.
func collect(rows pgx.Rows) ([]byte, int, error) {
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}
		parts = append(parts, string(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return []byte("[" + strings.Join(parts, ",") + "]"), len(parts), nil
}

func (s *PostgresStore) run(ctx context.Context, sql string, args ...any) ([]byte, int, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	body, n, err := collect(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return body, n, nil
}

// Select returns all rows matching q into dest.
func (s *PostgresStore) Select(ctx context.Context, q Query, dest any) error {
	sql, args := buildSelect(q)
	body, _, err := s.run(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("select %s: %w", q.Table, err)
	}
	return decodeRows(body, dest)
}

// SelectSingle expects exactly one matching row.
func (s *PostgresStore) SelectSingle(ctx context.Context, q Query, dest any) error {
	limited := q
	if limited.Limit == 0 || limited.Limit > 2 {
		limited.Limit = 2
	}
	sql, args := buildSelect(limited)
	body, n, err := s.run(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("select %s: %w", q.Table, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s: expected exactly one row, got %d", shared.ErrNotFound, q.Table, n)
	}
	return decodeRows(body, dest)
}

// Insert writes row (or rows) and reads back the stored representation into dest.
func (s *PostgresStore) Insert(ctx context.Context, table string, row any, dest any) error {
	payload, cols, err := rowsJSON(row)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	body, _, err := s.run(ctx, buildInsert(table, cols), string(payload))
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return decodeRows(body, dest)
}

// Update applies patch to rows matching q's filters.
func (s *PostgresStore) Update(ctx context.Context, q Query, patch any) (int, error) {
	payload, cols, err := rowsJSON(patch)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", q.Table, err)
	}
	// json_populate_record takes a single object
	object := strings.TrimSuffix(strings.TrimPrefix(string(payload), "["), "]")

	sql, args := buildUpdate(q.Table, cols, q.Filters)
	_, n, err := s.run(ctx, sql, append([]any{object}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", q.Table, err)
	}
	return n, nil
}
