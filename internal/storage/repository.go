package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// maxBatchRows bounds the rows bound into a single statement so large
// flushes stay under SQLite's host parameter limit.
const maxBatchRows = 200

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Table describes how one kind of entity maps onto a SQL table.
type Table[E any] struct {
	// Name is the SQL table name.
	Name string
	// TenantColumn scopes every statement to one tenant.
	TenantColumn string
	// IDColumn holds the entity id used for deletes.
	IDColumn string
	// Columns lists every column in the order Encode returns values and
	// Decode expects them.
	Columns []string
	// ConflictColumns is the primary key used for upserts.
	ConflictColumns []string
	// Scope is an optional extra predicate for tables shared by several
	// entity kinds, e.g. "entity_type = 'location'".
	Scope string

	Encode func(t TenantID, id Identifier, e E) ([]any, error)
	Decode func(row Scanner) (Identifier, E, error)
}

// Repository executes the batched reads and writes for one table.
type Repository[E any] struct {
	db    *sql.DB
	table Table[E]
}

// NewRepository binds a table description to a database handle.
func NewRepository[E any](db *sql.DB, table Table[E]) *Repository[E] {
	return &Repository[E]{db: db, table: table}
}

// Load reads every row for the tenant. Rows that fail to decode are logged
// and skipped; a failing query is returned.
func (r *Repository[E]) Load(ctx context.Context, t TenantID) (map[Identifier]E, error) {
	rows, err := r.db.QueryContext(ctx, r.selectSQL(), string(t))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := map[Identifier]E{}
	for rows.Next() {
		id, e, err := r.table.Decode(rows)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed row", "table", r.table.Name, "tenant", t, "id", id, "error", err)
			continue
		}
		out[id] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.table.Name, err)
	}

	return out, nil
}

// Write applies deletes then upserts for the tenant in one transaction.
func (r *Repository[E]) Write(ctx context.Context, t TenantID, deletes []Identifier, upserts [][]any) error {
	if len(deletes) == 0 && len(upserts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", r.table.Name, err)
	}

	for chunk := range slices.Chunk(deletes, maxBatchRows) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(t))
		for _, id := range chunk {
			args = append(args, string(id))
		}
		if _, err := tx.ExecContext(ctx, r.deleteSQL(len(chunk)), args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("deleting from %s: %w", r.table.Name, err)
		}
	}

	for chunk := range slices.Chunk(upserts, maxBatchRows) {
		args := make([]any, 0, len(chunk)*len(r.table.Columns))
		for _, row := range chunk {
			if len(row) != len(r.table.Columns) {
				_ = tx.Rollback()
				return fmt.Errorf("upserting into %s: row has %d values, want %d", r.table.Name, len(row), len(r.table.Columns))
			}
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, r.upsertSQL(len(chunk)), args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upserting into %s: %w", r.table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", r.table.Name, err)
	}
	return nil
}

func (r *Repository[E]) where() string {
	w := r.table.TenantColumn + " = ?"
	if r.table.Scope != "" {
		w += " AND " + r.table.Scope
	}
	return w
}

func (r *Repository[E]) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(r.table.Columns, ", "), r.table.Name, r.where())
}

func (r *Repository[E]) deleteSQL(n int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s AND %s IN (%s)",
		r.table.Name, r.where(), r.table.IDColumn, placeholders(n))
}

func (r *Repository[E]) upsertSQL(n int) string {
	row := "(" + placeholders(len(r.table.Columns)) + ")"
	values := make([]string, n)
	for i := range values {
		values[i] = row
	}

	conflict := map[string]bool{}
	for _, c := range r.table.ConflictColumns {
		conflict[c] = true
	}
	var sets []string
	for _, c := range r.table.Columns {
		if !conflict[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		r.table.Name,
		strings.Join(r.table.Columns, ", "),
		strings.Join(values, ", "),
		strings.Join(r.table.ConflictColumns, ", "),
		action,
	)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
