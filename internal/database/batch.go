package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/chrismostert/schraper/internal/logger"
)

// maxParamsPerStatement stays under the postgres wire-protocol limit of
// 65535 bind parameters per statement.
const maxParamsPerStatement = 60000

// Batch is a set of rows destined for one table, written with a multi-row
// INSERT ... ON CONFLICT upsert.
type Batch struct {
	Table   string
	Columns []string
	Keys    []string
	Rows    [][]any
}

// NewBatch builds a Batch from a slice of items. Rows sharing the same key
// columns are deduplicated with the last occurrence winning, since postgres
// rejects statements that touch the same row twice.
func NewBatch[T any](table string, columns, keys []string, items []T, row func(T) []any) Batch {
	keyIdx := make([]int, 0, len(keys))
	for _, key := range keys {
		for i, col := range columns {
			if col == key {
				keyIdx = append(keyIdx, i)
				break
			}
		}
	}

	rows := make([][]any, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		r := row(item)
		var sb strings.Builder
		for _, i := range keyIdx {
			fmt.Fprintf(&sb, "%v\x1f", r[i])
		}
		if i, ok := seen[sb.String()]; ok {
			rows[i] = r
			continue
		}
		seen[sb.String()] = len(rows)
		rows = append(rows, r)
	}

	return Batch{Table: table, Columns: columns, Keys: keys, Rows: rows}
}

// statement renders the upsert SQL for the given rows. When every column is
// part of the key there is nothing to update and conflicts are skipped.
func (b Batch) statement(rows [][]any) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", b.Table, strings.Join(b.Columns, ", "))

	args := make([]any, 0, len(rows)*len(b.Columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range b.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, row[j])
		}
		sb.WriteByte(')')
	}

	updates := make([]string, 0, len(b.Columns))
	for _, col := range b.Columns {
		if !contains(b.Keys, col) {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s)", strings.Join(b.Keys, ", "))
	if len(updates) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		fmt.Fprintf(&sb, " DO UPDATE SET %s", strings.Join(updates, ", "))
	}
	return sb.String(), args
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// chunks splits the rows so no statement exceeds the bind-parameter limit.
func (b Batch) chunks() [][][]any {
	rowsPerChunk := maxParamsPerStatement / len(b.Columns)
	var out [][][]any
	for start := 0; start < len(b.Rows); start += rowsPerChunk {
		end := min(start+rowsPerChunk, len(b.Rows))
		out = append(out, b.Rows[start:end])
	}
	return out
}

// Store persists batches of records.
type Store interface {
	UpsertBatch(ctx context.Context, batch Batch) error
}

// SQLStore writes batches to postgres. One batch is one transaction.
type SQLStore struct {
	db     *sqlx.DB
	logger logger.Logger
}

// NewSQLStore creates a Store backed by the given connection pool.
func NewSQLStore(db *sqlx.DB, log logger.Logger) *SQLStore {
	return &SQLStore{db: db, logger: log}
}

// UpsertBatch writes every row of the batch inside a single transaction.
// Empty batches are a no-op.
func (s *SQLStore) UpsertBatch(ctx context.Context, batch Batch) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert into %s: %w", batch.Table, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, rows := range batch.chunks() {
		query, args := batch.statement(rows)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %d rows into %s: %w", len(rows), batch.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert into %s: %w", batch.Table, err)
	}

	s.logger.Debug("batch upserted",
		logger.String("table", batch.Table),
		logger.Int("rows", len(batch.Rows)),
	)
	return nil
}
