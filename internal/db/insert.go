package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig describes a bulk insert-or-ignore.
type InsertConfig struct {
	Table   string   // target table, optionally schema-qualified
	Columns []string // columns being inserted
	Key     string   // column returned for each inserted row
}

// BulkInsertIgnore copies rows into a temp table and moves them into the
// target with INSERT ... ON CONFLICT DO NOTHING, all in one transaction.
// Rows colliding with any unique index, including each other, are skipped.
// It returns the Key column of every row actually inserted.
func BulkInsertIgnore(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if len(cfg.Columns) == 0 {
		return nil, eris.New("db: insert: no columns specified")
	}
	if cfg.Key == "" {
		return nil, eris.New("db: insert: no key column specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "db: insert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	insertSQL, err := stageRows(ctx, tx, cfg, rows)
	if err != nil {
		return nil, err
	}
	res, err := tx.Query(ctx, insertSQL+" RETURNING "+pgx.Identifier{cfg.Key}.Sanitize())
	if err != nil {
		return nil, eris.Wrapf(err, "db: insert: insert ignore into %s", cfg.Table)
	}
	keys, err := pgx.CollectRows(res, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "db: insert: insert ignore into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "db: insert: commit tx")
	}
	return keys, nil
}

// stageRows copies rows into a transaction-scoped temp table shaped like
// the target and returns the statement that moves them over.
func stageRows(ctx context.Context, tx pgx.Tx, cfg InsertConfig, rows [][]any) (string, error) {
	tempTable := "_tmp_insert_" + strings.ReplaceAll(cfg.Table, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return "", eris.Wrapf(err, "db: insert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return "", eris.Wrapf(err, "db: insert: copy into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
	), nil
}

func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
