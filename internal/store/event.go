package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// Every event table shares one sequence so a judge call can be ordered
// relative to a training run; per-table auto-increment IDs cannot do that.

// seedSequence creates the counter row if the database is new.
func seedSequence(ctx context.Context, db *sql.DB) error {
	query, args := entsql.Dialect(dialect.SQLite).
		Insert(sequenceTable.Name).
		Columns("id", "next_val").
		Values(1, 1).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	return nil
}

// nextSequence claims the next sequence number inside tx.
func nextSequence(ctx context.Context, tx *sql.Tx) (int64, error) {
	b := entsql.Dialect(dialect.SQLite)
	t := b.Table(sequenceTable.Name)
	query, args := b.Select(t.C("next_val")).From(t).Where(entsql.EQ(t.C("id"), 1)).Query()

	var seq int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}

	query, args = b.Update(sequenceTable.Name).Add("next_val", 1).Where(entsql.EQ("id", 1)).Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("advance sequence: %w", err)
	}
	return seq, nil
}

// appendEvent inserts one event row stamped with the next sequence number
// and the current time. Both happen in one transaction, so a failed insert
// does not consume a number.
func appendEvent(ctx context.Context, db *sql.DB, table string, columns []string, values func(seq int64, ts time.Time) []any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return err
	}
	query, args := entsql.Dialect(dialect.SQLite).
		Insert(table).
		Columns(columns...).
		Values(values(seq, time.Now().UTC())...).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return tx.Commit()
}
