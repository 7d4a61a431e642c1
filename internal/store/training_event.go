package store

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

var trainingEventFields = []string{
	"id", "sequence", "timestamp", "samples", "average_error",
	"confidence", "duration_ms", "success", "error_message",
}

func (r *eventRepo) AppendTrainingEvent(ctx context.Context, data TrainingEventData) error {
	err := appendEvent(ctx, r.db, trainingEventsTable.Name, trainingEventFields[1:], func(seq int64, ts time.Time) []any {
		return []any{
			seq, ts,
			data.Samples, data.AverageError, data.Confidence,
			data.DurationMs, data.Success, data.ErrorMessage,
		}
	})
	if err != nil {
		return fmt.Errorf("save training event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryTrainingEvents(ctx context.Context, opts QueryOpts) ([]TrainingRecord, error) {
	b := entsql.Dialect(dialect.SQLite)
	t := b.Table(trainingEventsTable.Name)
	sel := b.Select(columns(t, trainingEventFields)...).
		From(t).
		OrderBy(entsql.Desc(t.C("sequence")))
	applyOpts(sel, t, opts)

	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query training events: %w", err)
	}
	defer rows.Close()

	var records []TrainingRecord
	for rows.Next() {
		var rec TrainingRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Sequence,
			&rec.Timestamp,
			&rec.Samples,
			&rec.AverageError,
			&rec.Confidence,
			&rec.DurationMs,
			&rec.Success,
			&rec.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan training event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
