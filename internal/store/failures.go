package store

import (
	"context"
	"fmt"
)

// RecordFailure adds an attempt to the item's open failure row, creating it
// if needed. A nil itemID always creates a new row.
func (s *SQLStore) RecordFailure(ctx context.Context, itemID *int64, errText string) error {
	now := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failure tx: %w", err)
	}
	defer tx.Rollback()

	if itemID != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE processing_failures
			SET attempt_count = attempt_count + 1, last_failure_at = ?, error = ?
			WHERE item_id = ? AND resolved = FALSE
		`), now, errText, *itemID)
		if err != nil {
			return fmt.Errorf("update failure %d: %w", *itemID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return tx.Commit()
		}
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO processing_failures (item_id, error, attempt_count, first_failure_at, last_failure_at, resolved)
		VALUES (?, ?, 1, ?, ?, FALSE)
	`), itemID, errText, now, now); err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return tx.Commit()
}

// ResolveFailures closes every open failure for itemID.
func (s *SQLStore) ResolveFailures(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE processing_failures SET resolved = TRUE WHERE item_id = ? AND resolved = FALSE",
	), itemID)
	if err != nil {
		return fmt.Errorf("resolve failures %d: %w", itemID, err)
	}
	return nil
}

func (s *SQLStore) ListFailures(ctx context.Context, unresolvedOnly bool, limit int) ([]Failure, error) {
	q := s.builder.
		Select("id, item_id, error, attempt_count, first_failure_at, last_failure_at, resolved").
		From("processing_failures")
	if unresolvedOnly {
		q = q.Where("resolved = FALSE")
	}
	if limit <= 0 {
		limit = 100
	}
	query, args, err := q.OrderBy("last_failure_at DESC", "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build failure query: %w", err)
	}
	var out []Failure
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return out, nil
}
