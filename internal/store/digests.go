package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const digestColumns = "id, digest_type, scheduled_for, sent_at, period_start, period_end, item_count, message_id"

// LatestDigest returns the most recently sent digest of digestType, or
// nil when none exists.
func (s *SQLStore) LatestDigest(ctx context.Context, digestType string) (*Digest, error) {
	var d Digest
	err := s.db.GetContext(ctx, &d, s.rebind(
		"SELECT "+digestColumns+" FROM digests WHERE digest_type = ? ORDER BY sent_at DESC, id DESC LIMIT 1",
	), digestType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest digest %s: %w", digestType, err)
	}
	return &d, nil
}

// RecordDigest stores a dispatched digest with its ranked items and stamps
// included_in_digest_at on items that have never been in a digest. A digest
// already recorded for the same (type, scheduled_for) is left alone and
// (false, nil) is returned.
func (s *SQLStore) RecordDigest(ctx context.Context, d *Digest, items []DigestItem) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin digest tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO digests (digest_type, scheduled_for, sent_at, period_start, period_end, item_count, message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest_type, scheduled_for) DO NOTHING
		RETURNING id
	`), d.DigestType, d.ScheduledFor.UTC(), d.SentAt.UTC(), d.PeriodStart.UTC(), d.PeriodEnd.UTC(),
		d.ItemCount, d.MessageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert digest %s: %w", d.DigestType, err)
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO digest_items (digest_id, item_id, rank) VALUES (?, ?, ?)
			ON CONFLICT(digest_id, item_id) DO NOTHING
		`), id, it.ItemID, it.Rank); err != nil {
			return false, fmt.Errorf("insert digest item %d: %w", it.ItemID, err)
		}
		ids = append(ids, it.ItemID)
	}

	if len(ids) > 0 {
		query, args, err := sqlx.In(
			"UPDATE items SET included_in_digest_at = ? WHERE id IN (?) AND included_in_digest_at IS NULL",
			d.SentAt.UTC(), ids,
		)
		if err != nil {
			return false, fmt.Errorf("build inclusion update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return false, fmt.Errorf("mark included: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit digest: %w", err)
	}
	d.ID = id
	return true, nil
}

// ClaimDigest takes the right to dispatch the (digestType, scheduledFor)
// window. It reports false while another claim younger than ttl is held.
func (s *SQLStore) ClaimDigest(ctx context.Context, digestType string, scheduledFor time.Time, ttl time.Duration) (bool, error) {
	now := s.now()
	var claimed string
	err := s.db.QueryRowxContext(ctx, s.rebind(`
		INSERT INTO digest_claims (digest_type, scheduled_for, claimed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(digest_type, scheduled_for) DO UPDATE SET claimed_at = excluded.claimed_at
			WHERE digest_claims.claimed_at < ?
		RETURNING digest_type
	`), digestType, scheduledFor.UTC(), now, now.Add(-ttl)).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s digest: %w", digestType, err)
	}
	return true, nil
}

// ReleaseDigest drops the claim on a window.
func (s *SQLStore) ReleaseDigest(ctx context.Context, digestType string, scheduledFor time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM digest_claims WHERE digest_type = ? AND scheduled_for = ?",
	), digestType, scheduledFor.UTC())
	if err != nil {
		return fmt.Errorf("release %s digest: %w", digestType, err)
	}
	return nil
}

func (s *SQLStore) ListDigests(ctx context.Context, f DigestFilter) ([]Digest, error) {
	q := s.builder.Select(digestColumns).From("digests")
	if f.DigestType != "" {
		q = q.Where(sq.Eq{"digest_type": f.DigestType})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query, args, err := q.OrderBy("sent_at DESC", "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build digest query: %w", err)
	}
	var out []Digest
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	return out, nil
}

func (s *SQLStore) DigestItems(ctx context.Context, digestID int64) ([]DigestItem, error) {
	var out []DigestItem
	if err := s.db.SelectContext(ctx, &out, s.rebind(
		"SELECT digest_id, item_id, rank FROM digest_items WHERE digest_id = ? ORDER BY rank",
	), digestID); err != nil {
		return nil, fmt.Errorf("digest items %d: %w", digestID, err)
	}
	return out, nil
}
