package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// NaturalKey is the dedup key of a pending discovery item.
func NaturalKey(owner, repo string) string {
	return owner + "|" + repo
}

const discoveryColumns = `seq, id, owner, repo, natural_key, processed, claimed_until, created_at, updated_at`

// InsertPendingDiscovery enqueues owner/repo unless its natural key is
// already present. Reports whether a row was inserted.
func (s *Store) InsertPendingDiscovery(ctx context.Context, owner, repo string) (bool, error) {
	now := s.nowMillis()
	res, err := s.exec(ctx,
		`INSERT INTO pending_discovery (id, owner, repo, natural_key, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(natural_key) DO NOTHING`,
		s.newID(), owner, repo, NaturalKey(owner, repo), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert pending discovery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPendingDiscoveryByKey returns the item with the given natural key, or nil.
func (s *Store) GetPendingDiscoveryByKey(ctx context.Context, key string) (*PendingDiscovery, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+discoveryColumns+` FROM pending_discovery WHERE natural_key = ?`, key)
	d, err := scanDiscovery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ClaimDiscoveryBatch leases up to n unprocessed, unclaimed items, oldest
// seq first, and returns them in ascending seq order.
func (s *Store) ClaimDiscoveryBatch(ctx context.Context, n int, lease time.Duration) ([]*PendingDiscovery, error) {
	now := s.now()
	until := now.Add(lease).UnixMilli()

	var items []*PendingDiscovery
	err := retry(ctx, func() error {
		items = items[:0]
		rows, err := s.DB.QueryContext(ctx, `
			UPDATE pending_discovery
			SET claimed_until = ?, updated_at = ?
			WHERE seq IN (
				SELECT seq FROM pending_discovery
				WHERE processed = 0 AND claimed_until <= ?
				ORDER BY seq ASC
				LIMIT ?
			)
			RETURNING `+discoveryColumns,
			until, now.UnixMilli(), now.UnixMilli(), n,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDiscovery(rows)
			if err != nil {
				return err
			}
			items = append(items, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim discovery batch: %w", err)
	}
	// RETURNING order is unspecified.
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

// MarkDiscoveryProcessed flips processed to true. It never flips it back.
func (s *Store) MarkDiscoveryProcessed(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE pending_discovery SET processed = 1, claimed_until = 0, updated_at = ? WHERE id = ?`,
		s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark discovery processed: %w", err)
	}
	return nil
}

// ReleaseDiscovery drops the lease on an unprocessed item so the next run
// can pick it up again.
func (s *Store) ReleaseDiscovery(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE pending_discovery SET claimed_until = 0, updated_at = ? WHERE id = ? AND processed = 0`,
		s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("release discovery: %w", err)
	}
	return nil
}

// CountPendingDiscovery counts unprocessed items, claimed or not.
func (s *Store) CountPendingDiscovery(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_discovery WHERE processed = 0`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscovery(r rowScanner) (*PendingDiscovery, error) {
	var d PendingDiscovery
	var processed int
	if err := r.Scan(&d.Seq, &d.ID, &d.Owner, &d.Repo, &d.NaturalKey, &processed,
		&d.ClaimedUntil, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Processed = processed != 0
	return &d, nil
}
