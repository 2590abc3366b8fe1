package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const enrichmentColumns = `seq, id, server_id, server_name, prepared_readme, processed, claimed_until, created_at, updated_at`

// InsertPendingEnrichment enqueues a catalog record for AI enrichment unless
// one already exists for the same server. Reports whether a row was inserted.
func (s *Store) InsertPendingEnrichment(ctx context.Context, e *PendingEnrichment) (bool, error) {
	var inserted bool
	err := retry(ctx, func() error {
		var err error
		inserted, err = s.insertPendingEnrichment(ctx, s.DB, e)
		return err
	})
	return inserted, err
}

func (s *Store) insertPendingEnrichment(ctx context.Context, q querier, e *PendingEnrichment) (bool, error) {
	now := s.nowMillis()
	if e.ID == "" {
		e.ID = s.newID()
	}
	e.CreatedAt, e.UpdatedAt = now, now

	var seq int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO pending_enrichment (id, server_id, server_name, prepared_readme, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(server_id) DO NOTHING
		RETURNING seq`,
		e.ID, e.ServerID, e.ServerName, e.PreparedReadme, now, now,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert pending enrichment: %w", err)
	}
	e.Seq = seq
	return true, nil
}

// GetPendingEnrichmentByServer returns the item for serverID, or nil.
func (s *Store) GetPendingEnrichmentByServer(ctx context.Context, serverID string) (*PendingEnrichment, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+enrichmentColumns+` FROM pending_enrichment WHERE server_id = ?`, serverID)
	e, err := scanEnrichment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ClaimNextEnrichment leases the oldest unprocessed, unclaimed item.
// Returns nil, nil when the queue is empty.
func (s *Store) ClaimNextEnrichment(ctx context.Context, lease time.Duration) (*PendingEnrichment, error) {
	now := s.now()
	return s.claimEnrichment(ctx, `
		UPDATE pending_enrichment
		SET claimed_until = ?, updated_at = ?
		WHERE seq = (
			SELECT seq FROM pending_enrichment
			WHERE processed = 0 AND claimed_until <= ?
			ORDER BY seq ASC
			LIMIT 1
		)
		RETURNING `+enrichmentColumns,
		now.Add(lease).UnixMilli(), now.UnixMilli(), now.UnixMilli())
}

// ClaimEnrichmentByServer leases the item for serverID whatever its
// processed flag, so a previously enriched record can be reprocessed.
// Returns nil, nil when no item exists or another run holds the lease.
func (s *Store) ClaimEnrichmentByServer(ctx context.Context, serverID string, lease time.Duration) (*PendingEnrichment, error) {
	now := s.now()
	return s.claimEnrichment(ctx, `
		UPDATE pending_enrichment
		SET claimed_until = ?, updated_at = ?
		WHERE server_id = ? AND claimed_until <= ?
		RETURNING `+enrichmentColumns,
		now.Add(lease).UnixMilli(), now.UnixMilli(), serverID, now.UnixMilli())
}

func (s *Store) claimEnrichment(ctx context.Context, query string, args ...any) (*PendingEnrichment, error) {
	var e *PendingEnrichment
	err := retry(ctx, func() error {
		var err error
		e, err = scanEnrichment(s.DB.QueryRowContext(ctx, query, args...))
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim enrichment: %w", err)
	}
	return e, nil
}

// MarkEnrichmentProcessed flips processed to true and drops the lease.
func (s *Store) MarkEnrichmentProcessed(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE pending_enrichment SET processed = 1, claimed_until = 0, updated_at = ? WHERE id = ?`,
		s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark enrichment processed: %w", err)
	}
	return nil
}

// ReleaseEnrichment drops the lease without touching processed.
func (s *Store) ReleaseEnrichment(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE pending_enrichment SET claimed_until = 0, updated_at = ? WHERE id = ?`,
		s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("release enrichment: %w", err)
	}
	return nil
}

// CountPendingEnrichment counts unprocessed items.
func (s *Store) CountPendingEnrichment(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_enrichment WHERE processed = 0`).Scan(&n)
	return n, err
}

func scanEnrichment(r rowScanner) (*PendingEnrichment, error) {
	var e PendingEnrichment
	var processed int
	if err := r.Scan(&e.Seq, &e.ID, &e.ServerID, &e.ServerName, &e.PreparedReadme, &processed,
		&e.ClaimedUntil, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Processed = processed != 0
	return &e, nil
}
