package store

import (
	"context"
	"fmt"
)

// InsertTag records tag unless it already exists. Reports whether a row was
// inserted; an existing tag is not an error.
func (s *Store) InsertTag(ctx context.Context, tag string) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO tags (id, tag, created_at) VALUES (?, ?, ?) ON CONFLICT(tag) DO NOTHING`,
		s.newID(), tag, s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("insert tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTags returns all tags in alphabetical order.
func (s *Store) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT seq, id, tag, created_at FROM tags ORDER BY tag ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Seq, &t.ID, &t.Tag, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Stats counts rows per collection.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM pending_discovery WHERE processed = 0),
		(SELECT COUNT(*) FROM pending_discovery WHERE processed = 1),
		(SELECT COUNT(*) FROM pending_enrichment WHERE processed = 0),
		(SELECT COUNT(*) FROM mcp_servers),
		(SELECT COUNT(*) FROM tags)`).Scan(
		&st.PendingDiscovery, &st.ProcessedDiscovery, &st.PendingEnrichment, &st.Servers, &st.Tags)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
