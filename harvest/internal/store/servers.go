package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const serverColumns = `seq, id, launch_type, url, star_count, view_count, is_official, is_scanned,
	security_rank, tags, name, description, command, args, env, created_at, updated_at`

// InsertServer persists a new catalog record. Missing ID, launch type and
// rank are defaulted. Returns ErrDuplicate when the URL is already catalogued.
func (s *Store) InsertServer(ctx context.Context, srv *Server) error {
	return retry(ctx, func() error {
		return s.insertServer(ctx, s.DB, srv)
	})
}

// CatalogServer inserts srv and its enrichment queue item in one transaction,
// so a catalogued server always has an item to enrich it. e.ServerID is taken
// from srv. Returns ErrDuplicate when the URL is already catalogued.
func (s *Store) CatalogServer(ctx context.Context, srv *Server, e *PendingEnrichment) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertServer(ctx, tx, srv); err != nil {
			return err
		}
		e.ServerID = srv.ID
		if _, err := s.insertPendingEnrichment(ctx, tx, e); err != nil {
			return err
		}
		return nil
	})
}

func (s *Store) insertServer(ctx context.Context, q querier, srv *Server) error {
	now := s.nowMillis()
	if srv.ID == "" {
		srv.ID = s.newID()
	}
	if srv.LaunchType == "" {
		srv.LaunchType = LaunchSTDIO
	}
	if srv.SecurityRank == "" {
		srv.SecurityRank = RankUnrated
	}
	if srv.Tags == nil {
		srv.Tags = []string{}
	}
	if srv.Detail.Args == nil {
		srv.Detail.Args = []string{}
	}
	srv.CreatedAt, srv.UpdatedAt = now, now

	tags, err := json.Marshal(srv.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	args, err := json.Marshal(srv.Detail.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	env, err := encodeEnv(srv.Detail.Env)
	if err != nil {
		return err
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO mcp_servers (id, launch_type, url, star_count, view_count, is_official, is_scanned,
		security_rank, tags, name, description, command, args, env, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		srv.ID, srv.LaunchType, srv.URL, srv.StarCount, srv.ViewCount,
		boolInt(srv.IsOfficial), boolInt(srv.IsScanned), string(srv.SecurityRank),
		string(tags), srv.Detail.Name, srv.Detail.Description, srv.Detail.Command,
		string(args), env, now, now,
	).Scan(&srv.Seq)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: server url %s", ErrDuplicate, srv.URL)
	}
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

// GetServer returns the record with the given id, or nil.
func (s *Store) GetServer(ctx context.Context, id string) (*Server, error) {
	return s.getServer(ctx, `id = ?`, id)
}

// GetServerByURL returns the record with the given normalized url, or nil.
func (s *Store) GetServerByURL(ctx context.Context, url string) (*Server, error) {
	return s.getServer(ctx, `url = ?`, url)
}

// GetServerBySeq returns the record with the given sequence number, or nil.
func (s *Store) GetServerBySeq(ctx context.Context, seq int64) (*Server, error) {
	return s.getServer(ctx, `seq = ?`, seq)
}

func (s *Store) getServer(ctx context.Context, where string, arg any) (*Server, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers WHERE `+where, arg)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return srv, nil
}

// ListServers returns catalog records by star count, most popular first.
func (s *Store) ListServers(ctx context.Context, f ListFilter) ([]*Server, error) {
	var where []string
	var args []any
	if f.MinStars > 0 {
		where = append(where, `star_count >= ?`)
		args = append(args, f.MinStars)
	}
	if f.Tag != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(mcp_servers.tags) WHERE json_each.value = ?)`)
		args = append(args, f.Tag)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, `(name LIKE ? OR description LIKE ?)`)
		like := "%" + q + "%"
		args = append(args, like, like)
	}

	query := `SELECT ` + serverColumns + ` FROM mcp_servers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY star_count DESC, seq ASC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// UpdateServerEnrichment overwrites description and tags of a record.
func (s *Store) UpdateServerEnrichment(ctx context.Context, id, description string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE mcp_servers SET description = ?, tags = ?, updated_at = ? WHERE id = ?`,
		description, string(data), s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("update server enrichment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update server enrichment: server %s not found", id)
	}
	return nil
}

// CountServers returns the number of catalog records.
func (s *Store) CountServers(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM mcp_servers`).Scan(&n)
	return n, err
}

func encodeEnv(env map[string]string) (any, error) {
	if len(env) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal env: %w", err)
	}
	return string(data), nil
}

func scanServer(r rowScanner) (*Server, error) {
	var srv Server
	var official, scanned int
	var rank, tags, args string
	var env sql.NullString
	if err := r.Scan(&srv.Seq, &srv.ID, &srv.LaunchType, &srv.URL, &srv.StarCount, &srv.ViewCount,
		&official, &scanned, &rank, &tags, &srv.Detail.Name, &srv.Detail.Description,
		&srv.Detail.Command, &args, &env, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
		return nil, err
	}
	srv.IsOfficial = official != 0
	srv.IsScanned = scanned != 0
	srv.SecurityRank = SecurityRank(rank)
	if err := json.Unmarshal([]byte(tags), &srv.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &srv.Detail.Args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &srv.Detail.Env); err != nil {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return &srv, nil
}
