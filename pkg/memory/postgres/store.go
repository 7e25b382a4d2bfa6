package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
)

var _ memory.TranscriptStore = (*Store)(nil)

// Store is a [memory.TranscriptStore] backed by a transcript_entries table
// with a GIN full-text index. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to the PostgreSQL database at dsn, checks
// it with a ping and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks the database connection. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WriteEntry implements [memory.TranscriptStore].
func (s *Store) WriteEntry(ctx context.Context, entry memory.TranscriptEntry) error {
	const q = `
		INSERT INTO transcript_entries
		    (session_id, turn, username, language, persona, role, text, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		int64(entry.Turn),
		entry.Username,
		entry.Language,
		entry.Persona,
		string(entry.Role),
		entry.Text,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("transcript store: write entry: %w", err)
	}
	return nil
}

// Recent implements [memory.TranscriptStore].
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.TranscriptEntry, error) {
	q := `
		SELECT session_id, turn, username, language, persona, role, text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY timestamp DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	// Newest-first from the query; callers read oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Search implements [memory.TranscriptStore]. The query is passed to
// plainto_tsquery so no special operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}

	q := "SELECT session_id, turn, username, language, persona, role, text, timestamp\n" +
		"FROM   transcript_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"

	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectEntries(rows)
}

// collectEntries scans pgx rows into a non-nil slice of entries.
func collectEntries(rows pgx.Rows) ([]memory.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptEntry, error) {
		var (
			e    memory.TranscriptEntry
			turn int64
			role string
		)
		if err := row.Scan(
			&e.SessionID,
			&turn,
			&e.Username,
			&e.Language,
			&e.Persona,
			&role,
			&e.Text,
			&e.Timestamp,
		); err != nil {
			return memory.TranscriptEntry{}, err
		}
		e.Turn = uint64(turn)
		e.Role = memory.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.TranscriptEntry{}
	}
	return entries, nil
}
