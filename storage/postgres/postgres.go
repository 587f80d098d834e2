// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Records live in a single match_history table keyed by match_id. Optional
// timestamps (established, ended) are stored as NULL until they happen.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/jmcleod/gomok/storage"
)

const matchTable = "match_history"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var matchColumns = []string{
	"match_id", "match_key", "public", "player0", "player1", "seed",
	"matched_at", "established_at", "ended_at", "end_reason",
}

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using db. The schema must already exist.
func NewRepository(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromDSN opens a connection pool, ensures the schema exists,
// and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, rec *storage.MatchRecord) error {
	query, args, err := psq.Insert(matchTable).
		Columns(matchColumns...).
		Values(
			rec.MatchID, rec.Key, rec.Public, rec.Players[0], rec.Players[1], rec.Seed,
			rec.MatchedAt, nullTime(rec.EstablishedAt), nullTime(rec.EndedAt), string(rec.EndReason),
		).
		Suffix("ON CONFLICT (match_id) DO UPDATE SET " +
			"established_at = EXCLUDED.established_at, " +
			"ended_at = EXCLUDED.ended_at, " +
			"end_reason = EXCLUDED.end_reason").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting match %s: %w", rec.MatchID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, matchID string) (*storage.MatchRecord, error) {
	query, args, err := psq.Select(matchColumns...).
		From(matchTable).
		Where(sq.Eq{"match_id": matchID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", matchID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*storage.MatchRecord, error) {
	qb := psq.Select(matchColumns...).
		From(matchTable).
		OrderBy("matched_at DESC", "match_id ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.MatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match rows: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*storage.MatchRecord, error) {
	var (
		rec                storage.MatchRecord
		established, ended sql.NullTime
		endReason          string
	)
	err := row.Scan(
		&rec.MatchID, &rec.Key, &rec.Public, &rec.Players[0], &rec.Players[1], &rec.Seed,
		&rec.MatchedAt, &established, &ended, &endReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning match row: %w", err)
	}
	if established.Valid {
		rec.EstablishedAt = established.Time
	}
	if ended.Valid {
		rec.EndedAt = ended.Time
	}
	rec.EndReason = storage.EndReason(endReason)
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
