// Package store implements the metadata store contract on PostgreSQL.
// All per-id atomicity the engine relies on (insert uniqueness, guarded
// download increment, idempotent delete) is expressed as single SQL
// statements so correctness survives multi-instance deployment.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"dropbin/internal/drop"
)

const uniqueViolation = "23505"

const dropColumns = `id, object_key, size_bytes, content_type, origin,
	owner_token_digest, password_hash, created_at, expires_at,
	max_downloads, download_count, status`

// Postgres is a drop.MetadataStore over a database/sql pool.
type Postgres struct {
	db *sql.DB
}

// New wraps an open connection pool.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Insert(ctx context.Context, d *drop.Drop) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drops (`+dropColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		d.ID,
		d.ObjectKey,
		d.SizeBytes,
		d.ContentType,
		d.Origin,
		d.OwnerTokenDigest,
		nullString(d.PasswordHash),
		d.CreatedAt,
		nullTime(d.ExpiresAt),
		nullInt(d.MaxDownloads),
		d.DownloadCount,
		string(d.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return drop.ErrConflict
		}
		return classify("insert", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*drop.Drop, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dropColumns+` FROM drops WHERE id = $1`, id)
	d, err := scanDrop(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, drop.ErrNotFound
		}
		return nil, classify("get", err)
	}
	return d, nil
}

// IncrementDownload is the contention point under concurrent downloads
// of the same drop. The guard and the increment live in one UPDATE, so
// the row lock makes the compare-and-set atomic; two racing callers on
// the last download unit resolve to exactly one success.
func (s *Postgres) IncrementDownload(ctx context.Context, id string) (*drop.Drop, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE drops
		SET download_count = download_count + 1
		WHERE id = $1
		  AND status = 'active'
		  AND (max_downloads IS NULL OR download_count < max_downloads)
		RETURNING `+dropColumns+`
	`, id)

	d, err := scanDrop(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, classify("increment_download", err)
	}

	// The guard refused; read the row once more to name the reason.
	cur, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if cur.Status != drop.StatusActive {
		return nil, drop.ErrExpired
	}
	return nil, drop.ErrLimitExceeded
}

func (s *Postgres) MarkExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drops SET status = 'expired' WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return classify("mark_expired", err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	// Zero rows affected means someone else got there first; not an error.
	_, err := s.db.ExecContext(ctx, `DELETE FROM drops WHERE id = $1`, id)
	if err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *Postgres) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM drops
		WHERE status = 'expired'
		   OR (expires_at IS NOT NULL AND expires_at <= $1)
		   OR (max_downloads IS NOT NULL AND download_count >= max_downloads)
		ORDER BY created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, classify("list_expired", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("list_expired", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list_expired", err)
	}
	return ids, nil
}

func (s *Postgres) OriginUsage(ctx context.Context, origin string) (int, int64, error) {
	var count int
	var size int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM drops
		WHERE origin = $1 AND status = 'active'
	`, origin).Scan(&count, &size)
	if err != nil {
		return 0, 0, classify("origin_usage", err)
	}
	return count, size, nil
}

func (s *Postgres) GlobalUsage(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0) FROM drops WHERE status = 'active'
	`).Scan(&size)
	if err != nil {
		return 0, classify("global_usage", err)
	}
	return size, nil
}

func (s *Postgres) HasObjectKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM drops WHERE object_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, classify("has_object_key", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrop(row rowScanner) (*drop.Drop, error) {
	var (
		d            drop.Drop
		passwordHash sql.NullString
		expiresAt    sql.NullTime
		maxDownloads sql.NullInt64
		status       string
	)
	err := row.Scan(
		&d.ID,
		&d.ObjectKey,
		&d.SizeBytes,
		&d.ContentType,
		&d.Origin,
		&d.OwnerTokenDigest,
		&passwordHash,
		&d.CreatedAt,
		&expiresAt,
		&maxDownloads,
		&d.DownloadCount,
		&status,
	)
	if err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		d.PasswordHash = passwordHash.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		d.ExpiresAt = &t
	}
	if maxDownloads.Valid {
		n := int(maxDownloads.Int64)
		d.MaxDownloads = &n
	}
	d.Status = drop.Status(status)
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// classify wraps IO-shaped failures as transient so callers can retry
// with backoff; anything else passes through annotated with the op.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) {
		return &drop.TransientError{Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, class 57 operator
		// intervention (shutdown, crash recovery).
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57") {
			return &drop.TransientError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
