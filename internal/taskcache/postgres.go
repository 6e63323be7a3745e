package taskcache

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	e := &Entry{Fingerprint: fingerprint}
	query := `SELECT document_id, kind, result, truncated, created_at FROM task_cache WHERE fingerprint = $1`
	err := s.db.QueryRowContext(ctx, query, fingerprint).
		Scan(&e.DocumentID, &e.Kind, &e.Result, &e.Truncated, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) Put(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO task_cache (fingerprint, document_id, kind, result, truncated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO UPDATE
		SET result = EXCLUDED.result, truncated = EXCLUDED.truncated, created_at = EXCLUDED.created_at
	`
	_, err := s.db.ExecContext(ctx, query, e.Fingerprint, e.DocumentID, e.Kind, []byte(e.Result), e.Truncated, e.CreatedAt)
	return err
}

func (s *PostgresStore) DeleteByDocument(ctx context.Context, documentID string) error {
	query := `DELETE FROM task_cache WHERE document_id = $1`
	_, err := s.db.ExecContext(ctx, query, documentID)
	return err
}

func (s *PostgresStore) CountEntries(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_cache`).Scan(&n)
	return n, err
}
