package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, doc *Document, rawText string) error {
	query := `
		INSERT INTO documents (id, name, format, status, size_bytes, text_length, token_count, raw_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		doc.ID, doc.Name, doc.Format, doc.Status, doc.SizeBytes, doc.TextLength, doc.TokenCount, rawText,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, name, format, status, size_bytes, text_length, token_count, COALESCE(error_message, ''), created_at, updated_at
		FROM documents
		WHERE id = $1`

	var doc Document
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Name, &doc.Format, &doc.Status, &doc.SizeBytes,
		&doc.TextLength, &doc.TokenCount, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return &doc, nil
}

func (r *PostgresRepository) GetText(ctx context.Context, id string) (string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT raw_text FROM documents WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query document text: %w", err)
	}
	return raw, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Document, error) {
	query := `
		SELECT id, name, format, status, size_bytes, text_length, token_count, COALESCE(error_message, ''), created_at, updated_at
		FROM documents
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(
			&doc.ID, &doc.Name, &doc.Format, &doc.Status, &doc.SizeBytes,
			&doc.TextLength, &doc.TokenCount, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PostgresRepository) ListIDsByStatus(ctx context.Context, status Status) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM documents WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("list documents by status: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	query := `
		UPDATE documents
		SET status = $2, error_message = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkReady(ctx context.Context, id string, textLength, tokenCount int) error {
	query := `
		UPDATE documents
		SET status = $2, text_length = $3, token_count = $4, error_message = NULL, updated_at = NOW()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, StatusReady, textLength, tokenCount)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// SaveChunks replaces the persisted chunk set for a document in one
// transaction. Embeddings are stored as JSON arrays.
func (r *PostgresRepository) SaveChunks(ctx context.Context, docID string, chunks []StoredChunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("document_chunks", "document_id", "seq", "text", "token_count", "embedding"))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	for _, c := range chunks {
		vec, err := json.Marshal(c.Embedding)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, docID, c.Seq, c.Text, c.TokenCount, string(vec)); err != nil {
			stmt.Close()
			return fmt.Errorf("copy chunk %d: %w", c.Seq, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetChunks(ctx context.Context, docID string) ([]StoredChunk, error) {
	query := `
		SELECT seq, text, token_count, embedding
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []StoredChunk
	for rows.Next() {
		var c StoredChunk
		var vec []byte
		if err := rows.Scan(&c.Seq, &c.Text, &c.TokenCount, &vec); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(vec, &c.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepository) DeleteChunks(ctx context.Context, docID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// CountChunks reports the total persisted chunks across all documents.
func (r *PostgresRepository) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
