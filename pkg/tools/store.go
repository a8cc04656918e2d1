package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepresearch/researchd/pkg/models"
)

// VectorStore is the session-scoped document store vector_search_tool and
// the scrape-backed tools write into and read from. Despite the name it is
// a full-text (tsvector) ranked store, not an embedding index — the same
// substitution the teacher's own session store makes for a vector service
// it never actually runs.
type VectorStore interface {
	AddDocuments(ctx context.Context, sessionID string, docs []models.VectorDocument) error
	Search(ctx context.Context, sessionID, query string, limit int) ([]models.VectorDocument, error)
	// ReplaceBySource atomically drops every existing entry for source and
	// inserts docs in its place, used when a background PDF job completes
	// after the inline tool call already stored whatever partial text it had.
	ReplaceBySource(ctx context.Context, sessionID, source string, docs []models.VectorDocument) error
}

// PostgresVectorStore implements VectorStore against the vector_documents
// table created by the durable job store's migrations.
type PostgresVectorStore struct {
	pool *pgxpool.Pool
}

// NewPostgresVectorStore constructs a PostgresVectorStore over pool.
func NewPostgresVectorStore(pool *pgxpool.Pool) *PostgresVectorStore {
	return &PostgresVectorStore{pool: pool}
}

func (s *PostgresVectorStore) AddDocuments(ctx context.Context, sessionID string, docs []models.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadata, err := json.Marshal(nonNilMetadata(doc.Metadata))
		if err != nil {
			return fmt.Errorf("tools: marshal document metadata: %w", err)
		}
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(
			`INSERT INTO vector_documents (id, session_id, source, title, content, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())`,
			id, sessionID, doc.Source, doc.Title, doc.Content, metadata,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("tools: insert vector document: %w", err)
		}
	}
	return nil
}

func (s *PostgresVectorStore) Search(ctx context.Context, sessionID, query string, limit int) ([]models.VectorDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, source, title, content, metadata, created_at
		FROM vector_documents
		WHERE session_id = $1 AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) DESC
		LIMIT $3`,
		sessionID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("tools: vector search query: %w", err)
	}
	defer rows.Close()

	var docs []models.VectorDocument
	for rows.Next() {
		var doc models.VectorDocument
		var metadata []byte
		if err := rows.Scan(&doc.ID, &doc.SessionID, &doc.Source, &doc.Title, &doc.Content, &metadata, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("tools: scan vector document: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("tools: unmarshal document metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresVectorStore) ReplaceBySource(ctx context.Context, sessionID, source string, docs []models.VectorDocument) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tools: begin replace transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM vector_documents WHERE session_id = $1 AND source = $2`, sessionID, source); err != nil {
		return fmt.Errorf("tools: delete existing vector documents: %w", err)
	}
	for _, doc := range docs {
		metadata, err := json.Marshal(nonNilMetadata(doc.Metadata))
		if err != nil {
			return fmt.Errorf("tools: marshal document metadata: %w", err)
		}
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO vector_documents (id, session_id, source, title, content, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())`,
			id, sessionID, doc.Source, doc.Title, doc.Content, metadata,
		); err != nil {
			return fmt.Errorf("tools: insert replacement vector document: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// PdfJobEnqueuer creates the durable background retry row a tool falls back
// to when an inline scrape of a detected PDF exceeds its own timeout.
type PdfJobEnqueuer interface {
	EnqueueBackgroundJob(ctx context.Context, sessionID, sourceURL, title string, reason models.PdfEnqueueReason, partialTextAvailable bool) error
}

// PostgresPdfJobEnqueuer implements PdfJobEnqueuer against the pdf_jobs
// table; the same table the C10 background worker claims from.
type PostgresPdfJobEnqueuer struct {
	pool *pgxpool.Pool
}

// NewPostgresPdfJobEnqueuer constructs a PostgresPdfJobEnqueuer over pool.
func NewPostgresPdfJobEnqueuer(pool *pgxpool.Pool) *PostgresPdfJobEnqueuer {
	return &PostgresPdfJobEnqueuer{pool: pool}
}

func (e *PostgresPdfJobEnqueuer) EnqueueBackgroundJob(ctx context.Context, sessionID, sourceURL, title string, reason models.PdfEnqueueReason, partialTextAvailable bool) error {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO pdf_jobs (id, session_id, source_url, title, status, reason, partial_text_available, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, now(), now(), now())`,
		uuid.NewString(), sessionID, sourceURL, title, string(reason), partialTextAvailable,
	)
	if err != nil {
		return fmt.Errorf("tools: enqueue pdf background job: %w", err)
	}
	return nil
}
