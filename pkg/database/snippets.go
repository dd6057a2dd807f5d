package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/sales-research/pkg/research"
)

// maxLoggedHits caps the hits stored per search_logs row.
const maxLoggedHits = 5

// SnippetSink stores research results as context snippets with their search log.
type SnippetSink struct {
	DB *PostgresDB
}

func NewSnippetSink(db *PostgresDB) *SnippetSink {
	return &SnippetSink{DB: db}
}

// Save writes the snippet, one search_logs row per iteration and the person's
// research status in a single transaction.
func (s *SnippetSink) Save(ctx context.Context, target research.Target, fields research.FieldSet, sourceURLs []string, records []research.IterationRecord) error {
	payload, urls, err := encodeSnippet(fields, sourceURLs)
	if err != nil {
		return err
	}

	entityID := target.CompanyID
	if entityID == "" {
		entityID = target.ID
	}

	tx, err := s.DB.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var snippetID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO context_snippets (entity_type, entity_id, snippet_type, payload, source_urls)
		VALUES ('company', $1, 'research', $2, $3)
		RETURNING id
	`, entityID, payload, urls).Scan(&snippetID)
	if err != nil {
		return fmt.Errorf("failed to insert context snippet: %w", err)
	}

	query := `
		INSERT INTO search_logs (context_snippet_id, iteration, query, top_results, fields_found)
		VALUES ($1, $2, $3, $4, $5)
	`
	batch := &pgx.Batch{}
	for _, rec := range records {
		hits, found, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		batch.Queue(query, snippetID, rec.Iteration, rec.Query, hits, found)
	}
	batch.Queue(`UPDATE people SET research_status = 'completed', updated_at = NOW() WHERE id::text = $1`, target.ID)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert search log: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit research result: %w", err)
	}
	return nil
}

func encodeSnippet(fields research.FieldSet, sourceURLs []string) ([]byte, []byte, error) {
	payload, err := json.Marshal(fields.Validated())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if sourceURLs == nil {
		sourceURLs = []string{}
	}
	urls, err := json.Marshal(sourceURLs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal source urls: %w", err)
	}
	return payload, urls, nil
}

func encodeRecord(rec research.IterationRecord) ([]byte, []byte, error) {
	top := rec.Hits
	if len(top) > maxLoggedHits {
		top = top[:maxLoggedHits]
	}
	if top == nil {
		top = []research.SearchHit{}
	}
	hits, err := json.Marshal(top)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal search hits: %w", err)
	}
	found := rec.Found
	if found == nil {
		found = []research.Field{}
	}
	foundJSON, err := json.Marshal(found)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return hits, foundJSON, nil
}

// Company is the stored company row.
type Company struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Domain   *string   `json:"domain"`
	Industry *string   `json:"industry"`
}

// Intelligence is the latest research result stored for a company.
type Intelligence struct {
	Company      Company            `json:"company"`
	Intelligence *research.FieldSet `json:"intelligence"`
	SourceURLs   []string           `json:"source_urls,omitempty"`
	ResearchedAt *time.Time         `json:"researched_at,omitempty"`
}

// GetCompanyIntelligence returns the company and its most recent research
// snippet. Intelligence is nil when the company was never researched.
func (db *PostgresDB) GetCompanyIntelligence(ctx context.Context, companyID uuid.UUID) (*Intelligence, error) {
	out := &Intelligence{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, domain, industry FROM companies WHERE id = $1", companyID,
	).Scan(&out.Company.ID, &out.Company.Name, &out.Company.Domain, &out.Company.Industry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("company %s: %w", companyID, research.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	var (
		payload []byte
		urls    []byte
		created time.Time
	)
	err = db.Pool.QueryRow(ctx, `
		SELECT payload, source_urls, created_at
		FROM context_snippets
		WHERE entity_type = 'company' AND entity_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, companyID).Scan(&payload, &urls, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context snippet: %w", err)
	}

	var fields research.FieldSet
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(urls, &out.SourceURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source urls: %w", err)
	}
	validated := fields.Validated()
	out.Intelligence = &validated
	out.ResearchedAt = &created
	return out, nil
}
