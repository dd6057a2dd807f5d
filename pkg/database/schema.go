package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Companies Table
	companiesQuery := `
		CREATE TABLE IF NOT EXISTS companies (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			domain TEXT,
			industry TEXT,
			employee_count INTEGER,
			description TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, companiesQuery); err != nil {
		return fmt.Errorf("failed to create companies table: %w", err)
	}

	// 2. People Table
	peopleQuery := `
		CREATE TABLE IF NOT EXISTS people (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			company_id UUID REFERENCES companies(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			email TEXT,
			title TEXT,
			research_status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, peopleQuery); err != nil {
		return fmt.Errorf("failed to create people table: %w", err)
	}

	// 3. Context Snippets Table (research results)
	snippetsQuery := `
		CREATE TABLE IF NOT EXISTS context_snippets (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			entity_type TEXT NOT NULL,
			entity_id UUID NOT NULL,
			snippet_type TEXT NOT NULL DEFAULT 'research',
			payload JSONB NOT NULL,
			source_urls JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, snippetsQuery); err != nil {
		return fmt.Errorf("failed to create context_snippets table: %w", err)
	}

	// 4. Search Logs Table (per-iteration audit trail)
	searchLogsQuery := `
		CREATE TABLE IF NOT EXISTS search_logs (
			id SERIAL PRIMARY KEY,
			context_snippet_id UUID NOT NULL REFERENCES context_snippets(id) ON DELETE CASCADE,
			iteration INTEGER NOT NULL,
			query TEXT NOT NULL,
			top_results JSONB,
			fields_found JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, searchLogsQuery); err != nil {
		return fmt.Errorf("failed to create search_logs table: %w", err)
	}

	// 5. Research Logs Table (per-session structured log)
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	// Indexes for faster querying
	indexes := []struct{ name, query string }{
		{"people", "CREATE INDEX IF NOT EXISTS idx_people_company_id ON people(company_id)"},
		{"context_snippets", "CREATE INDEX IF NOT EXISTS idx_context_snippets_entity ON context_snippets(entity_type, entity_id, created_at DESC)"},
		{"search_logs", "CREATE INDEX IF NOT EXISTS idx_search_logs_snippet_id ON search_logs(context_snippet_id)"},
		{"research_logs", "CREATE INDEX IF NOT EXISTS idx_research_logs_session_id ON research_logs(session_id)"},
	}
	for _, idx := range indexes {
		if _, err := db.Pool.Exec(ctx, idx.query); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.name, err)
		}
	}

	return nil
}
