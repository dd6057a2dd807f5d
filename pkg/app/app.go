package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/sales-research/pkg/clients"
	"github.com/mikeboe/sales-research/pkg/config"
	"github.com/mikeboe/sales-research/pkg/database"
	"github.com/mikeboe/sales-research/pkg/research"
	"github.com/mikeboe/sales-research/pkg/research/tools"
	"github.com/mikeboe/sales-research/pkg/server"
	"github.com/mikeboe/sales-research/pkg/session"
)

// App holds the wired components shared by the binaries.
type App struct {
	DB       *database.PostgresDB
	Engine   *research.ResearchEngine
	Sessions *session.Controller
}

// New connects to Postgres, prepares the schema and wires the research engine
// into a session controller whose runs log to research_logs.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	extractor, err := NewExtractor(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	search := tools.NewSearxngSearch(cfg.SearxngURL, cfg.SearchMaxResults, cfg.SearchTimeout)
	search.Logger = logger

	engine := research.NewEngine(
		database.NewPeopleResolver(db),
		search,
		extractor,
		database.NewSnippetSink(db),
	)
	engine.Logger = logger

	sessions := session.NewController(session.NewRegistry(), session.NewBroadcaster(), func(sessionID string) session.Runner {
		return engine.WithLogger(slog.New(server.NewDBLogHandler(db, sessionID, logger.Handler())))
	})
	sessions.Logger = logger

	return &App{DB: db, Engine: engine, Sessions: sessions}, nil
}

// NewExtractor builds the extractor selected by cfg.Extractor.
func NewExtractor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (research.Extractor, error) {
	if !cfg.UsesLLM() {
		return research.PatternExtractor{}, nil
	}

	llm, err := clients.GoogleAi(ctx, cfg.GoogleApiKey, clients.ModelType(cfg.FastModel))
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM: %w", err)
	}
	llmExtractor := research.NewLLMExtractor(llm, cfg.ChunkSize, cfg.ChunkOverlap)
	llmExtractor.Logger = logger

	if cfg.Extractor == config.ExtractorLLM {
		return llmExtractor, nil
	}
	return &research.MultiExtractor{
		Extractors: []research.Extractor{research.PatternExtractor{}, llmExtractor},
		Logger:     logger,
	}, nil
}

// Close waits for running sessions and releases the database.
func (a *App) Close() {
	a.Sessions.Wait()
	a.DB.Close()
}
