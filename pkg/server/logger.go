package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mikeboe/sales-research/pkg/database"
)

// DBLogHandler is a slog.Handler that writes records of one research session
// to the research_logs table, optionally teeing them to another handler.
type DBLogHandler struct {
	DB        *database.PostgresDB
	SessionID string
	Next      slog.Handler

	attrs []slog.Attr
}

func NewDBLogHandler(db *database.PostgresDB, sessionID string, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		DB:        db,
		SessionID: sessionID,
		Next:      next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		rec := r.Clone()
		rec.AddAttrs(slog.String("session_id", h.SessionID))
		_ = h.Next.Handle(ctx, rec)
	}

	if h.DB == nil {
		return nil
	}
	metaJSON := encodeAttrs(h.attrs, r)

	query := `
		INSERT INTO research_logs (session_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Background context: the log must persist even when the run's context is done.
	_, err := h.DB.Pool.Exec(context.Background(), query, h.SessionID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if h.Next != nil {
		cp.Next = h.Next.WithAttrs(attrs)
	}
	return &cp
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened in the stored metadata.
	return h
}

func encodeAttrs(base []slog.Attr, r slog.Record) []byte {
	attrs := make(map[string]any, len(base)+r.NumAttrs())
	for _, a := range base {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		// Fallback for marshal error
		return []byte("{}")
	}
	return metaJSON
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}
