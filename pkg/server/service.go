package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/sales-research/pkg/database"
	"github.com/mikeboe/sales-research/pkg/research"
	"github.com/mikeboe/sales-research/pkg/session"
)

// ErrStorageUnavailable is returned by read endpoints backed by Postgres when
// the server runs without a database.
var ErrStorageUnavailable = errors.New("storage not configured")

type Service struct {
	DB       *database.PostgresDB
	Sessions *session.Controller
}

func NewService(db *database.PostgresDB, sessions *session.Controller) *Service {
	return &Service{
		DB:       db,
		Sessions: sessions,
	}
}

type StartSessionRequest struct {
	TargetID   string `json:"target_id" binding:"required"`
	TargetName string `json:"target_name"`
}

type StartSessionResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Service) StartSession(req StartSessionRequest) StartSessionResponse {
	name := req.TargetName
	if name == "" {
		name = "Unknown Person"
	}
	id := s.Sessions.Start(research.Target{ID: req.TargetID, Name: name})

	resp := StartSessionResponse{SessionID: id, Status: string(session.StatusStarting), CreatedAt: time.Now().UTC()}
	if snap, ok := s.Sessions.Progress(id); ok {
		resp.Status = string(snap.Status)
		resp.CreatedAt = snap.StartTime
	}
	return resp
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetSessionLogs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	if s.DB == nil {
		return nil, ErrStorageUnavailable
	}
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE session_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Service) GetCompanyIntelligence(ctx context.Context, companyID uuid.UUID) (*database.Intelligence, error) {
	if s.DB == nil {
		return nil, ErrStorageUnavailable
	}
	return s.DB.GetCompanyIntelligence(ctx, companyID)
}
