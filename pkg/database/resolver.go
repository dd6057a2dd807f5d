package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/sales-research/pkg/research"
)

// PeopleResolver resolves a person id to a research target describing the
// person's company.
type PeopleResolver struct {
	DB *PostgresDB
}

func NewPeopleResolver(db *PostgresDB) *PeopleResolver {
	return &PeopleResolver{DB: db}
}

func (r *PeopleResolver) Resolve(ctx context.Context, targetID string) (research.Target, error) {
	personID, err := uuid.Parse(targetID)
	if err != nil {
		return research.Target{}, fmt.Errorf("person %q: %w", targetID, research.ErrNotFound)
	}

	query := `
		SELECT p.id, c.id, c.name, COALESCE(c.domain, '')
		FROM people p
		LEFT JOIN companies c ON c.id = p.company_id
		WHERE p.id = $1
	`

	var (
		pid       uuid.UUID
		companyID *uuid.UUID
		name      *string
		domain    *string
	)
	err = r.DB.Pool.QueryRow(ctx, query, personID).Scan(&pid, &companyID, &name, &domain)
	if errors.Is(err, pgx.ErrNoRows) {
		return research.Target{}, fmt.Errorf("person %s: %w", personID, research.ErrNotFound)
	}
	if err != nil {
		return research.Target{}, fmt.Errorf("failed to load person %s: %w", personID, err)
	}
	if companyID == nil || name == nil {
		return research.Target{}, fmt.Errorf("company for person %s: %w", personID, research.ErrNotFound)
	}

	target := research.Target{
		ID:        pid.String(),
		Name:      *name,
		CompanyID: companyID.String(),
	}
	if domain != nil {
		target.Domain = *domain
	}
	return target, nil
}
