package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used by the directory.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads memberships from organization_members, teams and team_members.
type PostgresDirectory struct {
	db Querier
}

func NewPostgresDirectory(db Querier) *PostgresDirectory {
	if db == nil {
		panic("identity: pgx pool required")
	}
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Membership(ctx context.Context, userID uuid.UUID) (Membership, error) {
	var m Membership
	var role string
	query := `
		SELECT org_id, role
		FROM organization_members
		WHERE user_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`
	if err := d.db.QueryRow(ctx, query, userID).Scan(&m.OrgID, &role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrNotFound
		}
		return Membership{}, fmt.Errorf("identity: membership: %w", err)
	}
	m.Role = OrgRole(role)
	return m, nil
}

func (d *PostgresDirectory) TeamMemberIDs(ctx context.Context, leadUserID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT tm.user_id
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE t.lead_user_id = $1
	`
	rows, err := d.db.Query(ctx, query, leadUserID)
	if err != nil {
		return nil, fmt.Errorf("identity: team members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("identity: scan team member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: team members: %w", err)
	}
	return ids, nil
}

func (d *PostgresDirectory) Contact(ctx context.Context, userID uuid.UUID) (Contact, error) {
	c := Contact{UserID: userID}
	query := `SELECT email, first_name, last_name FROM users WHERE id = $1`
	if err := d.db.QueryRow(ctx, query, userID).Scan(&c.Email, &c.FirstName, &c.LastName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("identity: contact: %w", err)
	}
	return c, nil
}
