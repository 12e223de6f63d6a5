// Package compliance records an append-only audit trail of state-changing actions.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action names recorded by the booking core.
const (
	ActionBookingCreated         = "booking.created"
	ActionBookingProgressUpdated = "booking.progress_updated"
	ActionBookingRescheduled     = "booking.rescheduled_by_provider"
	ActionBookingCompensated     = "booking.provider_appointment_compensated"
)

// Entry is one immutable audit record.
type Entry struct {
	ID                 uuid.UUID      `json:"id"`
	Action             string         `json:"action"`
	UserID             *uuid.UUID     `json:"user_id,omitempty"`
	ImpersonatedUserID *uuid.UUID     `json:"impersonated_user_id,omitempty"`
	ResourceType       string         `json:"resource_type"`
	ResourceID         string         `json:"resource_id"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// AuditService writes to audit_logs.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// Log appends entry. Missing id and timestamp are filled in.
func (s *AuditService) Log(ctx context.Context, entry Entry) error {
	if entry.Action == "" || entry.ResourceType == "" || entry.ResourceID == "" {
		return fmt.Errorf("compliance: action, resource type and resource id are required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var metadata []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("compliance: marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			id, action, user_id, impersonated_user_id,
			resource_type, resource_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Action,
		nullUUID(entry.UserID),
		nullUUID(entry.ImpersonatedUserID),
		entry.ResourceType,
		entry.ResourceID,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit entry: %w", err)
	}
	return nil
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	ResourceType string
	ResourceID   string
	UserID       *uuid.UUID
	Action       string
	Actions      []string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

// QueryEvents returns matching entries, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]Entry, error) {
	query := `
		SELECT id, action, user_id, impersonated_user_id,
			   resource_type, resource_id, metadata, created_at
		FROM audit_logs
		WHERE 1 = 1
	`
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if len(filter.Actions) > 0 {
		add("action = ANY($%d)", pq.Array(filter.Actions))
	}
	if !filter.StartTime.IsZero() {
		add("created_at >= $%d", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		add("created_at <= $%d", filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var userID, impersonated uuid.NullUUID
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.Action, &userID, &impersonated, &e.ResourceType, &e.ResourceID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit entry: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.UUID
		}
		if impersonated.Valid {
			e.ImpersonatedUserID = &impersonated.UUID
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("compliance: decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
