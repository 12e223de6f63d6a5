package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestCallerEffectiveUsesActingAs(t *testing.T) {
	admin := uuid.New()
	referrer := uuid.New()
	c := Caller{ID: admin, Role: RoleAdmin, ActingAs: &Principal{ID: referrer, Role: RoleReferrer}}

	if got := c.Effective(); got.ID != referrer || got.Role != RoleReferrer {
		t.Fatalf("expected acting-as principal, got %+v", got)
	}
	if !c.Impersonating() {
		t.Fatalf("expected impersonation")
	}
	if id := c.ImpersonatedID(); id == nil || *id != referrer {
		t.Fatalf("expected impersonated id %s, got %v", referrer, id)
	}

	plain := Caller{ID: referrer, Role: RoleReferrer}
	if plain.Impersonating() || plain.ImpersonatedID() != nil {
		t.Fatalf("plain caller should not impersonate")
	}
	if System.ActorID() != nil {
		t.Fatalf("system actor should have nil id")
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Admin "); err != nil || role != RoleAdmin {
		t.Fatalf("expected admin, got %q err=%v", role, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatalf("expected missing caller")
	}
	id := uuid.New()
	ctx := WithCaller(context.Background(), Caller{ID: id, Role: RoleSpecialist})
	got, ok := CallerFromContext(ctx)
	if !ok || got.ID != id {
		t.Fatalf("expected caller %s, got %+v", id, got)
	}
}

func TestPostgresDirectoryMembership(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	dir := NewPostgresDirectory(mock)

	userID := uuid.New()
	orgID := uuid.New()
	mock.ExpectQuery("SELECT org_id, role").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"org_id", "role"}).AddRow(orgID, "manager"))

	m, err := dir.Membership(context.Background(), userID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.OrgID != orgID || !m.CanManage() {
		t.Fatalf("unexpected membership %+v", m)
	}

	mock.ExpectQuery("SELECT org_id, role").
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)
	if _, err := dir.Membership(context.Background(), userID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresDirectoryTeamMembers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	dir := NewPostgresDirectory(mock)

	lead := uuid.New()
	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT DISTINCT tm.user_id").
		WithArgs(lead).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(a).AddRow(b))

	ids, err := dir.TeamMemberIDs(context.Background(), lead)
	if err != nil {
		t.Fatalf("team members: %v", err)
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestPostgresDirectoryContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	dir := NewPostgresDirectory(mock)

	userID := uuid.New()
	mock.ExpectQuery("SELECT email, first_name, last_name FROM users").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"email", "first_name", "last_name"}).AddRow("r@example.com", "Rae", "Ng"))

	c, err := dir.Contact(context.Background(), userID)
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	if c.Email != "r@example.com" || c.UserID != userID {
		t.Fatalf("unexpected contact %+v", c)
	}
}
