package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
)

func TestPostgresSessionRepo_Create_AppendsPerLogin(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	sessions := NewPostgresSessionRepo(db)
	ctx := context.Background()

	user := newPasswordUser("sess@example.com")
	if err := users.CreatePasswordUser(ctx, user); err != nil {
		t.Fatalf("CreatePasswordUser() error = %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := sessions.Create(ctx, &model.Session{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Token:     "token",
			ExpiresAt: now.Add(30 * 24 * time.Hour),
			UserAgent: "test-agent",
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM sessions WHERE user_id = $1`, user.ID).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 3 {
		t.Errorf("session count = %d, want 3", count)
	}
}

func TestPostgresSessionRepo_Create_UnknownUser(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewPostgresSessionRepo(db)

	err := sessions.Create(context.Background(), &model.Session{
		ID:        uuid.NewString(),
		UserID:    uuid.NewString(),
		Token:     "token",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	})
	if !errors.Is(err, ErrUnknownUser) {
		t.Errorf("err = %v, want ErrUnknownUser", err)
	}
}

func TestPostgresSessionRepo_Create_FillsIDAndCreatedAt(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	sessions := NewPostgresSessionRepo(db)
	ctx := context.Background()

	user := newPasswordUser("fill@example.com")
	if err := users.CreatePasswordUser(ctx, user); err != nil {
		t.Fatalf("CreatePasswordUser() error = %v", err)
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sessions.now = func() time.Time { return fixed }

	s := &model.Session{UserID: user.ID, Token: "t", ExpiresAt: fixed.Add(time.Hour)}
	if err := sessions.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("ID = %q, want generated uuid", s.ID)
	}

	var createdAt time.Time
	if err := db.QueryRow(`SELECT created_at FROM sessions WHERE id = $1`, s.ID).Scan(&createdAt); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !createdAt.Equal(fixed) {
		t.Errorf("created_at = %v, want %v", createdAt, fixed)
	}
}
