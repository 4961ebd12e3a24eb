package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/icantchat/internal/model"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func assertExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行の期待クエリがあります: %v", err)
	}
}

var tokenRowColumns = []string{"id", "access_token", "token_type", "issued_at", "ttl_seconds", "refresh_token", "scope", "redirect_uri"}

func TestPostgresTokenRepo_FindByID_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTokenRepo(db)

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tokens t WHERE t.id = $1")).
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow("tok-1", "access", "Bearer", issued, int64(604800), "refresh", "identify", "https://example.com/cb"))

	token, err := repo.FindByID(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil {
		t.Fatal("expected token, got nil")
	}
	if token.TTL != 7*24*time.Hour {
		t.Errorf("TTL = %v, want 168h", token.TTL)
	}
	if token.RedirectURI != "https://example.com/cb" {
		t.Errorf("RedirectURI = %q", token.RedirectURI)
	}
	if !token.IssuedAt.Equal(issued) {
		t.Errorf("IssuedAt = %v, want %v", token.IssuedAt, issued)
	}
	assertExpectations(t, mock)
}

func TestPostgresTokenRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTokenRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tokens t WHERE t.id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns))

	token, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != nil {
		t.Errorf("expected nil, got %+v", token)
	}
	assertExpectations(t, mock)
}

func TestPostgresTokenRepo_FindByExternalUserID_JoinsIdentities(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTokenRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INNER JOIN identities i ON i.token_id = t.id")).
		WithArgs("80351110224678912").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow("tok-1", "access", "Bearer", time.Now(), int64(60), "refresh", "identify", "https://example.com/cb"))

	token, err := repo.FindByExternalUserID(context.Background(), "80351110224678912")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil || token.ID != "tok-1" {
		t.Errorf("token = %+v, want tok-1", token)
	}
	assertExpectations(t, mock)
}

func TestPostgresTokenRepo_GetOrCreate_Inserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTokenRepo(db)

	token := &model.Token{
		AccessToken:  "new-access",
		TokenType:    "Bearer",
		IssuedAt:     time.Now(),
		TTL:          time.Hour,
		RefreshToken: "new-refresh",
		Scope:        "identify",
		RedirectURI:  "https://example.com/cb",
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (access_token) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "new-access", "Bearer", sqlmock.AnyArg(), int64(3600), "new-refresh", "identify", "https://example.com/cb").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("generated"))

	created, err := repo.GetOrCreate(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if token.ID == "" {
		t.Error("token.ID should be assigned")
	}
	assertExpectations(t, mock)
}

func TestPostgresTokenRepo_GetOrCreate_ReturnsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTokenRepo(db)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := &model.Token{AccessToken: "dup-access", TokenType: "Bearer", TTL: time.Minute}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (access_token) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tokens t WHERE t.access_token = $1")).
		WithArgs("dup-access").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow("existing-id", "dup-access", "Bearer", issued, int64(7200), "old-refresh", "identify", "https://example.com/cb"))

	created, err := repo.GetOrCreate(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("created = true, want false")
	}
	if token.ID != "existing-id" || token.RefreshToken != "old-refresh" || token.TTL != 2*time.Hour {
		t.Errorf("token not overwritten with existing row: %+v", token)
	}
	assertExpectations(t, mock)
}

func TestPostgresTokenRepo_GetOrCreate_InsertError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTokenRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tokens")).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetOrCreate(context.Background(), &model.Token{AccessToken: "x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	assertExpectations(t, mock)
}

func TestPostgresTokenRepo_UpdateRefreshed(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{name: "更新成功", rowsAffected: 1, want: true},
		{name: "他のリフレッシュが先行", rowsAffected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresTokenRepo(db)

			token := &model.Token{
				ID:           "tok-1",
				AccessToken:  "rotated",
				TokenType:    "Bearer",
				IssuedAt:     time.Now(),
				TTL:          30 * time.Minute,
				RefreshToken: "rotated-refresh",
				Scope:        "identify",
			}

			mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND access_token = $8")).
				WithArgs("tok-1", "rotated", "Bearer", sqlmock.AnyArg(), int64(1800), "rotated-refresh", "identify", "previous").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			got, err := repo.UpdateRefreshed(context.Background(), token, "previous")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("UpdateRefreshed = %v, want %v", got, tt.want)
			}
			assertExpectations(t, mock)
		})
	}
}

func TestTTLSeconds_ClampsNegative(t *testing.T) {
	if got := ttlSeconds(-5 * time.Second); got != 0 {
		t.Errorf("ttlSeconds(-5s) = %d, want 0", got)
	}
	if got := ttlSeconds(90 * time.Second); got != 90 {
		t.Errorf("ttlSeconds(90s) = %d, want 90", got)
	}
}
