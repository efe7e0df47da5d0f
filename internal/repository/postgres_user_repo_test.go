package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/accounts/internal/model"
)

const testUserID = "5b0d6f3e-8f55-4c36-9f2a-1c0e7b1f6a10"

var userColumnNames = []string{
	"id", "user_name", "email", "full_name", "avatar", "password", "refresh_token", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PostgresUserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresUserRepo(db), mock
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresUserRepo_FindByID_ReturnsUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(userColumnNames).
			AddRow(testUserID, "alice", "alice@example.com", "Alice", "https://img/a.png", "hash", nil, now, now))

	user, err := repo.FindByID(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.UserName != "alice" {
		t.Errorf("UserName = %q, want %q", user.UserName, "alice")
	}
	if user.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty for NULL", user.RefreshToken)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUserRepo_FindByID_NotFound_ReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(userColumnNames))

	user, err := repo.FindByID(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

// 不正な形式のIDはクエリを発行せずに見つからない扱いとなることを検証
func TestPostgresUserRepo_FindByID_MalformedID_SkipsQuery(t *testing.T) {
	repo, mock := newMockRepo(t)

	user, err := repo.FindByID(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected query: %v", err)
	}
}

func TestPostgresUserRepo_FindByEmailOrUserName_ReturnsBothMatches(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email = $1 OR user_name = $2 LIMIT 2`)).
		WithArgs("bob@example.com", "alice").
		WillReturnRows(sqlmock.NewRows(userColumnNames).
			AddRow(testUserID, "alice", "alice@example.com", "Alice", "", "hash", nil, now, now).
			AddRow("0b6f3f9e-1d5c-4a0c-8d7e-2a3b4c5d6e7f", "bob", "bob@example.com", "Bob", "", "hash", "rt", now, now))

	users, err := repo.FindByEmailOrUserName(context.Background(), "bob@example.com", "alice")
	if err != nil {
		t.Fatalf("FindByEmailOrUserName returned error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
	if users[1].RefreshToken != "rt" {
		t.Errorf("RefreshToken = %q, want %q", users[1].RefreshToken, "rt")
	}
}

func TestPostgresUserRepo_FindByUserName_NotFound_ReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE user_name = $1`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userColumnNames))

	user, err := repo.FindByUserName(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("FindByUserName returned error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestPostgresUserRepo_Create_AssignsIDAndTimestamps(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", "Alice", "https://img/a.png", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user := &model.User{
		UserName: "alice",
		Email:    "alice@example.com",
		FullName: "Alice",
		Avatar:   "https://img/a.png",
		Password: "hash",
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if user.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

// 一意制約違反が制約名に応じた重複エラーに変換されることを検証
func TestPostgresUserRepo_Create_UniqueViolation(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{userNameConstraint, ErrDuplicateUserName},
		{emailConstraint, ErrDuplicateEmail},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec("INSERT INTO users").
				WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: tt.constraint})

			err := repo.Create(context.Background(), &model.User{UserName: "alice", Email: "alice@example.com"})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPostgresUserRepo_Create_OtherError_PassesThrough(t *testing.T) {
	repo, mock := newMockRepo(t)
	dbErr := errors.New("connection refused")
	mock.ExpectExec("INSERT INTO users").WillReturnError(dbErr)

	err := repo.Create(context.Background(), &model.User{UserName: "alice"})
	if !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapped %v", err, dbErr)
	}
	if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateUserName) {
		t.Error("non-unique error should not map to duplicate errors")
	}
}

func TestPostgresUserRepo_UpdateRefreshToken(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET refresh_token = $1`)).
		WithArgs(nullString{value: "new-token", valid: true}, sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateRefreshToken(context.Background(), testUserID, "new-token"); err != nil {
		t.Fatalf("UpdateRefreshToken returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUserRepo_ClearRefreshToken_WritesNull(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET refresh_token = $1`)).
		WithArgs(nullString{}, sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ClearRefreshToken(context.Background(), testUserID); err != nil {
		t.Fatalf("ClearRefreshToken returned error: %v", err)
	}
}

func TestPostgresUserRepo_UpdateRefreshToken_NoRows_ReturnsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET refresh_token = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRefreshToken(context.Background(), testUserID, "token")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

// nullString はsql.NullStringのドライバ値を照合するsqlmock.Argument。
type nullString struct {
	value string
	valid bool
}

func (n nullString) Match(v driver.Value) bool {
	if !n.valid {
		return v == nil
	}
	s, ok := v.(string)
	return ok && s == n.value
}
