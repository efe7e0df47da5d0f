package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/accounts/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

// 一意制約名。migrations/000001_create_users.up.sql と一致させる。
const (
	userNameConstraint = "users_user_name_key"
	emailConstraint    = "users_email_key"
)

const userColumns = `id, user_name, email, full_name, avatar, password, refresh_token, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var refreshToken sql.NullString
	err := s.Scan(
		&user.ID, &user.UserName, &user.Email, &user.FullName, &user.Avatar,
		&user.Password, &refreshToken, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = refreshToken.String
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByEmailOrUserName はemailまたはuserNameが一致するユーザーを最大2件返す。
func (r *PostgresUserRepo) FindByEmailOrUserName(ctx context.Context, email, userName string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR user_name = $2 LIMIT 2`,
		email, userName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find users by email or userName: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// FindByUserName はuserNameでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUserName(ctx context.Context, userName string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_name = $1`,
		userName,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by userName: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, user_name, email, full_name, avatar, password, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.UserName, user.Email, user.FullName, user.Avatar, user.Password,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translatePQError(err))
	}

	return nil
}

// UpdateRefreshToken はリフレッシュトークンのみを更新する。
func (r *PostgresUserRepo) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	return r.setRefreshToken(ctx, id, sql.NullString{String: refreshToken, Valid: refreshToken != ""})
}

// ClearRefreshToken はリフレッシュトークンをNULLに戻す。
func (r *PostgresUserRepo) ClearRefreshToken(ctx context.Context, id string) error {
	return r.setRefreshToken(ctx, id, sql.NullString{})
}

func (r *PostgresUserRepo) setRefreshToken(ctx context.Context, id string, token sql.NullString) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3`,
		token, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

// translatePQError は一意制約違反を重複エラーに変換する。
// それ以外のエラーはそのまま返す。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case userNameConstraint:
		return ErrDuplicateUserName
	case emailConstraint:
		return ErrDuplicateEmail
	default:
		return err
	}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
