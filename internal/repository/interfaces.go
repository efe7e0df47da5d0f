// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/accounts/internal/model"
)

var (
	// ErrUserNotFound は更新対象のユーザーが存在しない場合に返る。
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUserName はuserNameの一意制約違反を表す。
	ErrDuplicateUserName = errors.New("duplicate userName")

	// ErrDuplicateEmail はemailの一意制約違反を表す。
	ErrDuplicateEmail = errors.New("duplicate email")
)

// UserRepository はユーザーデータの永続化インターフェース。
// PostgreSQLとMongoDBの2実装を持つ。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmailOrUserName はemailまたはuserNameが一致するユーザーを返す。
	// 両方の値が別々のユーザーに一致する場合があるため、最大2件を返す。
	FindByEmailOrUserName(ctx context.Context, email, userName string) ([]*model.User, error)

	// FindByUserName はuserNameでユーザーを検索する。見つからない場合はnilを返す。
	FindByUserName(ctx context.Context, userName string) (*model.User, error)

	// Create はユーザーを作成し、採番したIDとタイムスタンプをuserに設定する。
	// 一意制約違反時はErrDuplicateUserNameまたはErrDuplicateEmailをラップして返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateRefreshToken はリフレッシュトークンのみを更新する。
	// 他のフィールドの再検証は行わない。
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error

	// ClearRefreshToken はリフレッシュトークンを削除する。
	ClearRefreshToken(ctx context.Context, id string) error
}
