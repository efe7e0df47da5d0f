// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User はサービス利用ユーザーを表す。
// UserNameとEmailはそれぞれ一意で、小文字に正規化した値を保持する。
type User struct {
	ID           string
	UserName     string
	Email        string
	FullName     string
	Avatar       string // アバター画像の公開URL
	Password     string // bcryptハッシュ
	RefreshToken string // 空の場合は未ログインまたはログアウト済み
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser はAPIレスポンスで返すユーザー情報。
// パスワードとリフレッシュトークンは含めない。
type PublicUser struct {
	ID        string    `json:"_id"`
	UserName  string    `json:"userName"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TokenPair はログイン時に発行するアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// MaxPasswordBytes はbcryptが受け付けるパスワードの最大バイト数。
const MaxPasswordBytes = 72

// HashPassword は平文パスワードをbcryptでハッシュ化する。
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// IsPasswordCorrect は平文パスワードが保存済みハッシュと一致するかを返す。
func (u *User) IsPasswordCorrect(plain string) bool {
	if u.Password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain)) == nil
}

// Public はレスポンス用の射影を返す。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		UserName:  u.UserName,
		Email:     u.Email,
		FullName:  u.FullName,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
