// Package token はアクセストークンとリフレッシュトークンの発行・検証を提供する。
// どちらもHS256署名のJWTで、シークレットと有効期間は別々に設定する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/accounts/internal/model"
)

// ErrInvalidToken は署名・形式・有効期限のいずれかの検証に失敗したことを表す。
var ErrInvalidToken = errors.New("invalid token")

// Config はトークン発行の設定。
type Config struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
}

// AccessClaims はアクセストークンのクレーム。
type AccessClaims struct {
	UserID   string `json:"_id"`
	Email    string `json:"email"`
	UserName string `json:"userName"`
	FullName string `json:"fullName"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンのクレーム。ユーザーIDのみを持つ。
type RefreshClaims struct {
	UserID string `json:"_id"`
	jwt.RegisteredClaims
}

// Issuer はJWTの発行と検証を行う。
type Issuer struct {
	config Config
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(config Config) *Issuer {
	return &Issuer{
		config: config,
		now:    time.Now,
	}
}

// AccessToken はユーザー情報を含む短命のアクセストークンを発行する。
func (i *Issuer) AccessToken(user *model.User) (string, error) {
	now := i.now()
	claims := AccessClaims{
		UserID:   user.ID,
		Email:    user.Email,
		UserName: user.UserName,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessExpiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.config.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// RefreshToken は長命のリフレッシュトークンを発行する。
// 同一秒内の再発行でも値が変わるようIDを付与する。
func (i *Issuer) RefreshToken(user *model.User) (string, error) {
	now := i.now()
	claims := RefreshClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%d", now.UnixNano()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.RefreshExpiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.config.RefreshSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken はアクセストークンを検証してクレームを返す。
func (i *Issuer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(tokenString, claims, i.config.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefreshToken はリフレッシュトークンを検証してクレームを返す。
func (i *Issuer) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(tokenString, claims, i.config.RefreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims, secret string) error {
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
