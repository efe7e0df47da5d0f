package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/accounts/internal/model"
)

// MemoryUserRepo はプロセス内メモリに保持するユーザーリポジトリ。
// ローカル開発とテストで使用する。userName・emailの一意性はロック内で保証する。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]*model.User)}
}

// FindByID は指定IDのユーザーのコピーを返す。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

// FindByEmailOrUserName はemailまたはuserNameが一致するユーザーを最大2件返す。
func (r *MemoryUserRepo) FindByEmailOrUserName(_ context.Context, email, userName string) ([]*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*model.User
	for _, u := range r.users {
		if u.Email == email || u.UserName == userName {
			c := *u
			found = append(found, &c)
			if len(found) == 2 {
				break
			}
		}
	}
	return found, nil
}

// FindByUserName はuserNameでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByUserName(_ context.Context, userName string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.UserName == userName {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.UserName == user.UserName {
			return fmt.Errorf("failed to insert user: %w", ErrDuplicateUserName)
		}
		if u.Email == user.Email {
			return fmt.Errorf("failed to insert user: %w", ErrDuplicateEmail)
		}
	}

	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	c := *user
	r.users[user.ID] = &c
	return nil
}

// UpdateRefreshToken はリフレッシュトークンのみを更新する。
func (r *MemoryUserRepo) UpdateRefreshToken(_ context.Context, id, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	u.RefreshToken = refreshToken
	u.UpdatedAt = time.Now()
	return nil
}

// ClearRefreshToken はリフレッシュトークンを削除する。
func (r *MemoryUserRepo) ClearRefreshToken(ctx context.Context, id string) error {
	return r.UpdateRefreshToken(ctx, id, "")
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
