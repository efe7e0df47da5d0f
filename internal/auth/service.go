// Package auth はユーザー登録・ログイン・トークン発行を提供する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hitoshi/accounts/internal/metrics"
	"github.com/hitoshi/accounts/internal/model"
	"github.com/hitoshi/accounts/internal/repository"
	"github.com/hitoshi/accounts/internal/token"
	"github.com/hitoshi/accounts/internal/upload"
)

const (
	msgRequiredFields    = "The following fields are required:"
	msgBothTaken         = "userName and email already exists"
	msgEmailTaken        = "email is already used"
	msgUserNameTaken     = "userName must be unique"
	msgAvatarRequired    = "avatar file is required"
	msgPasswordTooLong   = "password must be at most 72 bytes"
	msgUserNotCreated    = "user not created in db"
	msgRegisterFailed    = "something went wrong while registering the user"
	msgUserNameRequired  = "username is required"
	msgLoginFailed       = "something went wrong while logging in"
	msgTokenIssueFailed  = "something went wrong while generating access and refresh tokens"
	msgUnauthorized      = "unauthorized request"
	msgInvalidRefresh    = "invalid refresh token"
	msgRefreshReused     = "refresh token is expired or used"
	msgInvalidAccess     = "invalid access token"
	msgLogoutFailed      = "something went wrong while logging out"
	msgCurrentUserFailed = "something went wrong while fetching the current user"
)

// Uploader はアバター画像をアップロードし、公開URLを含む結果を返す。
type Uploader interface {
	Upload(ctx context.Context, localPath string) (*upload.Result, error)
}

// TokenIssuer はトークンの発行とリフレッシュトークンの検証を行う。
type TokenIssuer interface {
	AccessToken(user *model.User) (string, error)
	RefreshToken(user *model.User) (string, error)
	ParseRefreshToken(tokenString string) (*token.RefreshClaims, error)
}

// Sanitizer は表示名などの自由入力からHTMLを除去する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	UploadTimeout time.Duration // 0の場合はリクエストのコンテキストのみに従う
}

// RegisterInput はユーザー登録の入力。
// AvatarPathはハンドラーが一時保存したアバター画像のローカルパス。
type RegisterInput struct {
	UserName   string
	Email      string
	FullName   string
	Password   string
	AvatarPath string
}

// LoginInput はログインの入力。
type LoginInput struct {
	UserName string
	Password string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User   model.PublicUser
	Tokens model.TokenPair
}

// Service はユーザー登録・ログイン・トークン発行のビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	uploader  Uploader
	issuer    TokenIssuer
	sanitizer Sanitizer
	metrics   metrics.Recorder
	config    ServiceConfig
}

// NewService は認証サービスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	uploader Uploader,
	issuer TokenIssuer,
	sanitizer Sanitizer,
	recorder metrics.Recorder,
	config ServiceConfig,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		userRepo:  userRepo,
		uploader:  uploader,
		issuer:    issuer,
		sanitizer: sanitizer,
		metrics:   recorder,
		config:    config,
	}
}

// Register はユーザーを登録し、パスワードとリフレッシュトークンを除いたユーザー情報を返す。
// 処理の成否にかかわらず、一時保存されたアバター画像は削除する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.PublicUser, error) {
	defer removeLocalFile(in.AvatarPath)

	user, err := s.register(ctx, in)
	s.metrics.RecordRegistration(resultLabel(err))
	return user, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*model.PublicUser, error) {
	// 1. 必須項目の検証
	if missing := missingFields(in); len(missing) > 0 {
		return nil, model.NewValidationError(model.ErrCodeRequiredFields, msgRequiredFields, missing...)
	}
	if len(in.Password) > model.MaxPasswordBytes {
		return nil, model.NewValidationError(model.ErrCodePasswordTooLong, msgPasswordTooLong, "password")
	}

	userName := strings.ToLower(strings.TrimSpace(in.UserName))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	if s.sanitizer != nil {
		fullName = s.sanitizer.Sanitize(fullName)
		if fullName == "" {
			return nil, model.NewValidationError(model.ErrCodeRequiredFields, msgRequiredFields, "fullName")
		}
	}

	// 2. 一意性の確認
	existing, err := s.userRepo.FindByEmailOrUserName(ctx, email, userName)
	if err != nil {
		return nil, model.NewInternalError(model.ErrCodeInternal, msgRegisterFailed, err)
	}
	var emailTaken, userNameTaken bool
	for _, u := range existing {
		emailTaken = emailTaken || u.Email == email
		userNameTaken = userNameTaken || u.UserName == userName
	}
	if emailTaken || userNameTaken {
		return nil, conflictError(emailTaken, userNameTaken)
	}

	// 3. アバターのアップロード
	if strings.TrimSpace(in.AvatarPath) == "" {
		return nil, model.NewValidationError(model.ErrCodeAvatarRequired, msgAvatarRequired)
	}
	avatar, err := s.uploadAvatar(ctx, in.AvatarPath)
	if err != nil {
		return nil, err
	}

	// 4. 永続化
	hashed, err := model.HashPassword(in.Password)
	if err != nil {
		return nil, model.NewInternalError(model.ErrCodeInternal, msgRegisterFailed, err)
	}
	user := &model.User{
		UserName: userName,
		Email:    email,
		FullName: fullName,
		Avatar:   avatar,
		Password: hashed,
	}
	// TODO: ユーザー作成に失敗した場合、アップロード済みのアバターをCloudinaryから削除する
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 事前確認と書き込みの間に別リクエストが同じ値で登録した場合
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, conflictError(true, false)
		case errors.Is(err, repository.ErrDuplicateUserName):
			return nil, conflictError(false, true)
		}
		return nil, model.NewInternalError(model.ErrCodeInternal, msgRegisterFailed, err)
	}

	created, err := s.userRepo.FindByID(ctx, user.ID)
	if err != nil || created == nil {
		return nil, model.NewInternalError(model.ErrCodeUserNotCreated, msgUserNotCreated, err)
	}

	slog.Info("user registered",
		slog.String("user_id", created.ID),
		slog.String("user_name", created.UserName),
	)

	public := created.Public()
	return &public, nil
}

// uploadAvatar はアバターをアップロードして公開URLを返す。
// アップロード結果が得られない場合はUploadErrorを返す。
func (s *Service) uploadAvatar(ctx context.Context, localPath string) (string, error) {
	if s.config.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.UploadTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.uploader.Upload(ctx, localPath)
	ok := err == nil && result != nil && result.PublicURL() != ""
	s.metrics.RecordUploadLatency(time.Since(start), ok)

	if !ok {
		if err == nil {
			err = fmt.Errorf("upload returned no result")
		}
		slog.Warn("avatar upload failed", slog.String("error", err.Error()))
		return "", model.NewUploadError(err)
	}
	return result.PublicURL(), nil
}

// Login はユーザー名とパスワードで認証し、トークンを発行する。
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	result, err := s.login(ctx, in)
	s.metrics.RecordLogin(resultLabel(err))
	return result, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	userName := strings.ToLower(strings.TrimSpace(in.UserName))
	if userName == "" {
		return nil, model.NewValidationError(model.ErrCodeUserNameRequired, msgUserNameRequired)
	}

	user, err := s.userRepo.FindByUserName(ctx, userName)
	if err != nil {
		return nil, model.NewInternalError(model.ErrCodeInternal, msgLoginFailed, err)
	}
	if user == nil {
		return nil, model.NewNotFoundError()
	}

	if !user.IsPasswordCorrect(in.Password) {
		return nil, model.NewAuthError()
	}

	tokens, err := s.IssueTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	loggedIn, err := s.userRepo.FindByID(ctx, user.ID)
	if err != nil || loggedIn == nil {
		return nil, model.NewInternalError(model.ErrCodeInternal, msgLoginFailed, err)
	}

	slog.Info("user logged in", slog.String("user_id", loggedIn.ID))

	return &LoginResult{
		User:   loggedIn.Public(),
		Tokens: *tokens,
	}, nil
}

// IssueTokens はユーザーを再取得してトークンペアを発行し、リフレッシュトークンを保存する。
// どの段階で失敗しても呼び出し元には同じ汎用メッセージを返し、原因はエラーコードとログで区別する。
func (s *Service) IssueTokens(ctx context.Context, userID string) (*model.TokenPair, error) {
	fail := func(code string, cause error) error {
		attrs := []any{
			slog.String("code", code),
			slog.String("user_id", userID),
		}
		if cause != nil {
			attrs = append(attrs, slog.String("error", cause.Error()))
		}
		slog.Error("failed to issue tokens", attrs...)
		s.metrics.RecordTokenIssueFailure(code)
		return model.NewInternalError(code, msgTokenIssueFailed, cause)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fail(model.ErrCodeTokenLookupFailed, err)
	}
	if user == nil {
		return nil, fail(model.ErrCodeTokenUserNotFound, nil)
	}

	accessToken, err := s.issuer.AccessToken(user)
	if err != nil {
		return nil, fail(model.ErrCodeTokenSignFailed, err)
	}
	refreshToken, err := s.issuer.RefreshToken(user)
	if err != nil {
		return nil, fail(model.ErrCodeTokenSignFailed, err)
	}

	if err := s.userRepo.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return nil, fail(model.ErrCodeTokenSaveFailed, err)
	}

	return &model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Logout は保存済みのリフレッシュトークンを破棄する。
// ユーザーが既に存在しない場合も成功として扱う。
func (s *Service) Logout(ctx context.Context, userID string) error {
	err := s.userRepo.ClearRefreshToken(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return model.NewInternalError(model.ErrCodeInternal, msgLogoutFailed, err)
	}
	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// RefreshAccessToken はリフレッシュトークンを検証し、新しいトークンペアを発行する。
// 保存済みの値と一致しないトークン（ローテーション済み・ログアウト済み）は拒否する。
func (s *Service) RefreshAccessToken(ctx context.Context, incoming string) (*model.TokenPair, error) {
	if incoming == "" {
		return nil, model.NewUnauthorizedError(model.ErrCodeUnauthorized, msgUnauthorized)
	}

	claims, err := s.issuer.ParseRefreshToken(incoming)
	if err != nil {
		return nil, model.NewUnauthorizedError(model.ErrCodeInvalidRefreshToken, msgInvalidRefresh)
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, model.NewInternalError(model.ErrCodeInternal, msgTokenIssueFailed, err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError(model.ErrCodeInvalidRefreshToken, msgInvalidRefresh)
	}

	if subtle.ConstantTimeCompare([]byte(incoming), []byte(user.RefreshToken)) != 1 {
		slog.Warn("refresh token mismatch", slog.String("user_id", user.ID))
		return nil, model.NewUnauthorizedError(model.ErrCodeRefreshTokenReused, msgRefreshReused)
	}

	return s.IssueTokens(ctx, user.ID)
}

// CurrentUser はユーザーIDに対応するユーザー情報を返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.PublicUser, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError(model.ErrCodeInternal, msgCurrentUserFailed, err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError(model.ErrCodeInvalidAccessToken, msgInvalidAccess)
	}
	public := user.Public()
	return &public, nil
}

// missingFields は未入力（空白のみを含む）の必須項目名を返す。
func missingFields(in RegisterInput) []string {
	fields := []struct {
		name  string
		value string
	}{
		{"fullName", in.FullName},
		{"email", in.Email},
		{"userName", in.UserName},
		{"password", in.Password},
	}

	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func conflictError(emailTaken, userNameTaken bool) *model.APIError {
	switch {
	case emailTaken && userNameTaken:
		return model.NewConflictError(model.ErrCodeUserNameEmailTaken, msgBothTaken)
	case emailTaken:
		return model.NewConflictError(model.ErrCodeEmailTaken, msgEmailTaken)
	default:
		return model.NewConflictError(model.ErrCodeUserNameTaken, msgUserNameTaken)
	}
}

// resultLabel はメトリクス用の結果ラベルを返す。
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Kind)
	}
	return string(model.KindInternal)
}

func removeLocalFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove temporary avatar file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
