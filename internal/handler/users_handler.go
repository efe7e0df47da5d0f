package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/accounts/internal/auth"
	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// AvatarTempPrefix はアップロード前のアバター一時ファイル名の接頭辞。
const AvatarTempPrefix = "avatar-"

const (
	msgRegistered     = "User registered successfully"
	msgLoggedIn       = "User logged In Successfully"
	msgLoggedOut      = "User logged Out"
	msgRefreshed      = "Access token refreshed"
	msgCurrentUser    = "current user fetched successfully"
	msgInvalidRequest = "invalid request body"
	msgAvatarTooLarge = "avatar file is too large"

	// multipartMemory はフォーム解析時にメモリに保持する上限。超過分は一時ファイルになる。
	multipartMemory = 1 << 20
	// formOverhead はアバター以外のフォームフィールドに許容するバイト数。
	formOverhead = 1 << 20
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.PublicUser, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	Logout(ctx context.Context, userID string) error
	RefreshAccessToken(ctx context.Context, incoming string) (*model.TokenPair, error)
	CurrentUser(ctx context.Context, userID string) (*model.PublicUser, error)
}

// UserHandlerConfig はユーザーハンドラーの設定。
type UserHandlerConfig struct {
	Cookies       CookieConfig
	AvatarMaxSize int64  // アバター画像の最大バイト数
	UploadTempDir string // 空の場合はos.TempDir()
}

// UserHandler はユーザー登録・ログイン・トークン管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	config  UserHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, config UserHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		config:  config,
	}
}

// credentialsRequest はログインとトークン更新で受け付けるボディ。
type credentialsRequest struct {
	UserName     string `json:"userName"`
	Password     string `json:"password"`
	RefreshToken string `json:"refreshToken"`
}

// loginResponse はログイン成功時のdata。
type loginResponse struct {
	User         model.PublicUser `json:"user"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
}

// Register はユーザー登録を処理する。
// POST /register (multipart/form-data: userName, email, fullName, password, avatar)
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h.config.AvatarMaxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.AvatarMaxSize+formOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, model.NewValidationError(model.ErrCodeAvatarTooLarge, msgAvatarTooLarge))
			return
		}
		handleServiceError(w, model.NewValidationError(model.ErrCodeInvalidRequest, msgInvalidRequest))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	avatarPath, err := h.saveAvatar(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		UserName:   r.FormValue("userName"),
		Email:      r.FormValue("email"),
		FullName:   r.FormValue("fullName"),
		Password:   r.FormValue("password"),
		AvatarPath: avatarPath,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, user, msgRegistered)
}

// saveAvatar はアップロードされたアバターを一時ディレクトリに保存し、そのパスを返す。
// アバターが送信されていない場合は空文字を返す。一時ファイルの削除はサービスが行う。
func (h *UserHandler) saveAvatar(r *http.Request) (string, error) {
	file, header, err := r.FormFile("avatar")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", model.NewValidationError(model.ErrCodeInvalidRequest, msgInvalidRequest)
	}
	defer file.Close()

	if h.config.AvatarMaxSize > 0 && header.Size > h.config.AvatarMaxSize {
		return "", model.NewValidationError(model.ErrCodeAvatarTooLarge, msgAvatarTooLarge)
	}

	path, err := writeTempFile(h.config.UploadTempDir, header, file)
	if err != nil {
		slog.Error("failed to save avatar temp file",
			slog.String("error", err.Error()),
			slog.String("dir", h.config.UploadTempDir),
		)
		return "", model.NewInternalError(model.ErrCodeInternal, "Internal Server Error", err)
	}
	return path, nil
}

func writeTempFile(dir string, header *multipart.FileHeader, src io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if len(ext) > 8 {
		ext = ""
	}

	if dir == "" {
		dir = os.TempDir()
	}
	name := filepath.Join(dir, AvatarTempPrefix+uuid.NewString()+ext)

	dst, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return dst.Name(), nil
}

// Login はログインを処理し、トークンCookieを設定する。
// POST /login (JSON or form: userName, password)
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		handleServiceError(w, model.NewValidationError(model.ErrCodeInvalidRequest, msgInvalidRequest))
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		UserName: req.UserName,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.config.Cookies.setTokenCookies(w, &result.Tokens)
	writeJSONResponse(w, http.StatusOK, loginResponse{
		User:         result.User,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	}, msgLoggedIn)
}

// Logout は保存済みリフレッシュトークンを破棄し、トークンCookieを削除する。
// POST /logout （要認証）
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request"))
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.config.Cookies.clearTokenCookies(w)
	writeJSONResponse(w, http.StatusOK, struct{}{}, msgLoggedOut)
}

// RefreshToken はリフレッシュトークンをローテーションし、新しいトークンペアを返す。
// POST /refresh-token （Cookieまたはボディの refreshToken）
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var incoming string
	if cookie, err := r.Cookie(RefreshTokenCookieName); err == nil {
		incoming = cookie.Value
	}
	if incoming == "" && r.ContentLength != 0 {
		if req, err := decodeCredentials(r); err == nil {
			incoming = req.RefreshToken
		}
	}

	tokens, err := h.service.RefreshAccessToken(r.Context(), incoming)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.config.Cookies.setTokenCookies(w, tokens)
	writeJSONResponse(w, http.StatusOK, tokens, msgRefreshed)
}

// Me は現在のログインユーザー情報を返す。
// GET /me （要認証）
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request"))
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, user, msgCurrentUser)
}

// decodeCredentials はJSONまたはフォームのボディを読み取る。
func decodeCredentials(r *http.Request) (*credentialsRequest, error) {
	var req credentialsRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return &req, nil
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req.UserName = r.PostFormValue("userName")
	req.Password = r.PostFormValue("password")
	req.RefreshToken = r.PostFormValue("refreshToken")
	return &req, nil
}
