package model

import (
	"fmt"
	"net/http"
)

// ErrorKind はAPIエラーの分類を表す。
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindUpload       ErrorKind = "upload"
	KindNotFound     ErrorKind = "not_found"
	KindAuth         ErrorKind = "auth"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindRateLimit    ErrorKind = "rate_limit"
	KindInternal     ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// StatusCodeとMessageはそのままエラーレスポンスに載る。
// Causeはログ出力専用で、レスポンスには含めない。
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string   // エラーコード
	Message    string   // エラーメッセージ
	Errors     []string // 個別のエラー項目（未入力フィールド名など）
	Cause      error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeRequiredFields      = "REQUIRED_FIELDS"
	ErrCodeUserNameEmailTaken  = "USERNAME_AND_EMAIL_TAKEN"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeUserNameTaken       = "USERNAME_TAKEN"
	ErrCodeAvatarRequired      = "AVATAR_REQUIRED"
	ErrCodeAvatarUploadFailed  = "AVATAR_UPLOAD_FAILED"
	ErrCodePasswordTooLong     = "PASSWORD_TOO_LONG"
	ErrCodeUserNotCreated      = "USER_NOT_CREATED"
	ErrCodeUserNameRequired    = "USERNAME_REQUIRED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodePasswordIncorrect   = "PASSWORD_INCORRECT"
	ErrCodeTokenLookupFailed   = "TOKEN_USER_LOOKUP_FAILED"
	ErrCodeTokenUserNotFound   = "TOKEN_USER_NOT_FOUND"
	ErrCodeTokenSignFailed     = "TOKEN_SIGN_FAILED"
	ErrCodeTokenSaveFailed     = "TOKEN_SAVE_FAILED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidAccessToken  = "INVALID_ACCESS_TOKEN"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeRefreshTokenReused  = "REFRESH_TOKEN_REUSED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeAvatarTooLarge      = "AVATAR_TOO_LARGE"
	ErrCodeCSRFFailed          = "CSRF_VALIDATION_FAILED"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewValidationError は入力不備エラー（400）を生成する。
func NewValidationError(code, message string, fields ...string) *APIError {
	return &APIError{
		Kind:       KindValidation,
		StatusCode: http.StatusBadRequest,
		Code:       code,
		Message:    message,
		Errors:     fields,
	}
}

// NewConflictError は一意制約違反エラー（409）を生成する。
func NewConflictError(code, message string) *APIError {
	return &APIError{
		Kind:       KindConflict,
		StatusCode: http.StatusConflict,
		Code:       code,
		Message:    message,
	}
}

// NewUploadError は外部アップロード失敗エラー（400）を生成する。
func NewUploadError(cause error) *APIError {
	return &APIError{
		Kind:       KindUpload,
		StatusCode: http.StatusBadRequest,
		Code:       ErrCodeAvatarUploadFailed,
		Message:    "Failed to upload avatar on cloudinary",
		Cause:      cause,
	}
}

// NewNotFoundError はログイン対象ユーザー未検出エラーを生成する。
// ステータスは404ではなく400を返す。
func NewNotFoundError() *APIError {
	return &APIError{
		Kind:       KindNotFound,
		StatusCode: http.StatusBadRequest,
		Code:       ErrCodeUserNotFound,
		Message:    "User does not exist",
	}
}

// NewAuthError はパスワード不一致エラー（400）を生成する。
func NewAuthError() *APIError {
	return &APIError{
		Kind:       KindAuth,
		StatusCode: http.StatusBadRequest,
		Code:       ErrCodePasswordIncorrect,
		Message:    "Password is incorrect",
	}
}

// NewUnauthorizedError は未認証エラー（401）を生成する。
func NewUnauthorizedError(code, message string) *APIError {
	return &APIError{
		Kind:       KindUnauthorized,
		StatusCode: http.StatusUnauthorized,
		Code:       code,
		Message:    message,
	}
}

// NewForbiddenError はCSRF検証失敗などの拒否エラー（403）を生成する。
func NewForbiddenError(code, message string) *APIError {
	return &APIError{
		Kind:       KindForbidden,
		StatusCode: http.StatusForbidden,
		Code:       code,
		Message:    message,
	}
}

// NewRateLimitError はレート制限超過エラー（429）を生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Kind:       KindRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       ErrCodeRateLimitExceeded,
		Message:    "Too many requests. Please try again later.",
	}
}

// NewInternalError は内部エラー（500）を生成する。
// codeは観測用に区別し、messageは呼び出し元にそのまま返る汎用文言とする。
func NewInternalError(code, message string, cause error) *APIError {
	return &APIError{
		Kind:       KindInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}
