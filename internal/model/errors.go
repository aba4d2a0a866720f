package model

import "fmt"

// ErrorKind はクライアントに返すエラーの分類。
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindCaptcha            ErrorKind = "captcha"
	KindConflict           ErrorKind = "conflict"
	KindAuthentication     ErrorKind = "authentication"
	KindOAuth              ErrorKind = "oauth"
	KindMethodNotSupported ErrorKind = "method_not_supported"
	KindInternal           ErrorKind = "internal"
)

// APIError はクライアントに返すエラーを表す。
// Messageはレスポンスボディの {"error": ...} にそのまま使われる。
type APIError struct {
	Kind    ErrorKind
	Message string
	Err     error // ログ用の原因。クライアントには返さない
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{Kind: KindValidation, Message: message}
}

// NewCaptchaFailedError はreCAPTCHA検証失敗エラーを生成する。
func NewCaptchaFailedError() *APIError {
	return &APIError{Kind: KindCaptcha, Message: "Captcha verification failed"}
}

// NewEmailConflictError はメールアドレス重複エラーを生成する。
func NewEmailConflictError() *APIError {
	return &APIError{Kind: KindConflict, Message: "Email already registered"}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Kind: KindAuthentication, Message: "Invalid credentials"}
}

// NewUnknownProviderError は未対応プロバイダーのエラーを生成する。
func NewUnknownProviderError() *APIError {
	return &APIError{Kind: KindOAuth, Message: "Unknown provider"}
}

// NewInvalidCallbackError はOAuthコールバックのパラメータ不備エラーを生成する。
func NewInvalidCallbackError() *APIError {
	return &APIError{Kind: KindValidation, Message: "Invalid OAuth callback"}
}

// NewOAuthFailedError はOAuth認証失敗エラーを生成する。
func NewOAuthFailedError(cause error) *APIError {
	return &APIError{Kind: KindOAuth, Message: "OAuth authentication failed", Err: cause}
}

// NewMethodNotAllowedError は未対応HTTPメソッドのエラーを生成する。
func NewMethodNotAllowedError() *APIError {
	return &APIError{Kind: KindMethodNotSupported, Message: "Method not allowed"}
}

// NewInternalError は内部エラーを生成する。詳細はErrにのみ保持する。
func NewInternalError(cause error) *APIError {
	return &APIError{Kind: KindInternal, Message: "Internal server error", Err: cause}
}

// NewInvalidTokenError はBearerトークンが無い、または検証に失敗した場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{Kind: KindAuthentication, Message: "Invalid token"}
}
