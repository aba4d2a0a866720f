package auth

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/authgate/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Credentials はパスワード認証の入力。
type Credentials struct {
	Email        string `validate:"required,max=255,email"`
	Password     string `validate:"required,max=1024"`
	CaptchaToken string
	UserAgent    string
}

// NormalizeEmail はメールアドレスを前後空白除去・小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateCredentials は入力を検証し、クライアント向けのエラーに変換する。
// 必須項目の欠落は他の不備より優先して報告する。
func validateCredentials(c Credentials) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewInternalError(err)
	}

	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return model.NewValidationError("Email and password required")
		}
	}

	switch verrs[0].Field() {
	case "Password":
		return model.NewValidationError("Password is too long")
	default:
		return model.NewValidationError("Invalid email address")
	}
}
