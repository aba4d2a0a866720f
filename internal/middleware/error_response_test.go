package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authgate/internal/model"
)

// TestWriteError_StatusByKind はエラー種別ごとのステータスコードとボディを検証する。
func TestWriteError_StatusByKind(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"入力不備", model.NewValidationError("Email and password required"), http.StatusBadRequest, "Email and password required"},
		{"captcha", model.NewCaptchaFailedError(), http.StatusBadRequest, "Captcha verification failed"},
		{"重複", model.NewEmailConflictError(), http.StatusBadRequest, "Email already registered"},
		{"認証失敗", model.NewInvalidCredentialsError(), http.StatusUnauthorized, "Invalid credentials"},
		{"OAuth", model.NewUnknownProviderError(), http.StatusBadRequest, "Unknown provider"},
		{"メソッド", model.NewMethodNotAllowedError(), http.StatusMethodNotAllowed, "Method not allowed"},
		{"内部", model.NewInternalError(errors.New("pq: connection refused")), http.StatusInternalServerError, "Internal server error"},
		{"ラップされたAPIError", fmt.Errorf("handler: %w", model.NewInvalidCredentialsError()), http.StatusUnauthorized, "Invalid credentials"},
		{"素のerror", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteError(w, tt.err)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["error"] != tt.wantBody {
				t.Errorf("error = %q, want %q", body["error"], tt.wantBody)
			}
			if len(body) != 1 {
				t.Errorf("body has extra fields: %v", body)
			}
		})
	}
}

// TestInternalServerError_ReturnsGenericMessage は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsGenericMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Error != "Internal server error" {
		t.Errorf("error = %q", body.Error)
	}
}
