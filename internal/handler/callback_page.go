package handler

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"

	"github.com/hitoshi/authgate/internal/middleware"
)

// callbackPageData はコールバックページに埋め込む値。
type callbackPageData struct {
	Token        string
	UserID       string
	TargetOrigin string
	Nonce        string
}

// callbackPageTemplate はポップアップで開かれたコールバックページ。
// 結果をwindow.openerへ送信して自身を閉じる。
// html/templateがscript内の値をJS文字列としてエスケープする。
var callbackPageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Signing in</title>
</head>
<body>
<p>Authentication complete. You can close this window.</p>
<script nonce="{{.Nonce}}">
(function () {
  var payload = { token: {{.Token}}, userId: {{.UserID}} };
  if (window.opener) {
    window.opener.postMessage(payload, {{.TargetOrigin}});
  }
  window.close();
})();
</script>
</body>
</html>
`))

// renderCallbackPage はコールバックページを200で書き込む。
// インラインscriptはレスポンスごとのnonceでのみ実行を許可する。
// 描画に失敗した場合は500を書き込んでエラーを返す。
func renderCallbackPage(w http.ResponseWriter, data callbackPageData) error {
	nonce, err := newScriptNonce()
	if err != nil {
		middleware.WriteInternalServerError(w)
		return err
	}
	data.Nonce = nonce

	var buf bytes.Buffer
	if err := callbackPageTemplate.Execute(&buf, data); err != nil {
		middleware.WriteInternalServerError(w)
		return err
	}

	w.Header().Set("Content-Security-Policy",
		fmt.Sprintf("default-src 'none'; script-src 'nonce-%s'; frame-ancestors 'none'", nonce))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(buf.Bytes())
	return err
}

func newScriptNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
