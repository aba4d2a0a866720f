// Package token は署名付きの自己完結型ベアラートークン（HS256 JWT）を発行・検証する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL はトークンの有効期間（30日）。
const DefaultTTL = 30 * 24 * time.Hour

// ErrEmptySecret は署名鍵が未設定の場合のエラー。
var ErrEmptySecret = errors.New("token signing secret is empty")

// Claims はトークンのペイロード。
// JSON表現は {"user_id":...,"email":...,"exp":...} となる。
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Config はIssuerの設定。
type Config struct {
	Secret string
	TTL    time.Duration

	// テスト用に現在時刻をオーバーライド可能
	Now func() time.Time
}

// Issuer はトークンの発行と検証を行う。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
// 署名鍵が空の場合は固定のデフォルト鍵にフォールバックせずエラーを返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

// Issue はユーザーIDとメールアドレスを埋め込んだトークンを発行し、トークンと有効期限を返す。
func (i *Issuer) Issue(userID, email string) (string, time.Time, error) {
	exp := jwt.NewNumericDate(i.now().Add(i.ttl))

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: exp,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, exp.Time, nil
}

// Verify はトークンの署名と有効期限を検証し、ペイロードを返す。
// HS256以外のアルゴリズム、署名不一致、期限切れ、expなしはすべてエラーとなる。
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return claims, nil
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
