// Package password はパスワードの一方向ハッシュと照合を提供する。
// 保存形式はPHC文字列（$argon2id$v=19$m=...,t=...,p=...$salt$key）。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params はargon2idのコストパラメータ。
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams はOWASP推奨値に沿ったデフォルトのパラメータ。
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// 保存値から復元するパラメータの上限。
const (
	maxMemory     = 1024 * 1024 // KiB
	maxIterations = 64
)

// Hasher はargon2idによるパスワードハッシュを生成・照合する。
type Hasher struct {
	params Params
}

// NewHasher はHasherを生成する。
func NewHasher(params Params) *Hasher {
	return &Hasher{params: params}
}

// Hash は平文パスワードをソルト付きでハッシュし、PHC形式の文字列を返す。
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify は平文パスワードが保存済みハッシュと一致するかを返す。
// パラメータは保存値から復元するため、コスト変更前のハッシュも照合できる。
// 形式不正の値は常にfalseを返す。
func (h *Hasher) Verify(plaintext, encoded string) bool {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return false
	}

	other := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1
}

// decode はPHC形式の文字列をパラメータ・ソルト・鍵に分解する。
func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("unsupported hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("incompatible argon2 version %d", version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("invalid params: %w", err)
	}
	// argon2.IDKeyは範囲外の値でpanicする
	if p.Iterations < 1 || p.Iterations > maxIterations {
		return Params{}, nil, nil, fmt.Errorf("iterations out of range: %d", p.Iterations)
	}
	if p.Parallelism < 1 {
		return Params{}, nil, nil, fmt.Errorf("parallelism out of range: %d", p.Parallelism)
	}
	if p.Memory < 8*uint32(p.Parallelism) || p.Memory > maxMemory {
		return Params{}, nil, nil, fmt.Errorf("memory out of range: %d", p.Memory)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("invalid salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("invalid key: %w", err)
	}
	if len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("empty key")
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
