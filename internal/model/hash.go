// Package model はドメインモデルを定義する。
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecureHash はSHA-256ハッシュ値を表す。
// テキスト表現は大文字16進数64文字。
type SecureHash [sha256.Size]byte

// SHA256 はバイト列のSecureHashを計算する。
func SHA256(b []byte) SecureHash {
	return SecureHash(sha256.Sum256(b))
}

// ParseSecureHash は16進数文字列をSecureHashに変換する。
// 大文字・小文字どちらも受け付ける。
func ParseSecureHash(s string) (SecureHash, error) {
	var h SecureHash
	if len(s) != hex.EncodedLen(sha256.Size) {
		return h, fmt.Errorf("%w: length %d", ErrInvalidHash, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return h, nil
}

// String は大文字16進数表現を返す。
func (h SecureHash) String() string {
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// IsZero はゼロ値かどうかを返す。
func (h SecureHash) IsZero() bool {
	return h == SecureHash{}
}
