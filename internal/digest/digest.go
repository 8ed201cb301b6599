// Package digest 内容哈希：文件字节的 32 字节 BLAKE3 摘要，以 64 位小写十六进制表示
package digest

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Size 摘要字节数
const Size = 32

// HexSize 十六进制表示的长度
const HexSize = Size * 2

// ErrInvalidHash 声明的哈希不是 64 位十六进制
var ErrInvalidHash = errors.New("hash must be 64 hex characters")

// Hash BLAKE3-256 摘要
type Hash [Size]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse 解析十六进制哈希，接受大写
func Parse(s string) (Hash, error) {
	var h Hash
	if len(s) != HexSize {
		return h, ErrInvalidHash
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, ErrInvalidHash
	}
	return h, nil
}

// Normalize 校验声明的哈希并返回小写形式。存储路径由它生成，只有十六进制字符会进入文件系统
func Normalize(s string) (string, error) {
	h, err := Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// New 流式哈希器
func New() hash.Hash {
	return blake3.New()
}

// Sum 一次性计算
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

func SumHex(data []byte) string {
	return Sum(data).String()
}

// FromHasher 从 New 返回的哈希器中取出摘要
func FromHasher(h hash.Hash) Hash {
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Equal 常量时间比较
func Equal(a, b Hash) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// EqualHex 与十六进制哈希比较，非法输入一律不相等
func EqualHex(a Hash, b string) bool {
	parsed, err := Parse(b)
	if err != nil {
		return false
	}
	return Equal(a, parsed)
}
