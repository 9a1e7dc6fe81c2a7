package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
)

// RandomString 从 alphabet 中均匀抽取 n 个字符, 使用 crypto/rand 避免取模偏差
func RandomString(alphabet string, n int) (string, error) {
	symbols := []rune(alphabet)
	if len(symbols) < 2 || n <= 0 {
		return "", errors.New("utils.RandomString: invalid alphabet or length")
	}
	max := big.NewInt(int64(len(symbols)))
	out := make([]rune, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = symbols[idx.Int64()]
	}
	return string(out), nil
}

// RandomToken 返回 nbytes 个随机字节的 base64url (无填充) 编码
func RandomToken(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenDigest 持久化用的令牌摘要
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
