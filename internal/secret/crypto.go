// Package secret 负责交易所与模型凭证的解密。
// 密文格式为 v1:<base64url(nonce + ciphertext)>，密钥由主密钥经 HKDF 派生。
// 明文只在单次调用期间驻留内存，绝不落盘。
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = "v1"
	nonceSize       = 12
	keySize         = 32
	hkdfInfo        = "ai-crypto-trader-secrets-v1"
)

// Crypto 使用 AES-256-GCM 加解密敏感数据。
type Crypto struct {
	aead cipher.AEAD
}

// NewCrypto 从主密钥派生加密密钥并初始化 AEAD。
func NewCrypto(masterKey string) (*Crypto, error) {
	if len(masterKey) < keySize {
		return nil, errors.New("secret: master key 长度不得少于32字节")
	}

	reader := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("secret: 派生密钥失败: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: 初始化 AES 失败: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: 初始化 GCM 失败: %w", err)
	}

	return &Crypto{aead: aead}, nil
}

// Encrypt 加密明文并返回带版本号的密文字符串。
func (c *Crypto) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("secret: 明文不能为空")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: 生成 nonce 失败: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, ciphertext...)
	encoded := base64.URLEncoding.EncodeToString(combined)

	return envelopeVersion + ":" + encoded, nil
}

// Decrypt 解密带版本号的密文字符串。
func (c *Crypto) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", errors.New("secret: 密文不能为空")
	}

	version, encoded, found := strings.Cut(encrypted, ":")
	if !found || version != envelopeVersion {
		return "", fmt.Errorf("secret: 不支持的密文版本: %q", version)
	}

	combined, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secret: 密文解码失败: %w", err)
	}
	if len(combined) <= nonceSize {
		return "", errors.New("secret: 密文长度不足")
	}

	nonce := combined[:nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, combined[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("secret: 解密失败: %w", err)
	}

	return string(plaintext), nil
}
