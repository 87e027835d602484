// Package realtime реализует рассылку push-уведомлений подключённым клиентам.
package realtime

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenSigner выпускает и проверяет подписанные токены подключения,
// ограниченные одним пользователем и временем жизни.
type TokenSigner struct {
	secretKey []byte
}

// NewTokenSigner создаёт подписчик токенов с указанным секретным ключом.
// Без секрета генерируется случайный ключ: токены действуют только в пределах
// процесса и не могут быть подделаны по известной константе.
func NewTokenSigner(secret string) *TokenSigner {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("generate signer key: %v", err))
		}
	}

	return &TokenSigner{
		secretKey: key,
	}
}

// Sign выпускает токен для указанного пользователя со сроком действия ttl.
func (s *TokenSigner) Sign(userID string, ttl time.Duration) string {
	expiresAt := time.Now().Add(ttl).Unix()
	payload := base64.RawURLEncoding.EncodeToString([]byte(userID)) + "." + strconv.FormatInt(expiresAt, 10)
	return payload + "." + s.signPayload(payload)
}

// Verify проверяет подпись и срок действия токена и возвращает идентификатор пользователя.
func (s *TokenSigner) Verify(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(s.signPayload(payload))) {
		return "", false
	}

	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() > expiresAt {
		return "", false
	}

	userID, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}

	return string(userID), true
}

func (s *TokenSigner) signPayload(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
