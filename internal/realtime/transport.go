package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Transport описывает внешний канал доставки realtime-событий.
// Зависимость необязательная: при отсутствии транспорта рассылка вырождается
// в no-op, а выдача токенов подключения завершается ошибкой.
type Transport interface {
	IssueUserScopedToken(userID string, ttl time.Duration) (string, error)
	SendToUser(ctx context.Context, userID string, payload []byte) error
	SendToAll(ctx context.Context, payload []byte) error
	Close() error
}

const (
	userChannelPrefix = "aiburger:user:"
	broadcastChannel  = "aiburger:all"
)

// RedisTransport доставляет события через каналы Redis pub/sub.
// Клиенты подключаются по выданному negotiate URL и слушают свой канал.
type RedisTransport struct {
	client    *redis.Client
	signer    *TokenSigner
	publicURL string
}

// NewRedisTransport создаёт транспорт поверх Redis по указанному адресу.
func NewRedisTransport(addr, publicURL string, signer *TokenSigner) *RedisTransport {
	return &RedisTransport{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		signer:    signer,
		publicURL: publicURL,
	}
}

// IssueUserScopedToken выпускает URL подключения с токеном, ограниченным пользователем.
func (t *RedisTransport) IssueUserScopedToken(userID string, ttl time.Duration) (string, error) {
	token := t.signer.Sign(userID, ttl)
	return t.publicURL + "/realtime/connect?access_token=" + token, nil
}

// SendToUser публикует событие в персональный канал пользователя.
func (t *RedisTransport) SendToUser(ctx context.Context, userID string, payload []byte) error {
	return t.client.Publish(ctx, userChannelPrefix+userID, payload).Err()
}

// SendToAll публикует событие в общий канал всех подключённых клиентов.
func (t *RedisTransport) SendToAll(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, broadcastChannel, payload).Err()
}

// Close закрывает соединение с Redis.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
