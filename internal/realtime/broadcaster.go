package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vchat-meme-blip/aiburger/internal/model"
)

// ErrTransportUnavailable возвращается, когда realtime-транспорт не сконфигурирован.
var ErrTransportUnavailable = errors.New("realtime transport is not configured")

// TokenTTL — срок действия токена подключения, выдаваемого negotiate.
const TokenTTL = 60 * time.Minute

// Broadcaster рассылает события подключённым клиентам. Доставка best-effort:
// ошибки отправки логируются и никогда не распространяются на вызывающую сторону.
type Broadcaster struct {
	transport  Transport
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewBroadcaster создаёт рассыльщик. transport может быть nil — тогда рассылка
// вырождается в no-op, а Negotiate возвращает ErrTransportUnavailable.
func NewBroadcaster(transport Transport, dispatcher *Dispatcher, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		transport:  transport,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Negotiate выпускает URL подключения, ограниченный указанным пользователем.
func (b *Broadcaster) Negotiate(userID string) (string, error) {
	if b.transport == nil {
		return "", ErrTransportUnavailable
	}
	return b.transport.IssueUserScopedToken(userID, TokenTTL)
}

// BroadcastToUser отправляет событие одному пользователю.
func (b *Broadcaster) BroadcastToUser(userID, event string, data any) {
	b.send(event, data, func(ctx context.Context, payload []byte) error {
		return b.transport.SendToUser(ctx, userID, payload)
	})
}

// BroadcastToAll отправляет событие всем подключённым клиентам.
func (b *Broadcaster) BroadcastToAll(event string, data any) {
	b.send(event, data, func(ctx context.Context, payload []byte) error {
		return b.transport.SendToAll(ctx, payload)
	})
}

func (b *Broadcaster) send(event string, data any, sendFn func(context.Context, []byte) error) {
	if b.transport == nil {
		return
	}

	payload, err := json.Marshal(model.Event{
		Type:  "event",
		Event: event,
		Data:  data,
	})
	if err != nil {
		b.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	b.dispatcher.Submit(func(ctx context.Context) {
		if err := sendFn(ctx, payload); err != nil {
			b.logger.Warn("send event", zap.String("event", event), zap.Error(err))
		}
	})
}
