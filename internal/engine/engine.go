// Package engine реализует машину статусов, продвигающую заказы по стадиям приготовления.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vchat-meme-blip/aiburger/internal/audit"
	"github.com/vchat-meme-blip/aiburger/internal/model"
	"github.com/vchat-meme-blip/aiburger/internal/repository"
)

// Store описывает контракт доступа к данным, используемый машиной статусов.
type Store interface {
	ListOrders(ctx context.Context, filter repository.OrderFilter) ([]model.Order, error)
	UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (*model.Order, error)
}

// Notifier рассылает best-effort события клиентам.
type Notifier interface {
	BroadcastToUser(userID, event string, data any)
	BroadcastToAll(event string, data any)
}

// PickupRegistrar регистрирует завершённый заказ у партнёра по доставке.
type PickupRegistrar interface {
	RegisterPickup(ctx context.Context, order *model.Order) error
}

// Recorder принимает записи аудита переходов статусов.
type Recorder interface {
	Record(rec audit.Record)
}

const (
	// pending → in-preparation: гарантированный потолок и нижняя граница броска монеты.
	pendingCeiling = 3 * time.Minute
	pendingFloor   = 1 * time.Minute
	// in-preparation → ready: окно вокруг расчётного времени готовности.
	readyWindow = 3 * time.Minute
	// ready → completed.
	completeCeiling = 2 * time.Minute
	completeFloor   = 1 * time.Minute

	// Вероятность рассылки flash-deal на одном тике, в процентах.
	flashDealChance = 10
)

var flashDeals = []string{
	"Flash deal! Free extra cheese on any burger for the next 10 minutes!",
	"Lightning offer: second burger at half price, right now!",
	"Hot from the grill: free bacon upgrade for the next orders!",
	"Surprise deal: double smash for the price of a classic!",
}

// Engine периодически продвигает активные заказы по стадиям приготовления.
// Каждый переход сохраняется независимо и рассылается владельцу заказа.
type Engine struct {
	store    Store
	notifier Notifier
	delivery PickupRegistrar
	auditor  Recorder
	rng      Rand
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	running  atomic.Bool
	failures atomic.Int64
}

// New создаёт машину статусов. delivery и auditor могут быть nil.
func New(store Store, notifier Notifier, delivery PickupRegistrar, auditor Recorder, rng Rand, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		delivery: delivery,
		auditor:  auditor,
		rng:      rng,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run запускает периодические тики до отмены контекста.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick выполняет один проход по активным заказам и возвращает число продвинутых.
// Если предыдущий тик ещё выполняется, проход пропускается.
func (e *Engine) Tick(ctx context.Context) int {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("previous tick still running, skipping")
		return 0
	}
	defer e.running.Store(false)

	// Тик ограничен по времени, чтобы медленное хранилище не приводило
	// к неограниченным проходам.
	ctx, cancel := context.WithTimeout(ctx, e.interval)
	defer cancel()

	orders, err := e.store.ListOrders(ctx, repository.OrderFilter{
		StatusIn: []model.OrderStatus{
			model.OrderStatusPending,
			model.OrderStatusInPreparation,
			model.OrderStatusReady,
		},
	})
	if err != nil {
		e.logger.Error("list active orders", zap.Error(err))
		return 0
	}

	now := e.now().UTC()

	var (
		advanced atomic.Int64
		wg       sync.WaitGroup
	)
	for _, order := range orders {
		patch, fire := e.evaluate(&order, now)
		if !fire {
			continue
		}

		// Переходы сохраняются параллельно, ошибка одного заказа
		// не блокирует остальные.
		wg.Add(1)
		go func(order model.Order, patch model.OrderPatch) {
			defer wg.Done()
			if e.apply(ctx, &order, patch) {
				advanced.Add(1)
			}
		}(order, patch)
	}
	wg.Wait()

	e.rollFlashDeal()

	return int(advanced.Load())
}

// evaluate применяет правило перехода для текущего статуса заказа.
// Броски монеты выполняются только внутри допустимого окна, поэтому
// последовательность бросков детерминирована для данного набора заказов.
func (e *Engine) evaluate(o *model.Order, now time.Time) (model.OrderPatch, bool) {
	switch o.Status {
	case model.OrderStatusPending:
		elapsed := now.Sub(o.CreatedAt)
		if elapsed > pendingCeiling || (elapsed >= pendingFloor && e.rng.CoinFlip()) {
			st := model.OrderStatusInPreparation
			return model.OrderPatch{Status: &st}, true
		}

	case model.OrderStatusInPreparation:
		d := now.Sub(o.EstimatedCompletionAt)
		abs := d
		if abs < 0 {
			abs = -abs
		}
		if d > readyWindow || (abs <= readyWindow && e.rng.CoinFlip()) {
			st := model.OrderStatusReady
			t := now
			return model.OrderPatch{Status: &st, ReadyAt: &t}, true
		}

	case model.OrderStatusReady:
		if o.ReadyAt == nil {
			return model.OrderPatch{}, false
		}
		elapsed := now.Sub(*o.ReadyAt)
		if elapsed > completeCeiling || (elapsed >= completeFloor && e.rng.CoinFlip()) {
			st := model.OrderStatusCompleted
			t := now
			return model.OrderPatch{Status: &st, CompletedAt: &t}, true
		}
	}

	return model.OrderPatch{}, false
}

func (e *Engine) apply(ctx context.Context, o *model.Order, patch model.OrderPatch) bool {
	updated, err := e.store.UpdateOrder(ctx, o.ID, patch)
	if err != nil {
		// Переход не откатывается: заказ будет переоценён из своего
		// текущего состояния на следующем тике.
		e.failures.Add(1)
		e.logger.Error("persist transition", zap.String("order", o.ID), zap.Error(err))
		return false
	}

	e.notifier.BroadcastToUser(updated.UserID, "order-update", updated)

	if e.auditor != nil {
		e.auditor.Record(audit.Record{
			At:      e.now().UTC(),
			OrderID: updated.ID,
			UserID:  updated.UserID,
			From:    string(o.Status),
			To:      string(updated.Status),
		})
	}

	if updated.Status == model.OrderStatusCompleted && e.delivery != nil {
		if err := e.delivery.RegisterPickup(ctx, updated); err != nil {
			e.logger.Warn("register pickup", zap.String("order", updated.ID), zap.Error(err))
		}
	}

	return true
}

func (e *Engine) rollFlashDeal() {
	if e.rng.IntN(100) >= flashDealChance {
		return
	}

	msg := flashDeals[e.rng.IntN(len(flashDeals))]
	e.notifier.BroadcastToAll("flash-deal", map[string]string{"message": msg})
}

// Failures возвращает счётчик неуспешных сохранений переходов.
func (e *Engine) Failures() int64 {
	return e.failures.Load()
}
