// Package service реализует бизнес-логику приёма заказов и кошелька.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vchat-meme-blip/aiburger/internal/catalog"
	"github.com/vchat-meme-blip/aiburger/internal/model"
	"github.com/vchat-meme-blip/aiburger/internal/repository"
)

var (
	// ErrInvalidRequest возвращается для некорректного запроса: пустой список позиций,
	// превышение лимита количества, неизвестные идентификаторы меню.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized возвращается, если пользователь не зарегистрирован.
	ErrUnauthorized = errors.New("user is not registered")
	// ErrTooManyActiveOrders возвращается при превышении лимита активных заказов.
	ErrTooManyActiveOrders = errors.New("too many active orders")
)

const (
	maxActiveOrders  = 5
	maxTotalQuantity = 50
)

// Rand — источник случайности для расчёта времени готовности заказа.
// Выделен в интерфейс, чтобы тесты могли подставить детерминированную последовательность.
type Rand interface {
	IntN(n int) int
}

// Notifier отправляет best-effort события пользователю.
type Notifier interface {
	BroadcastToUser(userID, event string, data any)
}

// Service содержит бизнес-логику приёма заказов и расчётов.
type Service struct {
	store    repository.Store
	catalog  catalog.Catalog
	notifier Notifier
	rng      Rand
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(store repository.Store, cat catalog.Catalog, notifier Notifier, rng Rand, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		catalog:  cat,
		notifier: notifier,
		rng:      rng,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// PlaceOrderRequest описывает запрос на создание заказа.
type PlaceOrderRequest struct {
	UserID   string            `json:"userId"`
	Items    []model.OrderItem `json:"items"`
	Nickname string            `json:"nickname,omitempty"`
}

// PlaceOrder валидирует запрос, рассчитывает стоимость и сохраняет новый заказ.
// Проверки выполняются в фиксированном порядке: регистрация пользователя,
// непустой список позиций, лимит активных заказов, лимит общего количества,
// существование каждой позиции меню.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*model.Order, error) {
	if req.UserID == "" {
		return nil, ErrUnauthorized
	}
	exists, err := s.store.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, ErrUnauthorized
	}

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidRequest)
	}

	active, err := s.store.CountActiveOrders(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("count active orders: %w", err)
	}
	if active >= maxActiveOrders {
		return nil, ErrTooManyActiveOrders
	}

	totalQty := 0
	for _, item := range req.Items {
		totalQty += item.Quantity
	}
	if totalQty > maxTotalQuantity {
		return nil, fmt.Errorf("%w: total quantity exceeds %d", ErrInvalidRequest, maxTotalQuantity)
	}

	// Позиции проверяются и оцениваются параллельно. Все идентификаторы
	// проверяются до завершения запроса, побеждает первая ошибка.
	prices := make([]float64, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range req.Items {
		g.Go(func() error {
			price, err := s.priceItem(gctx, item)
			if err != nil {
				return err
			}
			prices[i] = price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total float64
	for _, p := range prices {
		total += p
	}

	now := s.now().UTC()
	order := &model.Order{
		ID:                    newOrderID(now),
		UserID:                req.UserID,
		Items:                 req.Items,
		Nickname:              req.Nickname,
		TotalPrice:            total,
		Status:                model.OrderStatusPending,
		PaymentStatus:         model.PaymentStatusUnpaid,
		CreatedAt:             now,
		EstimatedCompletionAt: now.Add(s.estimateCompletion(totalQty)),
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

func (s *Service) priceItem(ctx context.Context, item model.OrderItem) (float64, error) {
	if item.Quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity must be a positive integer for burger %q", ErrInvalidRequest, item.BurgerID)
	}

	b, err := s.catalog.Burger(ctx, item.BurgerID)
	if err != nil {
		if errors.Is(err, catalog.ErrBurgerNotFound) {
			return 0, fmt.Errorf("%w: unknown burger %q", ErrInvalidRequest, item.BurgerID)
		}
		return 0, fmt.Errorf("lookup burger: %w", err)
	}

	price := b.Price
	for _, tid := range item.ExtraToppingIDs {
		t, err := s.catalog.Topping(ctx, tid)
		if err != nil {
			if errors.Is(err, catalog.ErrToppingNotFound) {
				return 0, fmt.Errorf("%w: unknown topping %q", ErrInvalidRequest, tid)
			}
			return 0, fmt.Errorf("lookup topping: %w", err)
		}
		price += t.Price
	}

	return price * float64(item.Quantity), nil
}

// estimateCompletion выбирает срок готовности из окна [3, 5] минут,
// расширенного на (burgerCount - 2) минуты с обеих сторон при burgerCount > 2.
// Срок выбирается равномерно из целых минут окна включительно.
func (s *Service) estimateCompletion(burgerCount int) time.Duration {
	lo, hi := 3, 5
	if burgerCount > 2 {
		ext := burgerCount - 2
		lo += ext
		hi += ext
	}
	minutes := lo + s.rng.IntN(hi-lo+1)
	return time.Duration(minutes) * time.Minute
}

// Идентификатор заказа: миллисекунды создания плюс случайный суффикс от коллизий.
func newOrderID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// ListOrders возвращает заказы, удовлетворяющие фильтру.
func (s *Service) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]model.Order, error) {
	return s.store.ListOrders(ctx, filter)
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.store.GetOrder(ctx, id, "")
}

// CancelOrder отменяет заказ пользователя. Отмена доступна для любого
// незавершённого заказа; попытка отменить завершённый возвращает ErrInvalidRequest.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Finished() {
		return nil, fmt.Errorf("%w: order is already %s", ErrInvalidRequest, order.Status)
	}

	cancelled := model.OrderStatusCancelled
	updated, err := s.store.UpdateOrder(ctx, orderID, model.OrderPatch{Status: &cancelled})
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	s.notifier.BroadcastToUser(userID, "order-update", updated)
	return updated, nil
}

// GetWallet возвращает балансы пользователя.
func (s *Service) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	return s.store.GetWallet(ctx, userID)
}

// Deposit пополняет кошелёк пользователя.
func (s *Service) Deposit(ctx context.Context, userID string, amount float64, kind model.DepositKind) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidRequest)
	}
	if kind != model.DepositKindFiat && kind != model.DepositKindCrypto {
		return nil, fmt.Errorf("%w: unknown deposit type %q", ErrInvalidRequest, kind)
	}
	return s.store.Deposit(ctx, userID, amount, kind)
}

// SettlePayment оплачивает заказ с кошелька пользователя и уведомляет его.
// Повторная оплата завершается успешно без повторного списания.
func (s *Service) SettlePayment(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := s.store.SettlePayment(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	s.notifier.BroadcastToUser(userID, "payment-success", order)
	return order, nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, userID, name string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	return s.store.RegisterUser(ctx, userID, name)
}
