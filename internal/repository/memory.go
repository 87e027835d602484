package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vchat-meme-blip/aiburger/internal/model"
)

// MemoryStore хранит данные в памяти процесса. Используется, когда внешняя БД
// не сконфигурирована, и в тестах. Реализует тот же контракт Store.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]*model.Order
	wallets map[string]*model.Wallet
	users   map[string]*model.User
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*model.Order),
		wallets: make(map[string]*model.Wallet),
		users:   make(map[string]*model.User),
	}
}

// Close ничего не освобождает: хранилище живёт в памяти процесса.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	if o.ReadyAt != nil {
		t := *o.ReadyAt
		c.ReadyAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CreateOrder сохраняет новый заказ.
func (s *MemoryStore) CreateOrder(ctx context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// GetOrder возвращает заказ по идентификатору с необязательной проверкой владельца.
func (s *MemoryStore) GetOrder(ctx context.Context, id, ownerID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if ownerID != "" && o.UserID != ownerID {
		return nil, ErrOrderNotFound
	}

	return cloneOrder(o), nil
}

// ListOrders возвращает заказы, удовлетворяющие фильтру, в порядке убывания времени создания.
func (s *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []model.Order
	for _, o := range s.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if len(filter.StatusIn) > 0 {
			matched := false
			for _, st := range filter.StatusIn {
				if o.Status == st {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if !filter.CreatedAfter.IsZero() && !o.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		res = append(res, *cloneOrder(o))
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	return res, nil
}

// UpdateOrder применяет частичное обновление заказа и возвращает его новое состояние.
func (s *MemoryStore) UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.PaymentStatus != nil {
		o.PaymentStatus = *patch.PaymentStatus
	}
	if patch.Nickname != nil {
		o.Nickname = *patch.Nickname
	}
	if patch.ReadyAt != nil {
		t := *patch.ReadyAt
		o.ReadyAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		o.CompletedAt = &t
	}

	return cloneOrder(o), nil
}

// DeleteOrder удаляет заказ с необязательной проверкой владельца.
func (s *MemoryStore) DeleteOrder(ctx context.Context, id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	if ownerID != "" && o.UserID != ownerID {
		return false, nil
	}

	delete(s.orders, id)
	return true, nil
}

// CountActiveOrders возвращает число активных заказов пользователя.
func (s *MemoryStore) CountActiveOrders(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, o := range s.orders {
		if o.UserID == userID && o.Active() {
			count++
		}
	}
	return count, nil
}

// кошелёк создаётся неявно с нулевыми балансами при первом обращении
func (s *MemoryStore) walletLocked(userID string) *model.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		w = &model.Wallet{UserID: userID}
		s.wallets[userID] = w
	}
	return w
}

// GetWallet возвращает кошелёк пользователя.
func (s *MemoryStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := *s.walletLocked(userID)
	return &w, nil
}

// Deposit пополняет кошелёк и возвращает обновлённые балансы.
func (s *MemoryStore) Deposit(ctx context.Context, userID string, amount float64, kind model.DepositKind) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(userID)
	switch kind {
	case model.DepositKindCrypto:
		w.CryptoBalance += amount
		w.Balance += amount * CryptoRate
	default:
		w.Balance += amount
	}

	res := *w
	return &res, nil
}

// SettlePayment списывает стоимость заказа и помечает его оплаченным под одной блокировкой.
func (s *MemoryStore) SettlePayment(ctx context.Context, userID, orderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, ErrOrderNotFound
	}

	if o.PaymentStatus == model.PaymentStatusPaid {
		return cloneOrder(o), nil
	}

	w := s.walletLocked(userID)
	if w.Balance < o.TotalPrice {
		return nil, ErrInsufficientBalance
	}

	w.Balance -= o.TotalPrice
	o.PaymentStatus = model.PaymentStatusPaid

	return cloneOrder(o), nil
}

// RegisterUser регистрирует нового пользователя.
func (s *MemoryStore) RegisterUser(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return ErrUserExists
	}
	s.users[userID] = &model.User{ID: userID, Name: name, RegisteredAt: time.Now()}
	return nil
}

// UserExists сообщает, зарегистрирован ли пользователь.
func (s *MemoryStore) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[userID]
	return ok, nil
}
