// Package repository содержит реализации хранилища заказов и кошельков.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vchat-meme-blip/aiburger/internal/model"
)

var (
	// ErrOrderNotFound возвращается, если заказ отсутствует или принадлежит другому пользователю.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUserExists возвращается при повторной регистрации пользователя.
	ErrUserExists = errors.New("user already exists")
	// ErrInsufficientBalance возвращается при попытке оплаты, превышающей баланс кошелька.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// OrderFilter задаёт условия выборки заказов.
type OrderFilter struct {
	UserID       string
	StatusIn     []model.OrderStatus
	CreatedAfter time.Time
}

// Store описывает контракт доступа к данным. Реализации: PostgreSQL и in-memory,
// вариант выбирается при старте по конфигурации.
type Store interface {
	Close() error

	CreateOrder(ctx context.Context, order *model.Order) error
	// GetOrder возвращает заказ по идентификатору. Если ownerID непустой и не
	// совпадает с владельцем, заказ считается отсутствующим.
	GetOrder(ctx context.Context, id, ownerID string) (*model.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error)
	// UpdateOrder применяет частичное обновление: меняются только заполненные поля patch.
	UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (*model.Order, error)
	DeleteOrder(ctx context.Context, id, ownerID string) (bool, error)
	CountActiveOrders(ctx context.Context, userID string) (int, error)

	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	Deposit(ctx context.Context, userID string, amount float64, kind model.DepositKind) (*model.Wallet, error)
	// SettlePayment списывает стоимость заказа с кошелька и помечает заказ оплаченным
	// одной логической транзакцией. Повторный вызов для оплаченного заказа
	// завершается успешно без повторного списания.
	SettlePayment(ctx context.Context, userID, orderID string) (*model.Order, error)

	RegisterUser(ctx context.Context, userID, name string) error
	UserExists(ctx context.Context, userID string) (bool, error)
}

// CryptoRate — фиксированный демонстрационный курс конвертации криптовалюты
// в расчётную единицу кошелька.
const CryptoRate = 60000.0
