// Package model содержит доменные сущности сервиса заказов.
package model

import "time"

// OrderStatus описывает стадию приготовления заказа.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusInPreparation OrderStatus = "in-preparation"
	OrderStatusReady         OrderStatus = "ready"
	OrderStatusCompleted     OrderStatus = "completed"
	OrderStatusCancelled     OrderStatus = "cancelled"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// OrderItem описывает одну позицию заказа.
type OrderItem struct {
	BurgerID        string   `json:"burgerId"`
	Quantity        int      `json:"quantity"`
	ExtraToppingIDs []string `json:"extraToppingIds,omitempty"`
}

// Order описывает заказ пользователя.
type Order struct {
	ID                    string        `json:"id"`
	UserID                string        `json:"userId"`
	Items                 []OrderItem   `json:"items"`
	Nickname              string        `json:"nickname,omitempty"`
	TotalPrice            float64       `json:"totalPrice"`
	Status                OrderStatus   `json:"status"`
	PaymentStatus         PaymentStatus `json:"paymentStatus,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	EstimatedCompletionAt time.Time     `json:"estimatedCompletionAt"`
	ReadyAt               *time.Time    `json:"readyAt,omitempty"`
	CompletedAt           *time.Time    `json:"completedAt,omitempty"`
}

// Active сообщает, учитывается ли заказ в лимите активных заказов пользователя.
func (o *Order) Active() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusInPreparation
}

// Finished сообщает, достиг ли заказ терминального статуса.
func (o *Order) Finished() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// OrderPatch описывает частичное обновление заказа: меняются только заполненные поля.
type OrderPatch struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	Nickname      *string
	ReadyAt       *time.Time
	CompletedAt   *time.Time
}

// DepositKind описывает тип пополнения кошелька.
type DepositKind string

const (
	DepositKindFiat   DepositKind = "fiat"
	DepositKindCrypto DepositKind = "crypto"
)

// Wallet содержит балансы пользователя.
type Wallet struct {
	UserID        string  `json:"userId"`
	Balance       float64 `json:"balance"`
	CryptoBalance float64 `json:"cryptoBalance"`
}

// User представляет зарегистрированного пользователя.
type User struct {
	ID           string
	Name         string
	RegisteredAt time.Time
}

// Event описывает событие, рассылаемое подключённым клиентам.
// События эфемерны: доставка best-effort, без очереди и повторов.
type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}
