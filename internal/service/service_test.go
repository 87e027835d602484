package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vchat-meme-blip/aiburger/internal/catalog"
	"github.com/vchat-meme-blip/aiburger/internal/model"
	"github.com/vchat-meme-blip/aiburger/internal/repository"
)

// stubRand возвращает фиксированное значение, ограниченное сверху аргументом.
type stubRand struct {
	n int
}

func (s stubRand) IntN(n int) int {
	if s.n >= n {
		return n - 1
	}
	return s.n
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string
}

func (s *stubNotifier) BroadcastToUser(userID, event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, userID+":"+event)
}

func (s *stubNotifier) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// stubCatalog отдаёт единственный бургер с фиксированной ценой.
type stubCatalog struct {
	price float64
}

func (s stubCatalog) Burger(ctx context.Context, id string) (*catalog.Burger, error) {
	if id != "b1" {
		return nil, catalog.ErrBurgerNotFound
	}
	return &catalog.Burger{ID: id, Price: s.price}, nil
}

func (s stubCatalog) Topping(ctx context.Context, id string) (*catalog.Topping, error) {
	return nil, catalog.ErrToppingNotFound
}

func newTestService(t *testing.T, cat catalog.Catalog, rng Rand) (*Service, *repository.MemoryStore, *stubNotifier) {
	t.Helper()

	store := repository.NewMemoryStore()
	notifier := &stubNotifier{}
	svc := NewService(store, cat, notifier, rng, zap.NewNop())

	if err := store.RegisterUser(context.Background(), "u1", "test user"); err != nil {
		t.Fatalf("register user: %v", err)
	}

	return svc, store, notifier
}

func TestPlaceOrder_ComputesExactPrice(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{n: 0})

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []model.OrderItem{
			// (8.50 + 1.50 + 1.00) * 2 = 22.00
			{BurgerID: "classic", Quantity: 2, ExtraToppingIDs: []string{"bacon", "extra-cheese"}},
			// 9.50
			{BurgerID: "cheese", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if order.TotalPrice != 31.50 {
		t.Fatalf("TotalPrice = %v, want 31.50", order.TotalPrice)
	}
	if order.Status != model.OrderStatusPending {
		t.Fatalf("Status = %q, want pending", order.Status)
	}
	if order.PaymentStatus != model.PaymentStatusUnpaid {
		t.Fatalf("PaymentStatus = %q, want unpaid", order.PaymentStatus)
	}
	if order.ID == "" {
		t.Fatalf("order id must be generated")
	}
}

func TestPlaceOrder_EstimatedCompletionWindow(t *testing.T) {
	tests := []struct {
		name        string
		quantity    int
		draw        int
		wantMinutes int
	}{
		{name: "base window lower bound", quantity: 1, draw: 0, wantMinutes: 3},
		{name: "base window upper bound", quantity: 2, draw: 2, wantMinutes: 5},
		{name: "extended window lower bound", quantity: 4, draw: 0, wantMinutes: 5},
		{name: "extended window upper bound", quantity: 4, draw: 2, wantMinutes: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{n: tt.draw})

			order, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				UserID: "u1",
				Items:  []model.OrderItem{{BurgerID: "classic", Quantity: tt.quantity}},
			})
			if err != nil {
				t.Fatalf("PlaceOrder error: %v", err)
			}

			want := order.CreatedAt.Add(time.Duration(tt.wantMinutes) * time.Minute)
			if !order.EstimatedCompletionAt.Equal(want) {
				t.Fatalf("EstimatedCompletionAt = %v, want %v", order.EstimatedCompletionAt, want)
			}
		})
	}
}

func TestPlaceOrder_UnregisteredUser(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "stranger",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 1}},
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPlaceOrder_UnknownIDsAreNamed(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "no-such-burger", Quantity: 1}},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "no-such-burger") {
		t.Fatalf("error must name the offending id, got %q", err.Error())
	}

	_, err = svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 1, ExtraToppingIDs: []string{"no-such-topping"}}},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "no-such-topping") {
		t.Fatalf("error must name the offending id, got %q", err.Error())
	}
}

func TestPlaceOrder_QuantityBoundary(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 50}},
	})
	if err != nil {
		t.Fatalf("quantity 50 must be accepted, got %v", err)
	}

	_, err = svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []model.OrderItem{
			{BurgerID: "classic", Quantity: 50},
			{BurgerID: "cheese", Quantity: 1},
		},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("quantity 51 must be rejected, got %v", err)
	}
}

func TestPlaceOrder_NonPositiveQuantity(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 0}},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPlaceOrder_ActiveOrderCap(t *testing.T) {
	svc, store, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	var first *model.Order
	for i := 0; i < 5; i++ {
		order, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
			UserID: "u1",
			Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("order %d: %v", i+1, err)
		}
		if first == nil {
			first = order
		}
	}

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 1}},
	})
	if !errors.Is(err, ErrTooManyActiveOrders) {
		t.Fatalf("expected ErrTooManyActiveOrders, got %v", err)
	}

	// Лимит учитывает только активные заказы: после готовности одного из
	// пяти новый заказ принимается.
	ready := model.OrderStatusReady
	if _, err := store.UpdateOrder(context.Background(), first.ID, model.OrderPatch{Status: &ready}); err != nil {
		t.Fatalf("advance order: %v", err)
	}

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 1}},
	}); err != nil {
		t.Fatalf("order after one became ready: %v", err)
	}
}

func TestDeposit_CryptoIncrementsBothBalances(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	wallet, err := svc.Deposit(context.Background(), "u1", 0.001, model.DepositKindCrypto)
	if err != nil {
		t.Fatalf("Deposit error: %v", err)
	}

	if wallet.CryptoBalance != 0.001 {
		t.Fatalf("CryptoBalance = %v, want 0.001", wallet.CryptoBalance)
	}
	if wallet.Balance != 60 {
		t.Fatalf("Balance = %v, want 60", wallet.Balance)
	}
}

func TestDeposit_NonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	for _, amount := range []float64{0, -5} {
		if _, err := svc.Deposit(context.Background(), "u1", amount, model.DepositKindFiat); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("amount %v: expected ErrInvalidRequest, got %v", amount, err)
		}
	}
}

func TestDeposit_UnknownKind(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	if _, err := svc.Deposit(context.Background(), "u1", 10, "gold"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSettlePayment_FullScenario(t *testing.T) {
	svc, _, notifier := newTestService(t, stubCatalog{price: 12.50}, stubRand{})

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "b1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	// Пустой кошелёк: оплата отклоняется, заказ остаётся неоплаченным.
	_, err = svc.SettlePayment(context.Background(), "u1", order.ID)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	got, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if got.PaymentStatus == model.PaymentStatusPaid {
		t.Fatalf("order must stay unpaid after failed settlement")
	}

	wallet, err := svc.Deposit(context.Background(), "u1", 15, model.DepositKindFiat)
	if err != nil {
		t.Fatalf("Deposit error: %v", err)
	}
	if wallet.Balance != 15 {
		t.Fatalf("Balance = %v, want 15", wallet.Balance)
	}

	paid, err := svc.SettlePayment(context.Background(), "u1", order.ID)
	if err != nil {
		t.Fatalf("SettlePayment error: %v", err)
	}
	if paid.PaymentStatus != model.PaymentStatusPaid {
		t.Fatalf("PaymentStatus = %q, want paid", paid.PaymentStatus)
	}

	wallet, err = svc.GetWallet(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetWallet error: %v", err)
	}
	if wallet.Balance != 2.50 {
		t.Fatalf("Balance = %v, want 2.50", wallet.Balance)
	}

	found := false
	for _, ev := range notifier.Events() {
		if ev == "u1:payment-success" {
			found = true
		}
	}
	if !found {
		t.Fatalf("payment-success event must be sent to the user, got %v", notifier.Events())
	}
}

func TestSettlePayment_IdempotentOnPaidOrder(t *testing.T) {
	svc, _, _ := newTestService(t, stubCatalog{price: 10}, stubRand{})

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "b1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if _, err := svc.Deposit(context.Background(), "u1", 25, model.DepositKindFiat); err != nil {
		t.Fatalf("Deposit error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.SettlePayment(context.Background(), "u1", order.ID); err != nil {
			t.Fatalf("settle %d: %v", i+1, err)
		}
	}

	wallet, err := svc.GetWallet(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetWallet error: %v", err)
	}
	if wallet.Balance != 15 {
		t.Fatalf("Balance = %v, want 15: wallet must be debited exactly once", wallet.Balance)
	}
}

func TestSettlePayment_UnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(t, stubCatalog{price: 10}, stubRand{})

	_, err := svc.SettlePayment(context.Background(), "u1", "missing")
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	svc, store, notifier := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []model.OrderItem{{BurgerID: "classic", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if _, err := svc.CancelOrder(context.Background(), "someone-else", order.ID); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("cancel by non-owner: expected ErrOrderNotFound, got %v", err)
	}

	cancelled, err := svc.CancelOrder(context.Background(), "u1", order.ID)
	if err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}
	if cancelled.Status != model.OrderStatusCancelled {
		t.Fatalf("Status = %q, want cancelled", cancelled.Status)
	}

	if _, err := svc.CancelOrder(context.Background(), "u1", order.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("cancel of cancelled order: expected ErrInvalidRequest, got %v", err)
	}

	// Отменённый заказ не учитывается в лимите активных.
	count, err := store.CountActiveOrders(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CountActiveOrders error: %v", err)
	}
	if count != 0 {
		t.Fatalf("active count = %d, want 0", count)
	}

	if events := notifier.Events(); len(events) == 0 {
		t.Fatalf("cancel must notify the owner")
	}
}

func TestRegisterUser_Duplicate(t *testing.T) {
	svc, _, _ := newTestService(t, catalog.NewStaticCatalog(), stubRand{})

	if err := svc.RegisterUser(context.Background(), "u1", "again"); !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}
