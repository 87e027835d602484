// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vchat-meme-blip/aiburger/internal/model"
	"github.com/vchat-meme-blip/aiburger/internal/realtime"
	"github.com/vchat-meme-blip/aiburger/internal/repository"
	"github.com/vchat-meme-blip/aiburger/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, userID, name string) error
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*model.Order, error)
	ListOrders(ctx context.Context, filter repository.OrderFilter) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	Deposit(ctx context.Context, userID string, amount float64, kind model.DepositKind) (*model.Wallet, error)
	SettlePayment(ctx context.Context, userID, orderID string) (*model.Order, error)
}

// Negotiator выпускает URL подключения к realtime-каналу.
type Negotiator interface {
	Negotiate(userID string) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service    Service
	negotiator Negotiator
	logger     *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, n Negotiator, logger *zap.Logger) *Handler {
	return &Handler{
		service:    s,
		negotiator: n,
		logger:     logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError сопоставляет вид ошибки с HTTP-статусом. Внутренние ошибки
// не раскрываются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, repository.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, repository.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTooManyActiveOrders):
		status = http.StatusTooManyRequests
	case errors.Is(err, realtime.ErrTransportUnavailable):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type registerUserRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// RegisterUser регистрирует нового пользователя.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	if err := h.service.RegisterUser(r.Context(), req.UserID, req.Name); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// PlaceOrder принимает и создаёт новый заказ.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req service.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// ListOrders возвращает список заказов по фильтру из query-параметров.
// Без фильтра по userId идентификаторы владельцев в ответе не раскрываются.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := repository.OrderFilter{
		UserID: r.URL.Query().Get("userId"),
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.StatusIn = append(filter.StatusIn, model.OrderStatus(strings.TrimSpace(st)))
		}
	}

	if raw := r.URL.Query().Get("last"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid last duration"})
			return
		}
		filter.CreatedAfter = time.Now().Add(-d)
	}

	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if filter.UserID == "" {
		for i := range orders {
			orders[i].UserID = ""
		}
	}

	if orders == nil {
		orders = []model.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetOrder возвращает один заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// CancelOrder отменяет заказ от имени его владельца.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	order, err := h.service.CancelOrder(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

type payOrderRequest struct {
	UserID string `json:"userId"`
}

// PayOrder оплачивает заказ с кошелька пользователя.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req payOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	order, err := h.service.SettlePayment(r.Context(), req.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetWallet возвращает балансы пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

type depositRequest struct {
	UserID string  `json:"userId"`
	Amount float64 `json:"amount"`
	Type   string  `json:"type"`
}

// Deposit пополняет кошелёк пользователя.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	wallet, err := h.service.Deposit(r.Context(), req.UserID, req.Amount, model.DepositKind(req.Type))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

type negotiateResponse struct {
	URL string `json:"url"`
}

// Negotiate выпускает URL подключения к realtime-каналу для пользователя.
func (h *Handler) Negotiate(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	url, err := h.negotiator.Negotiate(userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, negotiateResponse{URL: url})
}
