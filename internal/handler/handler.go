// Package handler содержит HTTP-обработчики API сервиса craftmarket.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/craftmarket-system/internal/middleware"
	"github.com/mmeshcher/craftmarket-system/internal/model"
	"github.com/mmeshcher/craftmarket-system/internal/repository"
	"github.com/mmeshcher/craftmarket-system/internal/service"
	"github.com/mmeshcher/craftmarket-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrdersForUser(ctx context.Context, userID, role string) ([]model.Order, error)
	TransitionOrder(ctx context.Context, orderID string, next model.OrderStatus) (*model.Order, error)
	AutoDeliver(ctx context.Context, orderID, productID string) (bool, []string, error)
	SweepExpired(ctx context.Context) ([]string, error)
	AutoMessage(ctx context.Context, orderID, creatorID, message string) error
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Handler реализует HTTP-обработчики API сервиса craftmarket.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type orderResponse struct {
	ID                  string            `json:"id"`
	Number              string            `json:"number"`
	BuyerID             string            `json:"buyer_id"`
	SellerID            string            `json:"seller_id"`
	ProductID           string            `json:"product_id"`
	PackageID           *string           `json:"package_id,omitempty"`
	Quantity            int               `json:"quantity"`
	UnitPrice           float64           `json:"unit_price"`
	TotalPrice          float64           `json:"total_price"`
	ServiceFee          float64           `json:"service_fee"`
	Status              string            `json:"status"`
	PaymentStatus       string            `json:"payment_status"`
	ExpectedDelivery    *string           `json:"expected_delivery,omitempty"`
	DeliveredAt         *string           `json:"delivered_at,omitempty"`
	CompletedAt         *string           `json:"completed_at,omitempty"`
	ApproveBy           *string           `json:"approve_by,omitempty"`
	Requirements        map[string]string `json:"requirements,omitempty"`
	SpecialInstructions string            `json:"special_instructions,omitempty"`
	CreatedAt           string            `json:"created_at"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:                  o.ID,
		Number:              o.Number,
		BuyerID:             o.BuyerID,
		SellerID:            o.SellerID,
		ProductID:           o.ProductID,
		PackageID:           o.PackageID,
		Quantity:            o.Quantity,
		UnitPrice:           float64(o.UnitPriceCents) / 100,
		TotalPrice:          float64(o.TotalPriceCents) / 100,
		ServiceFee:          float64(o.ServiceFeeCents) / 100,
		Status:              string(o.Status),
		PaymentStatus:       string(o.PaymentStatus),
		ExpectedDelivery:    formatTime(o.ExpectedDelivery),
		DeliveredAt:         formatTime(o.DeliveredAt),
		CompletedAt:         formatTime(o.CompletedAt),
		ApproveBy:           formatTime(o.ApproveBy),
		Requirements:        o.Requirements,
		SpecialInstructions: o.SpecialInstructions,
		CreatedAt:           o.CreatedAt.Format(time.RFC3339),
	}
}

type createOrderRequest struct {
	BuyerID             string            `json:"buyer_id"`
	SellerID            string            `json:"seller_id"`
	ProductID           string            `json:"product_id"`
	PackageID           *string           `json:"package_id"`
	Quantity            int               `json:"quantity"`
	UnitPrice           float64           `json:"unit_price"`
	ServiceFee          float64           `json:"service_fee"`
	ExpectedDelivery    *time.Time        `json:"expected_delivery"`
	Requirements        map[string]string `json:"requirements"`
	SpecialInstructions string            `json:"special_instructions"`
}

// CreateOrder оформляет новый заказ.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		BuyerID:             req.BuyerID,
		SellerID:            req.SellerID,
		ProductID:           req.ProductID,
		PackageID:           req.PackageID,
		Quantity:            req.Quantity,
		UnitPrice:           req.UnitPrice,
		ServiceFee:          req.ServiceFee,
		ExpectedDelivery:    req.ExpectedDelivery,
		Requirements:        req.Requirements,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrProductNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("create order error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("orderID", id))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetOrderByNumber возвращает заказ по публичному номеру.
// Номер используется витриной в поиске; формат проверяется до обращения к хранилищу.
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if !validation.IsValidOrderNumber(number) {
		writeError(w, http.StatusUnprocessableEntity, "invalid order number format")
		return
	}

	order, err := h.service.GetOrderByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("get order by number error", zap.Error(err), zap.String("number", number))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ListOrders возвращает заказы пользователя в роли покупателя или продавца.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "buyer"
	}

	orders, err := h.service.ListOrdersForUser(r.Context(), userID, role)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("list orders error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus выполняет переход заказа в новый статус по действию участника.
// После успешного перехода спекулятивно запускается автодоставка.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	order, err := h.service.TransitionOrder(r.Context(), id, model.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidTransition):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrStatusConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("update status error", zap.Error(err), zap.String("orderID", id))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	// Триггер автодоставки идемпотентен, повторный вызов безопасен.
	if _, _, err := h.service.AutoDeliver(r.Context(), order.ID, order.ProductID); err != nil {
		h.logger.Warn("speculative auto-delivery", zap.Error(err), zap.String("orderID", order.ID))
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type autoDeliverRequest struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
}

type autoDeliverResponse struct {
	Delivered bool     `json:"delivered"`
	Artifacts []string `json:"artifacts"`
}

// AutoDeliver запускает автоматическую выдачу цифрового содержимого заказа.
func (h *Handler) AutoDeliver(w http.ResponseWriter, r *http.Request) {
	var req autoDeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.OrderID == "" {
		req.OrderID = chi.URLParam(r, "id")
	}

	delivered, artifacts, err := h.service.AutoDeliver(r.Context(), req.OrderID, req.ProductID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProductMismatch):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrProductNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("auto-delivery error", zap.Error(err), zap.String("orderID", req.OrderID))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, autoDeliverResponse{
		Delivered: delivered,
		Artifacts: artifacts,
	})
}

type sweepResponse struct {
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	Processed      []string `json:"processed"`
}

// LifecycleSweep выполняет один проход автоодобрения просроченных заказов.
// Вызывается внешним планировщиком.
func (h *Handler) LifecycleSweep(w http.ResponseWriter, r *http.Request) {
	processed, err := h.service.SweepExpired(r.Context())
	if err != nil {
		h.logger.Error("lifecycle sweep error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{
		Success:        true,
		ProcessedCount: len(processed),
		Processed:      processed,
	})
}

type autoMessageRequest struct {
	OrderID   string `json:"orderId"`
	CreatorID string `json:"creatorId"`
	Message   string `json:"message"`
}

// AutoMessage отправляет системное сообщение в переписку заказа от имени продавца.
func (h *Handler) AutoMessage(w http.ResponseWriter, r *http.Request) {
	var req autoMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.OrderID == "" {
		req.OrderID = chi.URLParam(r, "id")
	}

	err := h.service.AutoMessage(r.Context(), req.OrderID, req.CreatorID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotOrderSeller):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("auto-message error", zap.Error(err), zap.String("orderID", req.OrderID))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type notificationRequest struct {
	UserID  string         `json:"user_id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// CreateNotification сохраняет уведомление пользователю.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.service.CreateNotification(r.Context(), &model.Notification{
		UserID:  req.UserID,
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("create notification error", zap.Error(err), zap.String("userID", req.UserID))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
