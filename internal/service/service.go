// Package service реализует бизнес-логику жизненного цикла заказов craftmarket.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/craftmarket-system/internal/model"
	"github.com/mmeshcher/craftmarket-system/internal/push"
	"github.com/mmeshcher/craftmarket-system/internal/repository"
)

// ErrValidation возвращается при отсутствующих или некорректных полях заказа.
var (
	ErrValidation = errors.New("invalid order input")
	// ErrInvalidRequest возвращается при отсутствии обязательных параметров запроса.
	ErrInvalidRequest = errors.New("missing required field")
	// ErrProductMismatch возвращается, если товар не совпадает с товаром заказа.
	ErrProductMismatch = errors.New("product does not match order")
	// ErrNotOrderSeller возвращается, если отправитель не является продавцом заказа.
	ErrNotOrderSeller = errors.New("creator does not match order seller")
	// ErrInvalidTransition возвращается при недопустимой смене статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStatusConflict возвращается, если статус заказа изменился конкурентно.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// approvalWindow — срок, в течение которого покупатель подтверждает доставку.
// По его истечении заказ одобряется автоматически.
const approvalWindow = 72 * time.Hour

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrdersForUser(ctx context.Context, userID, role string) ([]model.Order, error)
	ListDeliveredBefore(ctx context.Context, before, since time.Time, limit int) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, expected *model.OrderStatus, next model.OrderStatus, upd repository.StatusUpdate) (bool, error)
	HasDeliverableWithDescription(ctx context.Context, orderID, description string) (bool, error)
	AddDeliverable(ctx context.Context, d *model.OrderDeliverable) error
	HasSystemMessageWithPrefix(ctx context.Context, orderID, prefix string) (bool, error)
	AddMessage(ctx context.Context, m *model.OrderMessage) error
	AddNotification(ctx context.Context, n *model.Notification) error
}

// Service содержит бизнес-логику жизненного цикла заказов.
type Service struct {
	repo       Repository
	pushClient *push.Client
	logger     *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом шлюза уведомлений.
func NewService(repo Repository, pushClient *push.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		pushClient: pushClient,
		logger:     logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrderInput содержит данные для оформления заказа.
type CreateOrderInput struct {
	BuyerID             string
	SellerID            string
	ProductID           string
	PackageID           *string
	Quantity            int
	UnitPrice           float64
	ServiceFee          float64
	ExpectedDelivery    *time.Time
	Requirements        map[string]string
	SpecialInstructions string
}

// CreateOrder оформляет новый заказ со статусом pending.
// Номер заказа генерируется заново при коллизии уникальности.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if in.BuyerID == "" || in.SellerID == "" || in.ProductID == "" {
		return nil, fmt.Errorf("%w: buyer, seller and product are required", ErrValidation)
	}
	if in.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if in.UnitPrice < 0 || in.ServiceFee < 0 {
		return nil, fmt.Errorf("%w: price fields must be non-negative", ErrValidation)
	}

	if _, err := s.repo.GetProduct(ctx, in.ProductID); err != nil {
		return nil, err
	}

	// Округление до цента: усечение занижало бы цены вида 19.99,
	// неточные в двоичном представлении.
	unitCents := int64(math.Round(in.UnitPrice * 100))
	feeCents := int64(math.Round(in.ServiceFee * 100))
	totalCents := unitCents*int64(in.Quantity) + feeCents

	var order *model.Order

	backoff := retry.WithMaxRetries(5, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		o := &model.Order{
			Number:              generateOrderNumber(),
			BuyerID:             in.BuyerID,
			SellerID:            in.SellerID,
			ProductID:           in.ProductID,
			PackageID:           in.PackageID,
			Quantity:            in.Quantity,
			UnitPriceCents:      unitCents,
			TotalPriceCents:     totalCents,
			ServiceFeeCents:     feeCents,
			Status:              model.OrderStatusPending,
			PaymentStatus:       model.PaymentStatusPending,
			ExpectedDelivery:    in.ExpectedDelivery,
			Requirements:        in.Requirements,
			SpecialInstructions: in.SpecialInstructions,
		}

		if err := s.repo.CreateOrder(ctx, o); err != nil {
			if errors.Is(err, repository.ErrOrderNumberTaken) {
				return retry.RetryableError(err)
			}
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// generateOrderNumber собирает номер заказа из метки времени и случайного суффикса.
func generateOrderNumber() string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return time.Now().UTC().Format("20060102150405") + "-" + suffix
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetOrderByNumber возвращает заказ по публичному номеру.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return s.repo.GetOrderByNumber(ctx, number)
}

// ListOrdersForUser возвращает заказы пользователя в указанной роли.
func (s *Service) ListOrdersForUser(ctx context.Context, userID, role string) ([]model.Order, error) {
	if role != "buyer" && role != "seller" {
		return nil, fmt.Errorf("%w: role must be buyer or seller", ErrInvalidRequest)
	}
	return s.repo.ListOrdersForUser(ctx, userID, role)
}

// allowedTransitions задаёт граф допустимых переходов между статусами.
// Прямой путь монотонен; ветки в cancelled/refunded/disputed доступны
// из любого нефинального статуса.
var allowedTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending: {
		model.OrderStatusConfirmed, model.OrderStatusCancelled, model.OrderStatusRefunded, model.OrderStatusDisputed,
	},
	model.OrderStatusConfirmed: {
		model.OrderStatusInProgress, model.OrderStatusCancelled, model.OrderStatusRefunded, model.OrderStatusDisputed,
	},
	model.OrderStatusInProgress: {
		model.OrderStatusDelivered, model.OrderStatusRevisionRequested, model.OrderStatusCancelled, model.OrderStatusRefunded, model.OrderStatusDisputed,
	},
	model.OrderStatusRevisionRequested: {
		model.OrderStatusInProgress, model.OrderStatusCancelled, model.OrderStatusRefunded, model.OrderStatusDisputed,
	},
	model.OrderStatusDelivered: {
		model.OrderStatusCompleted, model.OrderStatusRevisionRequested, model.OrderStatusCancelled, model.OrderStatusRefunded, model.OrderStatusDisputed,
	},
	model.OrderStatusDisputed: {
		model.OrderStatusCompleted, model.OrderStatusCancelled, model.OrderStatusRefunded,
	},
}

func transitionAllowed(from, to model.OrderStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionOrder выполняет переход заказа в новый статус по действию участника.
// Запись условная: при конкурентном изменении статуса возвращается ErrStatusConflict.
func (s *Service) TransitionOrder(ctx context.Context, orderID string, next model.OrderStatus) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status.IsTerminal() || !transitionAllowed(order.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, next)
	}

	now := time.Now().UTC()
	var upd repository.StatusUpdate

	switch next {
	case model.OrderStatusDelivered:
		deadline := now.Add(approvalWindow)
		upd.DeliveredAt = &now
		upd.ApproveBy = &deadline
	case model.OrderStatusCompleted:
		upd.CompletedAt = &now
	}

	expected := order.Status
	ok, err := s.repo.UpdateOrderStatus(ctx, order.ID, &expected, next, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStatusConflict
	}

	return s.repo.GetOrder(ctx, order.ID)
}

// AutoMessage отправляет системное сообщение в переписку заказа от имени продавца.
func (s *Service) AutoMessage(ctx context.Context, orderID, creatorID, message string) error {
	if orderID == "" || creatorID == "" || message == "" {
		return fmt.Errorf("%w: orderId, creatorId and message are required", ErrInvalidRequest)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.SellerID != creatorID {
		return ErrNotOrderSeller
	}

	return s.repo.AddMessage(ctx, &model.OrderMessage{
		OrderID:         order.ID,
		SenderID:        creatorID,
		Message:         message,
		IsSystemMessage: true,
	})
}

// CreateNotification сохраняет уведомление и отправляет его во внешний шлюз.
// Хранилище — источник истины; недоступность шлюза не считается ошибкой.
func (s *Service) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.UserID == "" || n.Type == "" || n.Title == "" || n.Message == "" {
		return fmt.Errorf("%w: user_id, type, title and message are required", ErrInvalidRequest)
	}

	if err := s.repo.AddNotification(ctx, n); err != nil {
		return err
	}

	if s.pushClient != nil {
		if err := s.pushClient.Send(ctx, n); err != nil {
			s.logger.Warn("push notification", zap.String("userID", n.UserID), zap.Error(err))
		}
	}

	return nil
}

// notify создаёт уведомление по событию заказа. Каждое событие — новая строка.
func (s *Service) notify(ctx context.Context, userID, notifType, title, message, orderID string) error {
	return s.CreateNotification(ctx, &model.Notification{
		UserID:  userID,
		Type:    notifType,
		Title:   title,
		Message: message,
		Data:    map[string]any{"order_id": orderID},
	})
}
