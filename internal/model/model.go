// Package model содержит доменные сущности маркетплейса craftmarket.
package model

import (
	"strings"
	"time"
)

// OrderStatus описывает этап жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusConfirmed         OrderStatus = "confirmed"
	OrderStatusInProgress        OrderStatus = "in_progress"
	OrderStatusRevisionRequested OrderStatus = "revision_requested"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusDisputed          OrderStatus = "disputed"
)

// IsTerminal сообщает, является ли статус финальным.
// Финальный статус никогда не перезаписывается.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus описывает состояние оплаты заказа.
// Ось независимая: подтверждение оплаты не означает выполнение заказа.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Order описывает покупку: одна сделка между покупателем и продавцом.
type Order struct {
	ID                  string
	Number              string
	BuyerID             string
	SellerID            string
	ProductID           string
	PackageID           *string
	Quantity            int
	UnitPriceCents      int64
	TotalPriceCents     int64
	ServiceFeeCents     int64
	Status              OrderStatus
	PaymentStatus       PaymentStatus
	ExpectedDelivery    *time.Time
	DeliveredAt         *time.Time
	CompletedAt         *time.Time
	ApproveBy           *time.Time
	Requirements        map[string]string
	SpecialInstructions string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DigitalFile описывает файл, доступный для автоматической выдачи.
type DigitalFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size *int64 `json:"size,omitempty"`
}

// Product содержит данные товара, необходимые триггеру автодоставки.
// Товары создаются витриной вне этого сервиса; здесь в основном чтение.
type Product struct {
	ID             string
	SellerID       string
	Title          string
	DigitalFiles   []DigitalFile
	CourseLinks    []string
	CoursePasskeys []string
	CourseNotes    string
	AutoDeliver    bool
	CreatedAt      time.Time
}

// HasCoursePayload сообщает, есть ли у товара данные курса для выдачи.
func (p *Product) HasCoursePayload() bool {
	return len(p.CourseLinks) > 0 ||
		len(p.CoursePasskeys) > 0 ||
		strings.TrimSpace(p.CourseNotes) != ""
}

// OrderDeliverable описывает файл, прикреплённый к заказу как результат работы.
type OrderDeliverable struct {
	ID          string
	OrderID     string
	FileName    string
	FileURL     string
	FileSize    *int64
	FileType    *string
	Description string
	UploadedBy  string
	CreatedAt   time.Time
}

// OrderMessage описывает сообщение в переписке по заказу.
type OrderMessage struct {
	ID              string
	OrderID         string
	SenderID        string
	Message         string
	Attachments     []string
	IsSystemMessage bool
	CreatedAt       time.Time
}

// Notification описывает уведомление пользователю.
// Каждое событие — новая строка; существующие уведомления не переиспользуются.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Data      map[string]any
	IsRead    bool
	CreatedAt time.Time
}
