package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/craftmarket-system/internal/model"
)

// AutoDeliveryMarker помечает файлы, прикреплённые автодоставкой.
// Наличие файла с этим описанием означает, что выдача уже состоялась.
const AutoDeliveryMarker = "Automatic digital delivery"

// courseMessagePrefix — начало системного сообщения с доступом к курсу.
// Проверка существующего сообщения идёт по этому префиксу без учёта регистра.
const courseMessagePrefix = "Course access"

// Категории артефактов, возвращаемые автодоставкой.
const (
	ArtifactDigitalFiles = "digital-files"
	ArtifactCourseInfo   = "course-info"
)

// AutoDeliver автоматически выдаёт цифровое содержимое заказа.
// Вызов безопасен после каждой смены статуса: неподходящий товар — не ошибка,
// а повторная выдача блокируется проверками существования.
// Возвращает признак применимости автодоставки и список категорий,
// фактически выданных этим вызовом.
func (s *Service) AutoDeliver(ctx context.Context, orderID, productID string) (bool, []string, error) {
	if orderID == "" || productID == "" {
		return false, nil, fmt.Errorf("%w: orderId and productId are required", ErrInvalidRequest)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, nil, err
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return false, nil, err
	}

	if order.ProductID != product.ID {
		return false, nil, ErrProductMismatch
	}

	hasFiles := len(product.DigitalFiles) > 0
	hasCourse := product.HasCoursePayload()

	if !hasFiles && !hasCourse && !product.AutoDeliver {
		return false, []string{}, nil
	}

	artifacts := []string{}

	if hasFiles {
		delivered, err := s.deliverDigitalFiles(ctx, order, product)
		if err != nil {
			return false, nil, err
		}
		if delivered {
			artifacts = append(artifacts, ArtifactDigitalFiles)
		}
	}

	if hasCourse {
		delivered, err := s.deliverCourseInfo(ctx, order, product)
		if err != nil {
			return false, nil, err
		}
		if delivered {
			artifacts = append(artifacts, ArtifactCourseInfo)
		}
	}

	return true, artifacts, nil
}

// deliverDigitalFiles прикрепляет цифровые файлы товара к заказу,
// если автодоставка ещё не выполнялась.
func (s *Service) deliverDigitalFiles(ctx context.Context, order *model.Order, product *model.Product) (bool, error) {
	exists, err := s.repo.HasDeliverableWithDescription(ctx, order.ID, AutoDeliveryMarker)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	for _, f := range product.DigitalFiles {
		name := f.Name
		if name == "" {
			name = "Digital download"
		}

		d := &model.OrderDeliverable{
			OrderID:     order.ID,
			FileName:    name,
			FileURL:     f.URL,
			FileSize:    f.Size,
			Description: AutoDeliveryMarker,
			UploadedBy:  product.SellerID,
		}
		if err := s.repo.AddDeliverable(ctx, d); err != nil {
			return false, fmt.Errorf("attach digital file: %w", err)
		}
	}

	return true, nil
}

// deliverCourseInfo отправляет системное сообщение с доступом к курсу,
// если оно ещё не отправлялось.
func (s *Service) deliverCourseInfo(ctx context.Context, order *model.Order, product *model.Product) (bool, error) {
	exists, err := s.repo.HasSystemMessageWithPrefix(ctx, order.ID, courseMessagePrefix)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	m := &model.OrderMessage{
		OrderID:         order.ID,
		SenderID:        product.SellerID,
		Message:         buildCourseMessage(product),
		IsSystemMessage: true,
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return false, fmt.Errorf("send course message: %w", err)
	}

	return true, nil
}

// buildCourseMessage собирает текст сообщения с доступом к курсу.
// Пустые секции опускаются.
func buildCourseMessage(product *model.Product) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s for %q:", courseMessagePrefix, product.Title))

	if len(product.CourseLinks) > 0 {
		b.WriteString("\n\nLinks:")
		for _, link := range product.CourseLinks {
			b.WriteString("\n- " + link)
		}
	}

	if len(product.CoursePasskeys) > 0 {
		b.WriteString("\n\nAccess codes:")
		for _, key := range product.CoursePasskeys {
			b.WriteString("\n- " + key)
		}
	}

	if notes := strings.TrimSpace(product.CourseNotes); notes != "" {
		b.WriteString("\n\n" + notes)
	}

	return b.String()
}
