package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/craftmarket-system/internal/model"
	"github.com/mmeshcher/craftmarket-system/internal/repository"
)

// sweepBatchSize ограничивает размер одной страницы сканирования.
const sweepBatchSize = 100

// SweepExpired находит заказы в статусе delivered с истёкшим сроком одобрения
// и переводит их в completed.
// Заказы обрабатываются независимо: ошибка одного не прерывает проход,
// проигранная гонка со сменой статуса пропускается молча.
// Ошибка самого сканирования фатальна для вызова и возвращается вызывающему.
func (s *Service) SweepExpired(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	processed := []string{}
	seen := make(map[string]struct{})

	// Страницы читаются по ключу approve_by: курсор сдвигается на последний
	// увиденный срок, поэтому страница стабильно падающих заказов не заслоняет
	// хвост выборки. Граница нестрогая, заказы с одинаковым approve_by на стыке
	// страниц отсеиваются по seen.
	var cursor time.Time

	for {
		batch, err := s.repo.ListDeliveredBefore(ctx, now, cursor, sweepBatchSize)
		if err != nil {
			return nil, fmt.Errorf("scan delivered orders: %w", err)
		}

		progress := false
		for i := range batch {
			order := &batch[i]

			if order.ApproveBy != nil && order.ApproveBy.After(cursor) {
				cursor = *order.ApproveBy
			}

			if _, ok := seen[order.ID]; ok {
				continue
			}
			seen[order.ID] = struct{}{}
			progress = true

			ok, err := s.completeExpired(ctx, order, now)
			if err != nil {
				s.logger.Error("auto-approve order",
					zap.String("orderID", order.ID),
					zap.String("number", order.Number),
					zap.Error(err),
				)
				continue
			}
			if ok {
				processed = append(processed, order.ID)
			}
		}

		if len(batch) < sweepBatchSize || !progress {
			break
		}
	}

	return processed, nil
}

// completeExpired переводит один просроченный заказ в completed и уведомляет стороны.
// Условное обновление статуса — точка взаимного исключения: если заказ уже
// покинул delivered, возвращается false без ошибки.
func (s *Service) completeExpired(ctx context.Context, order *model.Order, now time.Time) (bool, error) {
	expected := model.OrderStatusDelivered
	ok, err := s.repo.UpdateOrderStatus(ctx, order.ID, &expected, model.OrderStatusCompleted, repository.StatusUpdate{
		CompletedAt: &now,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	msg := &model.OrderMessage{
		OrderID:         order.ID,
		SenderID:        order.SellerID,
		Message:         fmt.Sprintf("Order %s was approved automatically: the buyer review period has expired.", order.Number),
		IsSystemMessage: true,
	}
	if err := s.repo.AddMessage(ctx, msg); err != nil {
		return false, fmt.Errorf("auto-approval message: %w", err)
	}

	if err := s.notify(ctx, order.BuyerID, "order_completed", "Order Completed",
		fmt.Sprintf("Your order %s has been completed automatically.", order.Number), order.ID); err != nil {
		return false, fmt.Errorf("notify buyer: %w", err)
	}

	if err := s.notify(ctx, order.SellerID, "payment_released", "Funds Available",
		fmt.Sprintf("Funds for order %s are now available for withdrawal.", order.Number), order.ID); err != nil {
		return false, fmt.Errorf("notify seller: %w", err)
	}

	return true, nil
}

// StartLifecycleSweeps запускает фоновый процесс периодического автоодобрения заказов.
func (s *Service) StartLifecycleSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processed, err := s.SweepExpired(ctx)
				if err != nil {
					s.logger.Error("lifecycle sweep", zap.Error(err))
					continue
				}
				if len(processed) > 0 {
					s.logger.Info("lifecycle sweep", zap.Int("processed", len(processed)))
				}
			}
		}
	}()
}
