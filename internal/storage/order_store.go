package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/storage/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindPendingGatewayOrdersBefore 返回创建时间早于threshold、仍处于PENDING
// 且走网关支付的订单。刚创建的订单被排除，其同步支付请求可能仍在途。
func (m *MySQL) FindPendingGatewayOrdersBefore(ctx context.Context, threshold time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := m.db.WithContext(ctx).
		Where("status = ? AND payment_method = ? AND created_at < ?",
			constants.OrderStatusPending, constants.PaymentMethodGateway, threshold).
		Order("created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("查询待对账订单失败: %w", err)
	}
	return orders, nil
}

// lockPendingOrder 在tx中锁定订单行并校验其仍为PENDING。
// 行锁防止对账调度器与在途消费者对同一订单的并发变更。
func lockPendingOrder(tx *gorm.DB, orderID string) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	if order.Status != constants.OrderStatusPending {
		// 状态机只检查当前状态，不假设历史：订单已达终态则放弃本次变更
		return nil, nil
	}
	return &order, nil
}

// MarkOrderFailedByTimeout 将超时未出交易键的订单置为FAILED终态，
// 并在同一事务中入队OrderPaymentFailed事件。
func (m *MySQL) MarkOrderFailedByTimeout(ctx context.Context, orderID, reason string) error {
	return m.Transaction(ctx, func(tx *gorm.DB) error {
		order, err := lockPendingOrder(tx, orderID)
		if err != nil {
			return fmt.Errorf("锁定订单失败: %w", err)
		}
		if order == nil {
			return nil
		}

		order.Status = constants.OrderStatusFailed
		order.FailureReason = &reason
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		return m.appendOrderEvent(tx, order, constants.EventOrderPaymentFailed, reason)
	})
}

// IncrementOrderRetryCount 仅在订单仍为PENDING时递增补发计数
func (m *MySQL) IncrementOrderRetryCount(ctx context.Context, orderID string) error {
	return m.Transaction(ctx, func(tx *gorm.DB) error {
		order, err := lockPendingOrder(tx, orderID)
		if err != nil {
			return fmt.Errorf("锁定订单失败: %w", err)
		}
		if order == nil {
			return nil
		}
		order.RetryCount++
		return tx.Save(order).Error
	})
}

// AttachTransactionKey 记录网关签发的交易键，订单保持PENDING
func (m *MySQL) AttachTransactionKey(ctx context.Context, orderID, transactionKey string) error {
	return m.Transaction(ctx, func(tx *gorm.DB) error {
		order, err := lockPendingOrder(tx, orderID)
		if err != nil {
			return fmt.Errorf("锁定订单失败: %w", err)
		}
		if order == nil {
			return nil
		}
		order.GatewayTransactionKey = &transactionKey
		return tx.Save(order).Error
	})
}

// ApplyGatewayResult 把网关侧的支付结论同步到订单。
// 只有PENDING订单会被变更；终态订单上的重复同步是无操作。
// 完成态变更会在同一事务中入队对应的订单事件。
func (m *MySQL) ApplyGatewayResult(ctx context.Context, orderID, status, reason string, transactionKey *string) error {
	if status != constants.OrderStatusPaid && status != constants.OrderStatusFailed {
		// 网关仍在处理中，订单状态不动
		return nil
	}

	return m.Transaction(ctx, func(tx *gorm.DB) error {
		order, err := lockPendingOrder(tx, orderID)
		if err != nil {
			return fmt.Errorf("锁定订单失败: %w", err)
		}
		if order == nil {
			return nil
		}

		order.Status = status
		if transactionKey != nil && *transactionKey != "" {
			order.GatewayTransactionKey = transactionKey
		}
		switch status {
		case constants.OrderStatusPaid:
			now := time.Now()
			order.PaidAt = &now
		case constants.OrderStatusFailed:
			if reason != "" {
				order.FailureReason = &reason
			}
		}
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		eventType := constants.EventOrderPaid
		if status == constants.OrderStatusFailed {
			eventType = constants.EventOrderPaymentFailed
		}
		return m.appendOrderEvent(tx, order, eventType, reason)
	})
}

// CountFailedOrders 统计FAILED订单数，用于运维观测
func (m *MySQL) CountFailedOrders(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ?", constants.OrderStatusFailed).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计失败订单失败: %w", err)
	}
	return count, nil
}

// appendOrderEvent 订单状态变化在同一事务中入队后续事件
func (m *MySQL) appendOrderEvent(tx *gorm.DB, order *models.Order, eventType, reason string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"order_id": order.ID,
		"amount":   order.Amount,
		"reason":   reason,
	})
	if err != nil {
		return fmt.Errorf("序列化订单事件载荷失败: %w", err)
	}

	return m.AppendOutboxTx(tx, &models.OutboxRecord{
		AggregateType: constants.AggregateOrder,
		AggregateID:   order.ID,
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Payload:       payload,
	})
}
