package storage

import (
	"context"
	"fmt"
	"time"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppendOutboxTx 在调用方的事务中追加一条发件箱记录。
// 事件作为数据与业务变更一起提交，这是发件箱模式的核心约束。
func (m *MySQL) AppendOutboxTx(tx *gorm.DB, record *models.OutboxRecord) error {
	if record.Status == "" {
		record.Status = constants.OutboxStatusPending
	}
	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("写入发件箱记录失败: %w", err)
	}
	return nil
}

// FetchPendingOutbox 在tx中锁定并返回一批待发布记录。
// `FOR UPDATE SKIP LOCKED` 对于水平扩展至关重要，它会跳过已被其他中继实例锁定的行。
func (m *MySQL) FetchPendingOutbox(tx *gorm.DB, batchSize int) ([]models.OutboxRecord, error) {
	var records []models.OutboxRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", constants.OutboxStatusPending).
		Order("created_at asc").
		Limit(batchSize).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询待发布发件箱记录失败: %w", err)
	}
	return records, nil
}

// MarkOutboxPublished 将记录标记为已发布
func (m *MySQL) MarkOutboxPublished(tx *gorm.DB, record *models.OutboxRecord) error {
	now := time.Now()
	record.Status = constants.OutboxStatusPublished
	record.PublishedAt = &now
	record.LastErrorMessage = ""
	return tx.Save(record).Error
}

// MarkOutboxFailure 记录一次发布失败：增加重试计数，
// 达到maxRetry后状态转为FAILED（终态，需要人工介入）。
func (m *MySQL) MarkOutboxFailure(tx *gorm.DB, record *models.OutboxRecord, cause error, maxRetry int) error {
	record.RetryCount++
	record.LastErrorMessage = cause.Error()
	if record.RetryCount >= maxRetry {
		record.Status = constants.OutboxStatusFailed
	}
	return tx.Save(record).Error
}

// CountOutboxByStatus 按状态统计发件箱记录数，用于运维观测
func (m *MySQL) CountOutboxByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := m.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计发件箱状态失败: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

// RequeueFailedOutbox 将一条FAILED记录重置为PENDING并清零重试计数。
// 这是FAILED终态唯一的恢复路径，由运维接口显式触发。
func (m *MySQL) RequeueFailedOutbox(ctx context.Context, id uint64) error {
	result := m.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Where("id = ? AND status = ?", id, constants.OutboxStatusFailed).
		Updates(map[string]interface{}{
			"status":             constants.OutboxStatusPending,
			"retry_count":        0,
			"last_error_message": "",
		})
	if result.Error != nil {
		return fmt.Errorf("重置发件箱记录失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
