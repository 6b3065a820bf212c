package storage

import (
	"errors"
	"fmt"
	"strings"

	"commerce-core-go/internal/storage/models"

	"gorm.io/gorm"
)

// ErrDuplicateEvent 幂等台账中已存在同一(eventID, handler)的记录。
// 由唯一索引冲突翻译而来，表示该事件已被处理过。
var ErrDuplicateEvent = errors.New("事件已被处理")

// EventHandled 查询事件是否已被指定消费者组处理。
// 这是快速路径上的优化；真正的并发防线是台账的唯一索引。
func (m *MySQL) EventHandled(tx *gorm.DB, eventID, handlerName string) (bool, error) {
	var count int64
	err := tx.Model(&models.IdempotencyRecord{}).
		Where("event_id = ? AND handler_name = ?", eventID, handlerName).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询幂等台账失败: %w", err)
	}
	return count > 0, nil
}

// RecordHandled 在调用方事务中写入幂等记录。
// 必须与领域副作用处于同一事务：一起提交，一起回滚。
// 唯一索引冲突返回ErrDuplicateEvent。
func (m *MySQL) RecordHandled(tx *gorm.DB, record *models.IdempotencyRecord) error {
	if err := tx.Create(record).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("写入幂等台账失败: %w", err)
	}
	return nil
}

// isDuplicateKeyError 识别MySQL的唯一索引冲突
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// MySQL错误码1062: Duplicate entry
	msg := err.Error()
	return strings.Contains(msg, "1062") || strings.Contains(msg, "Duplicate entry")
}
