package outbox // 定义了发件箱模式（Outbox Pattern）的实现

import (
	"encoding/json"
	"fmt"

	"commerce-core-go/internal/event"
	"commerce-core-go/internal/storage/models"

	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"
)

// Appender 业务写路径使用的发件箱追加接口
type Appender interface {
	AppendOutboxTx(tx *gorm.DB, record *models.OutboxRecord) error
}

// Enqueue 在业务事务中入队一个领域事件。事件是数据而非调用：
// 与产生它的业务变更一起提交，随业务回滚一起消失。
func Enqueue(tx *gorm.DB, appender Appender, aggregateType, aggregateID, eventType string, payload interface{}) (string, error) {
	if _, ok := event.TopicFor(aggregateType); !ok {
		return "", fmt.Errorf("未知的聚合类型: %s", aggregateType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化事件载荷失败: %w", err)
	}

	// V7是时间有序的，发件箱按创建顺序读取时事件ID自然可比
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成事件ID失败: %w", err)
	}
	eventID := uuidV7.String()
	record := &models.OutboxRecord{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventID:       eventID,
		EventType:     eventType,
		Payload:       body,
	}
	if err := appender.AppendOutboxTx(tx, record); err != nil {
		return "", err
	}
	return eventID, nil
}
