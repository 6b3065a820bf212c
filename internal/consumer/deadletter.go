package consumer

import (
	"context"
	"time"

	"commerce-core-go/internal/event"
	"commerce-core-go/internal/storage"

	"github.com/rs/zerolog"
)

// DeadLetterRecord 随死信一起发布的失败上下文
type DeadLetterRecord struct {
	OriginalTopic   string    `json:"original_topic"`
	OriginalKey     string    `json:"original_key"`
	OriginalMessage string    `json:"original_message"`
	ErrorMessage    string    `json:"error_message"`
	RetryCount      int       `json:"retry_count"`
	FailedAt        time.Time `json:"failed_at"`
	ArchivePath     string    `json:"archive_path,omitempty"` // MinIO归档路径（启用时）
}

// Publisher 死信发布接口
type Publisher interface {
	PublishJSON(ctx context.Context, topic, routingKey string, data interface{}, persistent bool) error
}

// DeadLetterSink 把毒消息连同失败元数据转发到隔离主题
// <原主题>.dlq，并在配置了对象存储时归档原始报文。
type DeadLetterSink struct {
	publisher Publisher
	archive   storage.DeadLetterArchive // 可为nil，归档被禁用
	logger    zerolog.Logger
}

// NewDeadLetterSink 创建死信转发器。archive为nil时禁用报文归档。
func NewDeadLetterSink(publisher Publisher, archive storage.DeadLetterArchive, logger zerolog.Logger) *DeadLetterSink {
	return &DeadLetterSink{
		publisher: publisher,
		archive:   archive,
		logger:    logger.With().Str("component", "dead-letter-sink").Logger(),
	}
}

// Quarantine 隔离一条毒消息
func (s *DeadLetterSink) Quarantine(ctx context.Context, delivery storage.Delivery, eventID string, retryCount int, errMessage string) error {
	record := DeadLetterRecord{
		OriginalTopic:   delivery.Topic,
		OriginalKey:     delivery.RoutingKey,
		OriginalMessage: string(delivery.Body),
		ErrorMessage:    errMessage,
		RetryCount:      retryCount,
		FailedAt:        time.Now(),
	}

	// 归档失败不阻断隔离：死信主题里的记录仍携带完整报文
	if s.archive != nil {
		path, err := s.archive.ArchiveDeadLetter(ctx, delivery.Topic, eventID, delivery.Body)
		if err != nil {
			s.logger.Warn().Err(err).Str("event_id", eventID).Msg("死信报文归档失败")
		} else {
			record.ArchivePath = path
		}
	}

	dlqTopic := event.DeadLetterTopic(delivery.Topic)
	if err := s.publisher.PublishJSON(ctx, dlqTopic, delivery.RoutingKey, record, true); err != nil {
		return err
	}

	s.logger.Error().
		Str("event_id", eventID).
		Str("dlq_topic", dlqTopic).
		Int("retry_count", retryCount).
		Str("error", errMessage).
		Msg("毒消息已隔离到死信主题")
	return nil
}
