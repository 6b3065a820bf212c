package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/event"
	"commerce-core-go/internal/storage/models"
	"commerce-core-go/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	defaultPollingInterval = 5 * time.Second // 默认轮询outbox表的间隔
	defaultBatchSize       = 100             // 每次轮询处理的消息批量大小
	defaultMaxRetry        = 5               // 消息发布失败的最大重试次数
)

// Store 中继所需的发件箱存储操作
type Store interface {
	FetchPendingOutbox(tx *gorm.DB, batchSize int) ([]models.OutboxRecord, error)
	MarkOutboxPublished(tx *gorm.DB, record *models.OutboxRecord) error
	MarkOutboxFailure(tx *gorm.DB, record *models.OutboxRecord, cause error, maxRetry int) error
}

// Publisher 中继使用的消息发布接口
type Publisher interface {
	PublishMessage(ctx context.Context, topic, routingKey string, message []byte, persistent bool) error
}

// Relay 轮询outbox表并将待发布事件投递到消息代理。
// 投递语义是至少一次：在"已发送"与"标记PUBLISHED"之间崩溃会导致
// 重启后重复发布，由消费侧幂等去重兜底。
type Relay struct {
	db              *gorm.DB
	store           Store
	publisher       Publisher
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	maxRetry        int
	done            chan struct{}
	tracer          trace.Tracer
}

// Option 中继配置选项
type Option func(*Relay)

// WithPollingInterval 设置轮询间隔
func WithPollingInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 设置批量大小
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxRetry 设置发布失败的最大重试次数
func WithMaxRetry(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxRetry = n
		}
	}
}

// NewRelay 创建一个新的Relay实例
func NewRelay(db *gorm.DB, store Store, publisher Publisher, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:              db,
		store:           store,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		maxRetry:        defaultMaxRetry,
		done:            make(chan struct{}),
		tracer:          otel.Tracer("outbox-relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 开始中继的轮询过程
func (r *Relay) Start() {
	r.logger.Info().Msg("发件箱中继启动")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		for {
			select {
			case <-r.done:
				ticker.Stop()
				r.logger.Info().Msg("发件箱中继已停止")
				return
			case <-ticker.C:
				if err := r.PublishPending(context.Background()); err != nil {
					r.logger.Error().Err(err).Msg("处理待发布事件失败")
				}
			}
		}
	}()
}

// Stop 优雅地停止中继
func (r *Relay) Stop() {
	r.logger.Info().Msg("发件箱中继停止中")
	close(r.done)
}

// PublishPending 获取并发布一批待处理的发件箱记录。
// 获取与状态更新在一个事务内完成；`FOR UPDATE SKIP LOCKED`
// 让多个中继实例互不阻塞。
func (r *Relay) PublishPending(ctx context.Context) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback() // 事务已提交时回滚是无操作的

	records, err := r.store.FetchPendingOutbox(tx, r.batchSize)
	if err != nil {
		return err
	}

	// 空轮询不创建追踪Span
	if len(records) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.PublishBatch",
		trace.WithAttributes(
			attribute.Int("messaging.batch.message_count", len(records)),
		),
	)
	defer span.End()

	r.logger.Debug().Int("count", len(records)).Msg("获取到待发布事件")

	for i := range records {
		record := &records[i]
		if err := r.publishOne(ctx, tx, record); err != nil {
			// 单条记录的状态更新失败会回滚整个事务，
			// 所有记录保持原状，下一次轮询重新拾取
			return err
		}
	}

	return tx.Commit().Error
}

// publishOne 发布单条记录并登记结果
func (r *Relay) publishOne(ctx context.Context, tx *gorm.DB, record *models.OutboxRecord) error {
	// 未知聚合类型是编程错误，不是可恢复的运行期状况
	topic, ok := event.TopicFor(record.AggregateType)
	if !ok {
		panic(fmt.Sprintf("outbox: 未知的聚合类型 %q (record %d)", record.AggregateType, record.ID))
	}

	body, err := json.Marshal(event.Envelope{
		EventID:       record.EventID,
		EventType:     record.EventType,
		AggregateType: record.AggregateType,
		AggregateID:   record.AggregateID,
		OccurredAt:    record.CreatedAt,
		Payload:       json.RawMessage(record.Payload),
	})
	if err != nil {
		return fmt.Errorf("序列化事件信封失败 (record %d): %w", record.ID, err)
	}

	// 消息键为聚合ID，同一聚合的事件保持broker分区内顺序
	if err := r.publisher.PublishMessage(ctx, topic, record.AggregateID, body, true); err != nil {
		tracing.RecordPublishFailure(trace.SpanFromContext(ctx), record.EventID, err)
		r.logger.Warn().
			Err(err).
			Uint64("record_id", record.ID).
			Str("aggregate_id", record.AggregateID).
			Int("retry_count", record.RetryCount+1).
			Msg("事件发布失败")

		if markErr := r.store.MarkOutboxFailure(tx, record, err, r.maxRetry); markErr != nil {
			return markErr
		}
		if record.Status == constants.OutboxStatusFailed {
			// 终态，不再自动恢复。必须对运维可见。
			r.logger.Error().
				Uint64("record_id", record.ID).
				Str("event_type", record.EventType).
				Str("aggregate_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("发件箱记录超过重试上限，已标记为FAILED，需要人工介入")
		}
		return nil
	}

	return r.store.MarkOutboxPublished(tx, record)
}
