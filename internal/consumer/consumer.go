package consumer // 幂等批量消费循环，按消费者组实例化

import (
	"context"
	"errors"
	"sync"

	"commerce-core-go/internal/event"
	"commerce-core-go/internal/storage"
	"commerce-core-go/internal/storage/models"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// defaultMaxAttempts 单条消息进入死信前的最大处理次数
const defaultMaxAttempts = 3

// Processor 领域副作用处理器。Handle在批次事务tx内执行，
// 返回错误表示本次处理失败，由消费循环决定重试还是隔离。
type Processor interface {
	// Name 消费者组名，同时作为幂等台账中的handler_name
	Name() string

	// Handle 应用一条事件的领域副作用
	Handle(ctx context.Context, tx *gorm.DB, evt *event.Event) error
}

// Ledger 幂等台账操作
type Ledger interface {
	EventHandled(tx *gorm.DB, eventID, handlerName string) (bool, error)
	RecordHandled(tx *gorm.DB, record *models.IdempotencyRecord) error
}

// Quarantiner 死信隔离接口
type Quarantiner interface {
	Quarantine(ctx context.Context, delivery storage.Delivery, eventID string, retryCount int, errMessage string) error
}

// BatchConsumer 通用的幂等批量消费循环。一个批次共用一个数据库事务：
// 领域副作用与其幂等标记一起提交、一起回滚，因此整批回滚后的完整
// 重投递会正确地重放此前的消息，而不是跳过它们。
type BatchConsumer struct {
	db          *gorm.DB
	ledger      Ledger
	processor   Processor
	quarantine  Quarantiner
	logger      zerolog.Logger
	maxAttempts int
	tracer      trace.Tracer

	// 进程内的毒消息计数。进程重启后丢失是已接受的放宽：
	// 重启后的进程只是在隔离前多重试几次。
	mu       sync.Mutex
	attempts map[string]int
}

// NewBatchConsumer 创建批量消费循环
func NewBatchConsumer(db *gorm.DB, ledger Ledger, processor Processor, quarantine Quarantiner, logger zerolog.Logger) *BatchConsumer {
	return &BatchConsumer{
		db:          db,
		ledger:      ledger,
		processor:   processor,
		quarantine:  quarantine,
		logger:      logger.With().Str("handler", processor.Name()).Logger(),
		maxAttempts: defaultMaxAttempts,
		tracer:      otel.Tracer("idempotent-consumer"),
		attempts:    make(map[string]int),
	}
}

// HandleBatch 处理一批投递。返回nil表示整批可确认；
// 返回错误表示事务已回滚，整批应重新投递。
func (c *BatchConsumer) HandleBatch(ctx context.Context, deliveries []storage.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "consumer.HandleBatch",
		trace.WithAttributes(
			attribute.String("messaging.consumer.name", c.processor.Name()),
			attribute.Int("messaging.batch.message_count", len(deliveries)),
		),
	)
	defer span.End()

	var handled []string // 本批成功处理的eventID，提交后清理计数

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, delivery := range deliveries {
			eventID, err := c.handleOne(ctx, tx, delivery)
			if err != nil {
				return err
			}
			if eventID != "" {
				handled = append(handled, eventID)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	c.forget(handled...)
	return nil
}

// handleOne 处理单条投递，返回其eventID（被跳过的消息返回空串）。
// 返回错误会中止并回滚整个批次事务。
func (c *BatchConsumer) handleOne(ctx context.Context, tx *gorm.DB, delivery storage.Delivery) (string, error) {
	evt, err := event.Parse(delivery.Body)
	if err != nil {
		if errors.Is(err, event.ErrMalformedEnvelope) {
			// 畸形消息永远不可能成功，丢弃而非重试
			c.logger.Warn().
				Err(err).
				Str("topic", delivery.Topic).
				Str("routing_key", delivery.RoutingKey).
				Msg("丢弃畸形消息")
			return "", nil
		}
		return "", err
	}

	env := evt.Envelope

	// 快速路径去重；唯一索引才是真正的并发防线
	seen, err := c.ledger.EventHandled(tx, env.EventID, c.processor.Name())
	if err != nil {
		return "", err
	}
	if seen {
		c.logger.Debug().
			Str("event_id", env.EventID).
			Str("event_type", env.EventType).
			Msg("事件已处理过，跳过")
		return env.EventID, nil
	}

	if evt.Kind == event.KindUnknown {
		// 未知事件类型：记录并忽略（前向兼容），但仍写入台账
		c.logger.Info().
			Str("event_id", env.EventID).
			Str("event_type", env.EventType).
			Msg("忽略未知事件类型")
	} else if err := tx.Transaction(func(msgTx *gorm.DB) error {
		// SAVEPOINT: 处理失败的消息即使被隔离后批次继续，
		// 其半途写入也不会随批次一起提交
		return c.processor.Handle(ctx, msgTx, evt)
	}); err != nil {
		return "", c.noteFailure(ctx, delivery, env, err)
	}

	// 幂等标记与领域副作用必须在同一事务中
	if err := c.ledger.RecordHandled(tx, &models.IdempotencyRecord{
		EventID:     env.EventID,
		HandlerName: c.processor.Name(),
		EventType:   env.EventType,
		AggregateID: env.AggregateID,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateEvent) {
			// 并发实例抢先提交了同一事件。回滚本批，
			// 重投递时去重检查会命中并正确跳过。
			c.logger.Info().
				Str("event_id", env.EventID).
				Msg("幂等台账写入冲突，回滚批次等待重投递")
		}
		return "", err
	}

	return env.EventID, nil
}

// noteFailure 登记一次处理失败。达到阈值的消息被隔离到死信并视为
// 已解决（返回nil让批次继续）；未达到阈值则返回错误，回滚整批
// 触发完整重投递。
func (c *BatchConsumer) noteFailure(ctx context.Context, delivery storage.Delivery, env event.Envelope, cause error) error {
	c.mu.Lock()
	c.attempts[env.EventID]++
	count := c.attempts[env.EventID]
	c.mu.Unlock()

	if count < c.maxAttempts {
		c.logger.Warn().
			Err(cause).
			Str("event_id", env.EventID).
			Str("event_type", env.EventType).
			Int("attempt", count).
			Msg("事件处理失败，回滚批次等待重投递")
		return cause
	}

	// 毒消息：隔离到死信主题，批次继续
	c.logger.Error().
		Err(cause).
		Str("event_id", env.EventID).
		Str("event_type", env.EventType).
		Int("attempts", count).
		Msg("事件重试次数耗尽，转入死信隔离")

	if err := c.quarantine.Quarantine(ctx, delivery, env.EventID, count, cause.Error()); err != nil {
		// 隔离本身失败时不能丢消息，让批次重投递后再试
		c.logger.Error().Err(err).Str("event_id", env.EventID).Msg("死信隔离失败")
		return err
	}

	c.forget(env.EventID)
	return nil
}

// forget 清理进程内失败计数
func (c *BatchConsumer) forget(eventIDs ...string) {
	if len(eventIDs) == 0 {
		return
	}
	c.mu.Lock()
	for _, id := range eventIDs {
		delete(c.attempts, id)
	}
	c.mu.Unlock()
}
