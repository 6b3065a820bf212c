package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/event"
	"commerce-core-go/internal/storage/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	return gdb, mock
}

// fakeOutboxStore 内存发件箱存储，复刻标记语义
type fakeOutboxStore struct {
	pending []models.OutboxRecord

	published []uint64
	failed    []uint64
}

func (f *fakeOutboxStore) FetchPendingOutbox(tx *gorm.DB, batchSize int) ([]models.OutboxRecord, error) {
	if len(f.pending) > batchSize {
		return f.pending[:batchSize], nil
	}
	return f.pending, nil
}

func (f *fakeOutboxStore) MarkOutboxPublished(tx *gorm.DB, record *models.OutboxRecord) error {
	record.Status = constants.OutboxStatusPublished
	f.published = append(f.published, record.ID)
	return nil
}

func (f *fakeOutboxStore) MarkOutboxFailure(tx *gorm.DB, record *models.OutboxRecord, cause error, maxRetry int) error {
	record.RetryCount++
	if record.RetryCount >= maxRetry {
		record.Status = constants.OutboxStatusFailed
	}
	f.failed = append(f.failed, record.ID)
	return nil
}

// capturingPublisher 捕获发布调用的桩
type capturingPublisher struct {
	topics      []string
	routingKeys []string
	bodies      [][]byte
	err         error
}

func (p *capturingPublisher) PublishMessage(ctx context.Context, topic, routingKey string, message []byte, persistent bool) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.routingKeys = append(p.routingKeys, routingKey)
	p.bodies = append(p.bodies, message)
	return nil
}

func pendingRecord(id uint64, aggregateType, aggregateID, eventType string) models.OutboxRecord {
	return models.OutboxRecord{
		ID:            id,
		EventID:       "evt-" + aggregateID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       datatypes.JSON([]byte(`{"product_id":"` + aggregateID + `"}`)),
		Status:        constants.OutboxStatusPending,
	}
}

// TestPublishPendingSuccess 验证待发布记录被投递并标记PUBLISHED
func TestPublishPendingSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	store := &fakeOutboxStore{pending: []models.OutboxRecord{
		pendingRecord(1, constants.AggregateProduct, "p-1", constants.EventProductLiked),
		pendingRecord(2, constants.AggregateOrder, "o-1", constants.EventOrderPaid),
	}}
	pub := &capturingPublisher{}
	relay := NewRelay(db, store, pub, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, relay.PublishPending(context.Background()))

	assert.Equal(t, []uint64{1, 2}, store.published)
	assert.Empty(t, store.failed)
	require.Len(t, pub.bodies, 2)
	assert.Equal(t, []string{constants.TopicCatalogEvents, constants.TopicOrderEvents}, pub.topics)
	assert.Equal(t, []string{"p-1", "o-1"}, pub.routingKeys, "消息键应为聚合ID")

	var env event.Envelope
	require.NoError(t, json.Unmarshal(pub.bodies[0], &env))
	assert.Equal(t, "evt-p-1", env.EventID)
	assert.Equal(t, constants.EventProductLiked, env.EventType)
	assert.JSONEq(t, `{"product_id":"p-1"}`, string(env.Payload))

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPublishPendingEmptyBatch 验证空轮询只提交事务，不发布消息
func TestPublishPendingEmptyBatch(t *testing.T) {
	db, mock := newMockDB(t)
	pub := &capturingPublisher{}
	relay := NewRelay(db, &fakeOutboxStore{}, pub, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, relay.PublishPending(context.Background()))
	assert.Empty(t, pub.bodies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPublishFailureMarksRetry 验证发布失败时登记失败并提交，
// 记录留待下一轮重试
func TestPublishFailureMarksRetry(t *testing.T) {
	db, mock := newMockDB(t)
	store := &fakeOutboxStore{pending: []models.OutboxRecord{
		pendingRecord(7, constants.AggregateProduct, "p-7", constants.EventProductViewed),
	}}
	pub := &capturingPublisher{err: errors.New("broker unreachable")}
	relay := NewRelay(db, store, pub, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, relay.PublishPending(context.Background()))

	assert.Equal(t, []uint64{7}, store.failed)
	assert.Empty(t, store.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPublishFailureReachesTerminalState 验证重试耗尽后记录进入FAILED终态
func TestPublishFailureReachesTerminalState(t *testing.T) {
	db, mock := newMockDB(t)
	record := pendingRecord(8, constants.AggregateOrder, "o-8", constants.EventOrderCreated)
	record.RetryCount = 4 // 下一次失败达到maxRetry=5
	store := &fakeOutboxStore{pending: []models.OutboxRecord{record}}
	pub := &capturingPublisher{err: errors.New("broker unreachable")}
	relay := NewRelay(db, store, pub, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, relay.PublishPending(context.Background()))
	require.Len(t, store.failed, 1)
}

// TestPublishPanicsOnUnknownAggregate 验证未知聚合类型触发panic
func TestPublishPanicsOnUnknownAggregate(t *testing.T) {
	db, mock := newMockDB(t)
	store := &fakeOutboxStore{pending: []models.OutboxRecord{
		pendingRecord(9, "warehouse", "w-1", "warehouse.restocked"),
	}}
	relay := NewRelay(db, store, &capturingPublisher{}, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.Panics(t, func() {
		_ = relay.PublishPending(context.Background())
	})
}

// TestEnqueueWritesEnvelope 验证Enqueue在业务事务内写入完整记录
func TestEnqueueWritesEnvelope(t *testing.T) {
	appender := &capturingAppender{}

	eventID, err := Enqueue(nil, appender, constants.AggregateProduct, "p-1", constants.EventProductLiked, event.ProductPayload{ProductID: "p-1", UserID: "u-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, eventID)

	require.NotNil(t, appender.record)
	assert.Equal(t, eventID, appender.record.EventID)
	assert.Equal(t, constants.AggregateProduct, appender.record.AggregateType)
	assert.Equal(t, "p-1", appender.record.AggregateID)
	assert.Equal(t, constants.EventProductLiked, appender.record.EventType)
	assert.JSONEq(t, `{"product_id":"p-1","user_id":"u-1"}`, string(appender.record.Payload))
}

// TestEnqueueRejectsUnknownAggregate 验证未知聚合类型在入队时即报错
func TestEnqueueRejectsUnknownAggregate(t *testing.T) {
	_, err := Enqueue(nil, &capturingAppender{}, "warehouse", "w-1", "warehouse.restocked", nil)
	require.Error(t, err)
}

// capturingAppender 捕获入队记录的桩
type capturingAppender struct {
	record *models.OutboxRecord
}

func (a *capturingAppender) AppendOutboxTx(tx *gorm.DB, record *models.OutboxRecord) error {
	a.record = record
	return nil
}
