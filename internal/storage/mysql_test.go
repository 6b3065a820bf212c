package storage

import (
	"context"
	"errors"
	"testing"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/storage/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockMySQL 构造由sqlmock驱动的MySQL实例。
// SkipDefaultTransaction让单条写操作不再包裹隐式事务，方便断言SQL。
func newMockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewMySQLWithDB(gdb), mock
}

// TestFetchPendingOutboxLocksRows 验证待发布查询带FOR UPDATE SKIP LOCKED
func TestFetchPendingOutboxLocksRows(t *testing.T) {
	m, mock := newMockMySQL(t)

	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_id", "event_type", "payload", "status", "retry_count"}).
		AddRow(1, constants.AggregateProduct, "p-1", "evt-1", constants.EventProductLiked, []byte(`{}`), constants.OutboxStatusPending, 0)
	mock.ExpectQuery("SELECT .* FROM .outbox_records. WHERE status = .+ ORDER BY created_at asc LIMIT .+ FOR UPDATE SKIP LOCKED").
		WillReturnRows(rows)

	records, err := m.FetchPendingOutbox(m.DB(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "evt-1", records[0].EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestEventHandled 验证快速路径去重查询
func TestEventHandled(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM .idempotency_records. WHERE event_id = .+ AND handler_name = .+").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	seen, err := m.EventHandled(m.DB(), "evt-1", "catalog-consumer")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRecordHandledTranslatesDuplicate 验证唯一索引冲突翻译为ErrDuplicateEvent
func TestRecordHandledTranslatesDuplicate(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectExec("INSERT INTO .idempotency_records.").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'evt-1-catalog-consumer' for key 'ux_idem_event_handler'"))

	err := m.RecordHandled(m.DB(), &models.IdempotencyRecord{
		EventID:     "evt-1",
		HandlerName: "catalog-consumer",
	})
	require.ErrorIs(t, err, ErrDuplicateEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRecordHandledOtherErrorsPassThrough 验证非冲突错误原样包装上抛
func TestRecordHandledOtherErrorsPassThrough(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectExec("INSERT INTO .idempotency_records.").
		WillReturnError(errors.New("connection lost"))

	err := m.RecordHandled(m.DB(), &models.IdempotencyRecord{EventID: "evt-2", HandlerName: "order-consumer"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEvent)
}

// TestAdjustProductLikeCountClampsAtZero 验证点赞计数用GREATEST钳制下界
func TestAdjustProductLikeCountClampsAtZero(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectExec("UPDATE .products. SET .like_count.=GREATEST\\(like_count \\+ .+, 0\\)").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.AdjustProductLikeCount(m.DB(), "p-1", -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestIncrementProductSalesCountSkipsNonPositive 验证非正数量不触达数据库
func TestIncrementProductSalesCountSkipsNonPositive(t *testing.T) {
	m, mock := newMockMySQL(t)

	require.NoError(t, m.IncrementProductSalesCount(m.DB(), "p-1", 0))
	require.NoError(t, m.IncrementProductSalesCount(m.DB(), "p-1", -2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRequeueFailedOutboxNotFound 验证非FAILED记录的重投返回ErrRecordNotFound
func TestRequeueFailedOutboxNotFound(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectExec("UPDATE .outbox_records. SET .+ WHERE id = .+ AND status = .+").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.RequeueFailedOutbox(context.Background(), 42)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRequeueFailedOutbox 验证FAILED记录被重置为PENDING
func TestRequeueFailedOutbox(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectExec("UPDATE .outbox_records. SET .+ WHERE id = .+ AND status = .+").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.RequeueFailedOutbox(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCountFailedOrders 验证失败订单统计
func TestCountFailedOrders(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM .orders. WHERE status = .+").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(3))

	count, err := m.CountFailedOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
