package models

import "time"

// IdempotencyRecord marks an event as already applied by one consumer group.
// The composite unique index is the actual concurrency guard: concurrent
// consumer instances racing on a redelivery both try to insert, and the
// loser gets a duplicate-key error. One table serves every consumer group,
// so uniqueness is per (event_id, handler_name) rather than event_id alone.
type IdempotencyRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	EventID     string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_idem_event_handler,priority:1"`
	HandlerName string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_event_handler,priority:2"`
	EventType   string    `gorm:"type:varchar(255);not null"`
	AggregateID string    `gorm:"type:varchar(36);not null"`
	HandledAt   time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
