package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxRecord represents a domain event written in the same transaction
// as the business mutation that produced it. Rows are append-only: the
// relay flips the status but nothing ever deletes them.
type OutboxRecord struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement"`
	AggregateType    string         `gorm:"type:varchar(32);not null"`
	AggregateID      string         `gorm:"type:varchar(36);not null;index"`
	EventID          string         `gorm:"type:varchar(36);not null"`
	EventType        string         `gorm:"type:varchar(255);not null"`
	Payload          datatypes.JSON `gorm:"not null"`
	Status           string         `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int            `gorm:"default:0"`
	LastErrorMessage string         `gorm:"type:text"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_outbox_status_created_at,sort:asc"`
	PublishedAt      *time.Time     `gorm:"type:datetime(6);null"`
}

// TableName specifies the table name for the OutboxRecord model.
func (OutboxRecord) TableName() string {
	return "outbox_records"
}
