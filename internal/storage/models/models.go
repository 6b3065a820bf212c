package models

import "time"

// Order is the payment-bearing aggregate the reconciler drives toward a
// terminal state. Status transitions only ever leave PENDING; PAID, FAILED
// and CANCELLED are terminal. RetryCount counts proactive requestPayment
// attempts issued by the reconciler and only moves while the order is
// still PENDING with a GATEWAY payment method.
type Order struct {
	ID                    string     `gorm:"type:varchar(36);primaryKey"`
	UserID                string     `gorm:"type:varchar(36);not null;index"`
	Status                string     `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_orders_status_method_created"`
	PaymentMethod         string     `gorm:"type:varchar(20);not null;index:idx_orders_status_method_created"`
	Amount                int64      `gorm:"not null"` // 单位: 分
	RetryCount            int        `gorm:"default:0"`
	GatewayTransactionKey *string    `gorm:"type:varchar(64);null;index"`
	FailureReason         *string    `gorm:"type:varchar(255);null"`
	CreatedAt             time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_orders_status_method_created"`
	UpdatedAt             time.Time  `gorm:"type:datetime(6)"`
	PaidAt                *time.Time `gorm:"type:datetime(6);null"`
}

// TableName specifies the table name for the Order model.
func (Order) TableName() string {
	return "orders"
}

// Product carries the denormalized counters that catalog events mutate.
type Product struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Name      string    `gorm:"type:varchar(255);not null"`
	UnitPrice int64     `gorm:"not null"` // 单位: 分
	LikeCount  int64    `gorm:"default:0;not null"`
	ViewCount  int64    `gorm:"default:0;not null"`
	SalesCount int64    `gorm:"default:0;not null"`
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6)"`
}

// TableName specifies the table name for the Product model.
func (Product) TableName() string {
	return "products"
}
