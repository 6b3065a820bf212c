package constants

// 聚合类型，决定事件发布到哪个主题
const (
	AggregateOrder   = "ORDER"
	AggregateProduct = "PRODUCT"
)

// 事件主题（RabbitMQ交换机名）
const (
	TopicOrderEvents   = "order-events"
	TopicCatalogEvents = "catalog-events"
)

// DeadLetterSuffix 死信主题后缀，完整主题为 <原主题>.dlq
const DeadLetterSuffix = ".dlq"

// 事件类型
const (
	EventProductViewed     = "ProductViewed"
	EventProductLiked      = "ProductLiked"
	EventProductUnliked    = "ProductUnliked"
	EventOrderCreated      = "OrderCreated"
	EventOrderPaid         = "OrderPaid"
	EventOrderPaymentFailed = "OrderPaymentFailed"
)

// 消费者组名，同时作为幂等台账中的handler_name
const (
	HandlerCatalog = "catalog-consumer"
	HandlerOrder   = "order-consumer"
	HandlerRanking = "ranking-consumer"
)

// 发件箱记录状态
const (
	OutboxStatusPending   = "PENDING"
	OutboxStatusPublished = "PUBLISHED"
	OutboxStatusFailed    = "FAILED"
)

// 订单状态
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusFailed    = "FAILED"
	OrderStatusCancelled = "CANCELLED"
)

// 支付方式
const (
	PaymentMethodPoint   = "POINT"
	PaymentMethodGateway = "GATEWAY"
)

// ConsumerMaxRetry 单条消息进入死信前的最大处理次数
const ConsumerMaxRetry = 3
