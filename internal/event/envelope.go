package event // 定义了事件信封与事件类型的一次性解析

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commerce-core-go/internal/constants"
)

// ErrMalformedEnvelope 信封缺少必需字段或JSON非法。
// 这类消息永远不可能处理成功，消费方应丢弃而非重试。
var ErrMalformedEnvelope = errors.New("事件信封缺少必需字段")

// Envelope 事件信封，是发件箱与消息体之间的统一线格式
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Kind 已知事件种类。字符串匹配只在解析时发生一次，
// 下游处理器基于Kind分派，不再重复匹配字符串。
type Kind int

const (
	KindUnknown Kind = iota
	KindProductViewed
	KindProductLiked
	KindProductUnliked
	KindOrderCreated
	KindOrderPaid
	KindOrderPaymentFailed
)

// ProductPayload 商品事件的业务载荷
type ProductPayload struct {
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id,omitempty"`
}

// OrderPayload 订单事件的业务载荷
type OrderPayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id,omitempty"`
	UnitPrice int64  `json:"unit_price,omitempty"` // 单位: 分
	Quantity  int64  `json:"quantity,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Event 解析完成的事件。Kind为KindUnknown时表示事件类型未知，
// 消费方记录日志后忽略（前向兼容）。
type Event struct {
	Envelope Envelope
	Kind     Kind
	Product  *ProductPayload // 商品类事件时非nil
	Order    *OrderPayload   // 订单类事件时非nil
}

// kindByType 事件类型到Kind的映射
var kindByType = map[string]Kind{
	constants.EventProductViewed:      KindProductViewed,
	constants.EventProductLiked:       KindProductLiked,
	constants.EventProductUnliked:     KindProductUnliked,
	constants.EventOrderCreated:       KindOrderCreated,
	constants.EventOrderPaid:          KindOrderPaid,
	constants.EventOrderPaymentFailed: KindOrderPaymentFailed,
}

// Parse 解析消息体为事件。信封字段缺失返回ErrMalformedEnvelope；
// 未知事件类型不报错，返回KindUnknown变体。
func Parse(body []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventID == "" || env.EventType == "" || env.AggregateID == "" {
		return nil, ErrMalformedEnvelope
	}

	evt := &Event{Envelope: env, Kind: kindByType[env.EventType]}

	switch evt.Kind {
	case KindProductViewed, KindProductLiked, KindProductUnliked:
		p := &ProductPayload{}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, p); err != nil {
				return nil, fmt.Errorf("%w: 商品载荷非法: %v", ErrMalformedEnvelope, err)
			}
		}
		if p.ProductID == "" {
			p.ProductID = env.AggregateID
		}
		evt.Product = p
	case KindOrderCreated, KindOrderPaid, KindOrderPaymentFailed:
		o := &OrderPayload{}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, o); err != nil {
				return nil, fmt.Errorf("%w: 订单载荷非法: %v", ErrMalformedEnvelope, err)
			}
		}
		if o.OrderID == "" {
			o.OrderID = env.AggregateID
		}
		evt.Order = o
	}

	return evt, nil
}

// TopicFor 返回聚合类型对应的主题。未知聚合类型属于编程错误，
// 由调用方决定如何失败（中继视为致命错误）。
func TopicFor(aggregateType string) (string, bool) {
	switch aggregateType {
	case constants.AggregateOrder:
		return constants.TopicOrderEvents, true
	case constants.AggregateProduct:
		return constants.TopicCatalogEvents, true
	default:
		return "", false
	}
}

// DeadLetterTopic 返回主题对应的死信主题名
func DeadLetterTopic(topic string) string {
	return topic + constants.DeadLetterSuffix
}
