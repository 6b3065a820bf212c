package event

import (
	"encoding/json"
	"testing"
	"time"

	"commerce-core-go/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalEnvelope(t *testing.T, env Envelope) []byte {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

// TestParseProductEvent 验证商品事件解析出Kind与载荷
func TestParseProductEvent(t *testing.T) {
	body := marshalEnvelope(t, Envelope{
		EventID:       "evt-1",
		EventType:     constants.EventProductLiked,
		AggregateType: constants.AggregateProduct,
		AggregateID:   "prod-42",
		OccurredAt:    time.Now(),
		Payload:       json.RawMessage(`{"product_id":"prod-42","user_id":"u-7"}`),
	})

	evt, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, KindProductLiked, evt.Kind)
	require.NotNil(t, evt.Product)
	assert.Equal(t, "prod-42", evt.Product.ProductID)
	assert.Equal(t, "u-7", evt.Product.UserID)
	assert.Nil(t, evt.Order)
}

// TestParseOrderEventFallsBackToAggregateID 验证载荷缺少order_id时回退到聚合ID
func TestParseOrderEventFallsBackToAggregateID(t *testing.T) {
	body := marshalEnvelope(t, Envelope{
		EventID:       "evt-2",
		EventType:     constants.EventOrderPaid,
		AggregateType: constants.AggregateOrder,
		AggregateID:   "order-9",
		Payload:       json.RawMessage(`{"product_id":"prod-1","unit_price":1500,"quantity":2}`),
	})

	evt, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, KindOrderPaid, evt.Kind)
	require.NotNil(t, evt.Order)
	assert.Equal(t, "order-9", evt.Order.OrderID)
	assert.Equal(t, int64(1500), evt.Order.UnitPrice)
	assert.Equal(t, int64(2), evt.Order.Quantity)
}

// TestParseMalformedEnvelope 验证缺少必需字段或非法JSON返回ErrMalformedEnvelope
func TestParseMalformedEnvelope(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"非法JSON", []byte(`{not json`)},
		{"缺少event_id", marshalEnvelope(t, Envelope{EventType: constants.EventProductViewed, AggregateID: "p-1"})},
		{"缺少event_type", marshalEnvelope(t, Envelope{EventID: "evt-3", AggregateID: "p-1"})},
		{"缺少aggregate_id", marshalEnvelope(t, Envelope{EventID: "evt-4", EventType: constants.EventProductViewed})},
		{"商品载荷非法", []byte(`{"event_id":"evt-5","event_type":"` + constants.EventProductViewed + `","aggregate_id":"p-1","payload":[1,2]}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.body)
			require.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

// TestParseUnknownEventType 验证未知事件类型不报错，返回KindUnknown
func TestParseUnknownEventType(t *testing.T) {
	body := marshalEnvelope(t, Envelope{
		EventID:       "evt-6",
		EventType:     "warehouse.restocked",
		AggregateType: constants.AggregateProduct,
		AggregateID:   "prod-1",
	})

	evt, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, evt.Kind)
	assert.Nil(t, evt.Product)
	assert.Nil(t, evt.Order)
}

// TestTopicFor 验证聚合类型到主题的映射
func TestTopicFor(t *testing.T) {
	topic, ok := TopicFor(constants.AggregateOrder)
	assert.True(t, ok)
	assert.Equal(t, constants.TopicOrderEvents, topic)

	topic, ok = TopicFor(constants.AggregateProduct)
	assert.True(t, ok)
	assert.Equal(t, constants.TopicCatalogEvents, topic)

	_, ok = TopicFor("warehouse")
	assert.False(t, ok)
}

// TestDeadLetterTopic 验证死信主题命名
func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "order-events.dlq", DeadLetterTopic(constants.TopicOrderEvents))
}
