package consumer

import (
	"context"
	"errors"
	"testing"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher 捕获死信发布的桩
type fakePublisher struct {
	topic      string
	routingKey string
	payload    interface{}
	err        error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, topic, routingKey string, data interface{}, persistent bool) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.routingKey = routingKey
	f.payload = data
	return nil
}

// fakeArchive 捕获归档调用的桩
type fakeArchive struct {
	path string
	err  error
}

func (f *fakeArchive) ArchiveDeadLetter(ctx context.Context, topic, eventID string, body []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

func (f *fakeArchive) FetchDeadLetter(ctx context.Context, path string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

// TestQuarantinePublishesToDLQTopic 验证死信发布到<原主题>.dlq并携带失败上下文
func TestQuarantinePublishesToDLQTopic(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewDeadLetterSink(pub, nil, zerolog.Nop())

	delivery := storage.Delivery{
		Topic:      constants.TopicOrderEvents,
		RoutingKey: "order-1",
		Body:       []byte(`{"event_id":"evt-1"}`),
	}
	err := sink.Quarantine(context.Background(), delivery, "evt-1", 3, "handler exploded")
	require.NoError(t, err)

	assert.Equal(t, "order-events.dlq", pub.topic)
	assert.Equal(t, "order-1", pub.routingKey)

	record, ok := pub.payload.(DeadLetterRecord)
	require.True(t, ok)
	assert.Equal(t, constants.TopicOrderEvents, record.OriginalTopic)
	assert.Equal(t, `{"event_id":"evt-1"}`, record.OriginalMessage)
	assert.Equal(t, "handler exploded", record.ErrorMessage)
	assert.Equal(t, 3, record.RetryCount)
	assert.Empty(t, record.ArchivePath, "未配置归档时不应有归档路径")
	assert.False(t, record.FailedAt.IsZero())
}

// TestQuarantineIncludesArchivePath 验证归档成功时路径随死信记录发布
func TestQuarantineIncludesArchivePath(t *testing.T) {
	pub := &fakePublisher{}
	archive := &fakeArchive{path: "order-events/2026-08-28/evt-2.json"}
	sink := NewDeadLetterSink(pub, archive, zerolog.Nop())

	delivery := storage.Delivery{Topic: constants.TopicOrderEvents, RoutingKey: "order-2", Body: []byte(`{}`)}
	require.NoError(t, sink.Quarantine(context.Background(), delivery, "evt-2", 3, "boom"))

	record := pub.payload.(DeadLetterRecord)
	assert.Equal(t, "order-events/2026-08-28/evt-2.json", record.ArchivePath)
}

// TestQuarantineToleratesArchiveFailure 验证归档失败不阻断死信发布
func TestQuarantineToleratesArchiveFailure(t *testing.T) {
	pub := &fakePublisher{}
	archive := &fakeArchive{err: errors.New("minio down")}
	sink := NewDeadLetterSink(pub, archive, zerolog.Nop())

	delivery := storage.Delivery{Topic: constants.TopicCatalogEvents, RoutingKey: "p-1", Body: []byte(`{}`)}
	require.NoError(t, sink.Quarantine(context.Background(), delivery, "evt-3", 3, "boom"))

	record := pub.payload.(DeadLetterRecord)
	assert.Empty(t, record.ArchivePath)
	assert.Equal(t, "catalog-events.dlq", pub.topic)
}

// TestQuarantinePublishFailure 验证发布失败向上传递
func TestQuarantinePublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	sink := NewDeadLetterSink(pub, nil, zerolog.Nop())

	delivery := storage.Delivery{Topic: constants.TopicOrderEvents, Body: []byte(`{}`)}
	err := sink.Quarantine(context.Background(), delivery, "evt-4", 3, "boom")
	require.Error(t, err)
}
