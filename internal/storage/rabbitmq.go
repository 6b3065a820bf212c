package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"commerce-core-go/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageQueue 消息队列接口
type MessageQueue interface {
	// 发布消息
	PublishMessage(ctx context.Context, topic, routingKey string, message []byte, persistent bool) error

	// 发布JSON格式消息
	PublishJSON(ctx context.Context, topic, routingKey string, data interface{}, persistent bool) error

	// 确保主题拓扑存在
	EnsureTopic(topic string) error

	// 确保消费队列存在并绑定到主题
	EnsureConsumerQueue(topic, handlerName string) (string, error)

	// 关闭连接
	Close() error
}

// 确保RabbitMQ实现了MessageQueue接口
var _ MessageQueue = (*RabbitMQ)(nil)

// Delivery 一条待处理的投递，保留路由信息供死信转发使用
type Delivery struct {
	Topic      string
	RoutingKey string
	Body       []byte
}

// BatchHandler 整批处理函数。返回nil则整批确认；返回错误则整批
// 重新入队，触发完整的重投递。
type BatchHandler func(ctx context.Context, deliveries []Delivery) error

// RabbitMQ 提供消息队列功能
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	exchangeMap  map[string]bool // 记录已声明的exchange
	queueMap     map[string]bool // 记录已声明的queue
	bindingMap   map[string]bool // 记录已创建的binding (key格式: "exchange:queue")
	topologyLock sync.Mutex      // 保护拓扑声明
	cfg          *config.RabbitMQConfig
}

// NewRabbitMQ 创建RabbitMQ客户端
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器 (%s): %w", cfg.URL, err)
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		queueMap:    make(map[string]bool),
		bindingMap:  make(map[string]bool),
		cfg:         cfg,
	}

	// 初始化channel池
	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, poolErr := conn.Channel()
			if poolErr != nil {
				log.Printf("创建RabbitMQ通道失败: %v", poolErr)
				return nil
			}
			return ch
		},
	}

	// 测试连接和通道
	testCh := mq.getChannel()
	if testCh == nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道")
	}
	mq.putChannel(testCh)

	log.Printf("成功连接到RabbitMQ服务器: %s", cfg.URL)
	return mq, nil
}

// 获取可用通道
func (r *RabbitMQ) getChannel() *amqp.Channel {
	for i := 0; i < 3; i++ {
		chAny := r.channelPool.Get()
		if chAny == nil {
			continue
		}
		ch, ok := chAny.(*amqp.Channel)
		if !ok || ch.IsClosed() {
			continue
		}
		return ch
	}
	return nil
}

// 归还通道到池中
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch == nil || ch.IsClosed() {
		return
	}
	r.channelPool.Put(ch)
}

// EnsureTopic 确保主题对应的交换机存在。
// 主题实现为topic类型交换机，消息键（聚合ID）作为路由键，
// 同一聚合的事件由同一路由键保持broker侧的相对顺序。
func (r *RabbitMQ) EnsureTopic(topic string) error {
	r.topologyLock.Lock()
	defer r.topologyLock.Unlock()

	if r.exchangeMap[topic] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(topic, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明交换机失败 (%s): %w", topic, err)
	}
	r.exchangeMap[topic] = true
	return nil
}

// EnsureConsumerQueue 确保消费者组队列存在并绑定到主题，
// 返回队列名 (格式: <topic>.<handler>)。
func (r *RabbitMQ) EnsureConsumerQueue(topic, handlerName string) (string, error) {
	if err := r.EnsureTopic(topic); err != nil {
		return "", err
	}

	r.topologyLock.Lock()
	defer r.topologyLock.Unlock()

	queueName := topic + "." + handlerName
	bindingKey := topic + ":" + queueName

	ch := r.getChannel()
	if ch == nil {
		return "", fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if !r.queueMap[queueName] {
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			return "", fmt.Errorf("声明队列失败 (%s): %w", queueName, err)
		}
		r.queueMap[queueName] = true
	}

	if !r.bindingMap[bindingKey] {
		// "#" 通配所有路由键：消费者组接收主题下的全部事件
		if err := ch.QueueBind(queueName, "#", topic, false, nil); err != nil {
			return "", fmt.Errorf("绑定队列失败 (%s -> %s): %w", queueName, topic, err)
		}
		r.bindingMap[bindingKey] = true
	}

	return queueName, nil
}

// PublishMessage 发布消息到指定主题
func (r *RabbitMQ) PublishMessage(ctx context.Context, topic, routingKey string, message []byte, persistent bool) error {
	if err := r.EnsureTopic(topic); err != nil {
		return err
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	err := ch.PublishWithContext(ctx,
		topic,      // 交换机
		routingKey, // 路由键（聚合ID）
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: deliveryMode,
			Timestamp:    time.Now(),
			Body:         message,
		},
	)
	if err != nil {
		return fmt.Errorf("发布消息失败 (主题: %s): %w", topic, err)
	}
	return nil
}

// PublishJSON 发布JSON格式的消息
func (r *RabbitMQ) PublishJSON(ctx context.Context, topic, routingKey string, data interface{}, persistent bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}
	return r.PublishMessage(ctx, topic, routingKey, jsonData, persistent)
}

// StartBatchConsumer 启动批量消费循环。投递先聚合成批
// （最多batchSize条，或窗口超时后凑到多少算多少），整批交给handler：
// 成功则用multiple-ack一次确认到批尾；失败则整批重新入队，
// 形成完整的重投递。确认只发生在handler返回之后。
func (r *RabbitMQ) StartBatchConsumer(topic, handlerName string, batchSize int, batchWindow time.Duration, handler BatchHandler) (chan<- struct{}, error) {
	queueName, err := r.EnsureConsumerQueue(topic, handlerName)
	if err != nil {
		return nil, err
	}

	stopCh := make(chan struct{})

	ch := r.getChannel()
	if ch == nil {
		return nil, fmt.Errorf("无法获取RabbitMQ通道")
	}

	// 预取数量至少覆盖一个完整批次
	prefetch := r.cfg.PrefetchCount
	if prefetch < batchSize {
		prefetch = batchSize
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName, // 队列
		"",        // 消费者标签，留空由server生成唯一标签
		false,     // 自动确认
		false,     // 独占
		false,     // 非本地
		false,     // 非阻塞
		nil,       // 参数
	)
	if err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	go func() {
		defer r.putChannel(ch)
		defer log.Printf("RabbitMQ批量消费者已停止: %s", queueName)

		log.Printf("RabbitMQ批量消费者已启动，队列: %s, 批量: %d, 窗口: %s", queueName, batchSize, batchWindow)

		var (
			batch   []Delivery
			lastTag uint64
		)
		timer := time.NewTimer(batchWindow)
		defer timer.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := handler(context.Background(), batch); err != nil {
				log.Printf("批次处理失败，整批重新入队 (队列: %s, 批量: %d): %v", queueName, len(batch), err)
				if nackErr := ch.Nack(lastTag, true, true); nackErr != nil {
					log.Printf("拒绝消息失败: %v", nackErr)
				}
			} else {
				if ackErr := ch.Ack(lastTag, true); ackErr != nil {
					log.Printf("确认消息失败: %v", ackErr)
				}
			}
			batch = nil
		}

		for {
			select {
			case <-stopCh:
				flush()
				return
			case <-timer.C:
				flush()
				timer.Reset(batchWindow)
			case delivery, ok := <-deliveries:
				if !ok {
					log.Println("RabbitMQ通道已关闭")
					flush()
					return
				}
				batch = append(batch, Delivery{
					Topic:      topic,
					RoutingKey: delivery.RoutingKey,
					Body:       delivery.Body,
				})
				lastTag = delivery.DeliveryTag
				if len(batch) >= batchSize {
					flush()
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(batchWindow)
				}
			}
		}
	}()

	return stopCh, nil
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn.Close()
	}
	return nil
}
