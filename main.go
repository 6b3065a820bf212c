package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commerce-core-go/internal/api/handler"
	"commerce-core-go/internal/api/router"
	"commerce-core-go/internal/config"
	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/consumer"
	"commerce-core-go/internal/event"
	"commerce-core-go/internal/gateway"
	applogger "commerce-core-go/internal/logger"
	"commerce-core-go/internal/outbox"
	"commerce-core-go/internal/ranking"
	"commerce-core-go/internal/reconcile"
	"commerce-core-go/internal/storage"
	"commerce-core-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"         //nolint:gochecknoglobals
	serviceName = "commerce-core" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}

	applogger.Init(applogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(applogger.Logger))
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, serviceName, version, cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// 预先声明两个业务主题，发布端与消费端共同依赖
	for _, topic := range []string{constants.TopicCatalogEvents, constants.TopicOrderEvents} {
		if err := storageManager.RabbitMQ.EnsureTopic(topic); err != nil {
			glog.Fatalf("声明主题 %s 失败: %v", topic, err)
		}
		if err := storageManager.RabbitMQ.EnsureTopic(event.DeadLetterTopic(topic)); err != nil {
			glog.Fatalf("声明死信主题失败: %v", err)
		}
	}

	// 发件箱中继
	relay := outbox.NewRelay(
		storageManager.MySQL.DB(),
		storageManager.MySQL,
		storageManager.RabbitMQ,
		applogger.Component("outbox-relay"),
		outbox.WithPollingInterval(config.ParseInterval(cfg.Relay.PollInterval, 5*time.Second)),
		outbox.WithBatchSize(cfg.Relay.BatchSize),
		outbox.WithMaxRetry(cfg.Relay.MaxRetry),
	)
	relay.Start()
	glog.Info("发件箱中继已启动")

	// 死信隔离；MinIO缺席时仅发布到死信主题，不做归档
	var archive storage.DeadLetterArchive
	if storageManager.MinIO != nil {
		archive = storageManager.MinIO
	}
	dlq := consumer.NewDeadLetterSink(storageManager.RabbitMQ, archive, applogger.Component("dead-letter"))

	// 排行榜打分
	weights := ranking.NewConfigWeights(&cfg.Ranking)
	rankingTTL := time.Duration(cfg.Ranking.TTLHours) * time.Hour
	aggregator := ranking.NewAggregator(storageManager.Redis, weights, rankingTTL, applogger.Component("ranking"))

	// 三个消费者组。排行榜消费者同时订阅两个主题，
	// 每个 (主题, 组) 对应一条独立队列与消费循环。
	consumers := []struct {
		topic     string
		processor consumer.Processor
	}{
		{constants.TopicCatalogEvents, consumer.NewCatalogProcessor(storageManager.MySQL, applogger.Component("catalog-consumer"))},
		{constants.TopicOrderEvents, consumer.NewOrderProcessor(storageManager.MySQL, applogger.Component("order-consumer"))},
		{constants.TopicCatalogEvents, aggregator},
		{constants.TopicOrderEvents, aggregator},
	}

	stopChans := make([]chan<- struct{}, 0, len(consumers))
	for _, c := range consumers {
		bc := consumer.NewBatchConsumer(
			storageManager.MySQL.DB(),
			storageManager.MySQL,
			c.processor,
			dlq,
			applogger.Component(c.processor.Name()),
		)
		stop, err := storageManager.RabbitMQ.StartBatchConsumer(
			c.topic,
			c.processor.Name(),
			cfg.RabbitMQ.ConsumerBatchSize,
			cfg.RabbitMQ.BatchWindow(),
			bc.HandleBatch,
		)
		if err != nil {
			glog.Fatalf("启动消费者失败 (topic=%s, handler=%s): %v", c.topic, c.processor.Name(), err)
		}
		stopChans = append(stopChans, stop)
	}
	glog.Info("批量消费者已启动")

	// 支付网关客户端：HTTP实现外面包一层熔断与重试
	httpGateway, err := gateway.NewHTTPClient(&cfg.Gateway)
	if err != nil {
		glog.Fatalf("初始化支付网关客户端失败: %v", err)
	}
	protectedGateway := gateway.NewProtectedClient(httpGateway, &cfg.Gateway, applogger.Component("gateway"))

	// 支付对账调度器
	reconciler := reconcile.NewScheduler(
		storageManager.MySQL,
		protectedGateway,
		&cfg.Reconciler,
		cfg.Gateway.CallbackURL,
		applogger.Component("reconciler"),
	)
	reconciler.Start()
	glog.Info("支付对账调度器已启动")

	// 每日榜单结转任务
	carryOver := ranking.NewCarryOverJob(
		storageManager.Redis,
		cfg.Ranking.CarryOverFraction,
		rankingTTL,
		cfg.Ranking.CarryOverAt,
		applogger.Component("carry-over"),
	)
	carryOver.Start()
	glog.Info("榜单结转任务已启动")

	// HTTP服务器
	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	rankingHandler := handler.NewRankingHandler(aggregator, applogger.Component("ranking-api"))
	opsHandler := handler.NewOpsHandler(storageManager.MySQL, applogger.Component("ops-api"))
	router.RegisterRoutes(h, rankingHandler, opsHandler, cfg.Server.OpsAPIKey)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	// 先停止生产侧与定时任务，再停止消费与HTTP入口
	relay.Stop()
	reconciler.Stop()
	carryOver.Stop()
	for _, stop := range stopChans {
		close(stop)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("HTTP服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}
