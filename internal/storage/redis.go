package storage

import (
	"context"
	"fmt"
	"time"

	"commerce-core-go/internal/config"
	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("commerce-core-go/storage/redis")

// Redis 提供键值与排行榜存储功能
type Redis struct {
	Client *redis.Client
	cfg    *config.RedisConfig
}

// ScoredProduct 排行榜中的一条商品记录
type ScoredProduct struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
	Rank      int64   `json:"rank"` // 1起始
}

// NewRedis 创建Redis客户端
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Redis配置不能为空")
	}

	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	// 连接池设置
	if cfg.PoolSize > 0 {
		options.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		options.MinIdleConns = cfg.MinIdleConns
	}

	// 超时设置
	if cfg.DialTimeoutSeconds > 0 {
		options.DialTimeout = time.Duration(cfg.DialTimeoutSeconds) * time.Second
	}
	if cfg.ReadTimeoutSeconds > 0 {
		options.ReadTimeout = time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	}
	if cfg.WriteTimeoutSeconds > 0 {
		options.WriteTimeout = time.Duration(cfg.WriteTimeoutSeconds) * time.Second
	}

	// 重试设置
	if cfg.MaxRetries > 0 {
		options.MaxRetries = cfg.MaxRetries
	}
	if cfg.MinRetryBackoffMS > 0 {
		options.MinRetryBackoff = time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond
	}
	if cfg.MaxRetryBackoffMS > 0 {
		options.MaxRetryBackoff = time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接Redis失败 (%s): %w", cfg.Address, err)
	}

	// 注册OpenTelemetry追踪钩子
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("注册Redis追踪钩子失败: %w", err)
	}

	return &Redis{Client: client, cfg: cfg}, nil
}

// RankingKey 返回指定日期榜单的Redis键
func RankingKey(day time.Time) string {
	return fmt.Sprintf(constants.KeyDailyProductRanking, day.Format(constants.RankingDayLayout))
}

// IncrRankingScore 原子累加商品在某日榜单中的分数并刷新TTL。
// delta可为负（取消点赞的修正）。
func (r *Redis) IncrRankingScore(ctx context.Context, day time.Time, productID string, delta float64, ttl time.Duration) error {
	key := RankingKey(day)

	ctx, span := redisTracer.Start(ctx, "redis.IncrRankingScore",
		trace.WithAttributes(
			attribute.String("ranking.key", tracing.SafeRedisKey(key)),
			attribute.String("ranking.product_id", productID),
			attribute.Float64("ranking.delta", delta),
		),
	)
	defer span.End()

	pipe := r.Client.Pipeline()
	pipe.ZIncrBy(ctx, key, delta, productID)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("累加榜单分数失败: %w", err)
	}
	return nil
}

// TopRankedProducts 返回某日榜单分数最高的前n个商品，按位置赋1起始名次
func (r *Redis) TopRankedProducts(ctx context.Context, day time.Time, n int64) ([]ScoredProduct, error) {
	key := RankingKey(day)

	members, err := r.Client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("查询榜单失败: %w", err)
	}

	products := make([]ScoredProduct, 0, len(members))
	for i, member := range members {
		id, ok := member.Member.(string)
		if !ok {
			continue
		}
		products = append(products, ScoredProduct{
			ProductID: id,
			Score:     member.Score,
			Rank:      int64(i) + 1,
		})
	}
	return products, nil
}

// ProductRank 返回单个商品在某日榜单的名次与分数，不在榜时返回nil
func (r *Redis) ProductRank(ctx context.Context, day time.Time, productID string) (*ScoredProduct, error) {
	key := RankingKey(day)

	rank, err := r.Client.ZRevRank(ctx, key, productID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询商品名次失败: %w", err)
	}

	score, err := r.Client.ZScore(ctx, key, productID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询商品分数失败: %w", err)
	}

	return &ScoredProduct{ProductID: productID, Score: score, Rank: rank + 1}, nil
}

// CarryOverRanking 把fromDay榜单按fraction权重并入toDay榜单并刷新TTL。
// ZUNIONSTORE是对键对的单次原子操作；fromDay榜单不存在时整体跳过。
// 返回是否执行了结转。
func (r *Redis) CarryOverRanking(ctx context.Context, fromDay, toDay time.Time, fraction float64, ttl time.Duration) (bool, error) {
	fromKey := RankingKey(fromDay)
	toKey := RankingKey(toDay)

	ctx, span := redisTracer.Start(ctx, "redis.CarryOverRanking",
		trace.WithAttributes(
			attribute.String("ranking.from_key", tracing.SafeRedisKey(fromKey)),
			attribute.String("ranking.to_key", tracing.SafeRedisKey(toKey)),
			attribute.Float64("ranking.fraction", fraction),
		),
	)
	defer span.End()

	exists, err := r.Client.Exists(ctx, fromKey).Result()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, fmt.Errorf("检查前日榜单失败: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	err = r.Client.ZUnionStore(ctx, toKey, &redis.ZStore{
		Keys:    []string{toKey, fromKey},
		Weights: []float64{1.0, fraction},
	}).Err()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, fmt.Errorf("结转榜单失败: %w", err)
	}

	if err := r.Client.Expire(ctx, toKey, ttl).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, fmt.Errorf("刷新榜单TTL失败: %w", err)
	}
	return true, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	return r.Client.Close()
}
