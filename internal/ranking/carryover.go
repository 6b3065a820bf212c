package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CarryOverStore 结转所需的存储操作
type CarryOverStore interface {
	CarryOverRanking(ctx context.Context, fromDay, toDay time.Time, fraction float64, ttl time.Duration) (bool, error)
}

// CarryOverJob 每日定时把前一日榜单按固定比例并入当日榜单，
// 给新的一天一个非冷启动的初始热度。前一日榜单不存在时整体跳过。
type CarryOverJob struct {
	store    CarryOverStore
	fraction float64
	ttl      time.Duration
	fireAt   string // "HH:MM" 触发时刻
	logger   zerolog.Logger
	done     chan struct{}
	now      func() time.Time // 测试注入
}

// NewCarryOverJob 创建结转任务。fireAt格式为"HH:MM"，如"23:50"。
func NewCarryOverJob(store CarryOverStore, fraction float64, ttl time.Duration, fireAt string, logger zerolog.Logger) *CarryOverJob {
	return &CarryOverJob{
		store:    store,
		fraction: fraction,
		ttl:      ttl,
		fireAt:   fireAt,
		logger:   logger.With().Str("component", "ranking-carry-over").Logger(),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start 启动结转任务的定时循环
func (j *CarryOverJob) Start() {
	j.logger.Info().Str("fire_at", j.fireAt).Msg("榜单结转任务启动")

	go func() {
		for {
			wait, err := j.untilNextFire()
			if err != nil {
				j.logger.Error().Err(err).Msg("解析结转触发时刻失败，任务退出")
				return
			}
			timer := time.NewTimer(wait)

			select {
			case <-j.done:
				timer.Stop()
				j.logger.Info().Msg("榜单结转任务已停止")
				return
			case <-timer.C:
				if err := j.RunOnce(context.Background()); err != nil {
					j.logger.Error().Err(err).Msg("榜单结转失败")
				}
			}
		}
	}()
}

// Stop 优雅地停止结转任务
func (j *CarryOverJob) Stop() {
	close(j.done)
}

// untilNextFire 计算到下一次触发时刻的等待时间
func (j *CarryOverJob) untilNextFire() (time.Duration, error) {
	fireAt, err := time.Parse("15:04", j.fireAt)
	if err != nil {
		return 0, fmt.Errorf("非法的触发时刻 %q: %w", j.fireAt, err)
	}

	now := j.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), fireAt.Hour(), fireAt.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now), nil
}

// RunOnce 执行一次结转：把前一日榜单的部分分数种入当日榜单。
// 前一日榜单已过期或不存在时整体跳过。
func (j *CarryOverJob) RunOnce(ctx context.Context) error {
	today := j.now()
	yesterday := today.AddDate(0, 0, -1)

	done, err := j.store.CarryOverRanking(ctx, yesterday, today, j.fraction, j.ttl)
	if err != nil {
		return err
	}
	if !done {
		j.logger.Info().Msg("前一日榜单不存在，跳过结转")
		return nil
	}

	j.logger.Info().
		Float64("fraction", j.fraction).
		Msg("榜单结转完成")
	return nil
}
