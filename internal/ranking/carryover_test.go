package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCarryOverStore 记录结转调用的存储桩
type fakeCarryOverStore struct {
	fromDay  time.Time
	toDay    time.Time
	fraction float64
	ttl      time.Duration
	calls    int

	executed bool
	err      error
}

func (f *fakeCarryOverStore) CarryOverRanking(ctx context.Context, fromDay, toDay time.Time, fraction float64, ttl time.Duration) (bool, error) {
	f.calls++
	f.fromDay = fromDay
	f.toDay = toDay
	f.fraction = fraction
	f.ttl = ttl
	return f.executed, f.err
}

// TestCarryOverRunOnce 验证结转方向为前一日到当日，并透传比例与TTL
func TestCarryOverRunOnce(t *testing.T) {
	store := &fakeCarryOverStore{executed: true}
	job := NewCarryOverJob(store, 0.1, 48*time.Hour, "23:50", zerolog.Nop())
	fixed := time.Date(2026, 8, 28, 23, 50, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	require.NoError(t, job.RunOnce(context.Background()))

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "20260827", store.fromDay.Format("20060102"), "来源应是前一日榜单")
	assert.Equal(t, "20260828", store.toDay.Format("20060102"), "目标应是当日榜单")
	assert.Equal(t, 0.1, store.fraction)
	assert.Equal(t, 48*time.Hour, store.ttl)
}

// TestCarryOverSkipsMissingSource 验证前一日榜单不存在时静默跳过
func TestCarryOverSkipsMissingSource(t *testing.T) {
	store := &fakeCarryOverStore{executed: false}
	job := NewCarryOverJob(store, 0.1, 48*time.Hour, "23:50", zerolog.Nop())

	require.NoError(t, job.RunOnce(context.Background()))
	assert.Equal(t, 1, store.calls)
}

// TestCarryOverPropagatesError 验证存储错误向上传递
func TestCarryOverPropagatesError(t *testing.T) {
	store := &fakeCarryOverStore{err: errors.New("redis down")}
	job := NewCarryOverJob(store, 0.1, 48*time.Hour, "23:50", zerolog.Nop())

	err := job.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

// TestUntilNextFire 验证触发时刻的等待计算
func TestUntilNextFire(t *testing.T) {
	job := NewCarryOverJob(&fakeCarryOverStore{}, 0.1, 48*time.Hour, "23:50", zerolog.Nop())

	// 当天还没到触发时刻
	job.now = func() time.Time { return time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC) }
	wait, err := job.untilNextFire()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, wait)

	// 已过触发时刻：等到明天
	job.now = func() time.Time { return time.Date(2026, 8, 28, 23, 55, 0, 0, time.UTC) }
	wait, err = job.untilNextFire()
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+55*time.Minute, wait)

	// 非法格式
	job.fireAt = "25:99"
	_, err = job.untilNextFire()
	require.Error(t, err)
}
