// Package janitor 清理孤儿临时文件：事务在存储中过期，既没有完成也没有取消
package janitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/metrics"
	"terminal-terrace/blob-service/internal/txstore"
)

type Janitor struct {
	store   txstore.Store
	files   *blobfs.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	grace   time.Duration
	now     func() time.Time
}

// New grace 为临时文件的最短保留时间：Init 先预分配文件再写事务，刚创建的文件可能还查不到事务
func New(store txstore.Store, files *blobfs.Store, m *metrics.Metrics, log *zap.Logger, grace time.Duration) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(false)
	}
	return &Janitor{
		store:   store,
		files:   files,
		metrics: m,
		log:     log.Named("janitor"),
		grace:   grace,
		now:     time.Now,
	}
}

// Sweep 扫描一次临时目录，返回删除的文件数
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	temps, err := j.files.ListTemp()
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.grace)
	removed := 0
	for _, tf := range temps {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if tf.ModTime.After(cutoff) {
			continue
		}

		_, err := j.store.Get(ctx, tf.TxID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, txstore.ErrNotFound):
			// 存储不可用时不能判断，跳过
			j.log.Warn("查询事务失败，跳过", zap.String("transaction_id", tf.TxID), zap.Error(err))
			continue
		}

		if err := j.files.Remove(tf.Path); err != nil {
			j.log.Warn("删除临时文件失败", zap.String("path", tf.Path), zap.Error(err))
			continue
		}
		removed++
		j.log.Info("已删除孤立的临时文件",
			zap.String("transaction_id", tf.TxID),
			zap.Int64("size", tf.Size),
			zap.Time("mod_time", tf.ModTime),
		)
	}

	j.metrics.TempRemoved(removed)
	return removed, nil
}

// Run 按 interval 周期清理，直到 ctx 取消
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				j.log.Error("临时文件清理失败", zap.Error(err))
				continue
			}
			if n > 0 {
				j.log.Info("临时文件清理完成", zap.Int("removed", n))
			}
		}
	}
}
