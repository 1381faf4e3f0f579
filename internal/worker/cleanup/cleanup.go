// Package cleanup はアイドル状態のブラウザクライアントを破棄するジョブを提供する。
// 一定時間アクセスのないクライアントのセッションと開いているビューを閉じ、
// 期限切れのトークンとプロフィール下書きを保管先から取り除く。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper はアイドルクライアントを破棄し、破棄した数を返す。
// *session.Manager が満たす。
type Sweeper interface {
	Sweep() int
}

// Purger は期限切れエントリを削除し、削除した数を返す。
// *session.MemoryVault が満たす。TTLを保管先が管理する場合は不要。
type Purger interface {
	Purge() int
}

// EvictionRecorder は破棄したクライアント数を記録する。
type EvictionRecorder interface {
	RecordClientsEvicted(count int)
}

// CleanupJob はアイドルクライアントの定期破棄ジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	sweeper  Sweeper
	purger   Purger
	recorder EvictionRecorder
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。purgerとrecorderはnilでもよい。
func NewCleanupJob(sweeper Sweeper, purger Purger, recorder EvictionRecorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sweeper:  sweeper,
		purger:   purger,
		recorder: recorder,
		logger:   logger,
	}
}

// Run はアイドルクライアントを一度だけ破棄する。
// コンテキストがキャンセル済みの場合は何もせずエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("クライアントクリーンアップの実行を中断: %w", err)
	}
	start := time.Now()

	evicted := j.sweeper.Sweep()
	if j.recorder != nil && evicted > 0 {
		j.recorder.RecordClientsEvicted(evicted)
	}

	purged := 0
	if j.purger != nil {
		purged = j.purger.Purge()
	}

	duration := time.Since(start)
	j.logger.Info("クライアントクリーンアップジョブが完了しました",
		slog.Int("evicted_count", evicted),
		slog.Int("purged_count", purged),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("クライアントクリーンアップを開始します",
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クライアントクリーンアップを停止します")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
