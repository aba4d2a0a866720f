// Package cleanup は期限切れOAuth stateの定期削除ジョブを提供する。
// 消費されずに残ったstateを日次バッチで削除する。sessionsは対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/repository"
)

// PurgeRecorder は削除件数を記録する。
type PurgeRecorder interface {
	RecordStatesPurged(count int64)
}

// CleanupJob は期限切れOAuth stateの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	states   repository.ExpiredStateDeleter
	recorder PurgeRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnil可。
func NewCleanupJob(states repository.ExpiredStateDeleter, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		states:   states,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は現在時刻より前に期限切れとなったstateを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	deleted, err := j.states.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("stateクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("stateクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordStatesPurged(deleted)
	}

	j.logger.Info("stateクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降interval毎にRunを実行する。
// ctxがキャンセルされるまでブロックする。実行失敗は記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
