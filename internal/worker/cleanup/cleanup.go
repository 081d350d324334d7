// Package cleanup は期限切れ認証データの自動削除ジョブを提供する。
// 有効期限を過ぎたセッションとブートストラップトークンの使用済み記録を
// 定期的に削除する。検証時にも期限は確認されるため、削除は容量管理が目的となる。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/repository"
)

// 削除対象の種別。メトリクスのラベルとして使用する。
const (
	KindSessions        = "sessions"
	KindBootstrapTokens = "bootstrap_tokens"
)

// ExpiredPurger は期限切れレコードを削除するリポジトリのインターフェース。
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type target struct {
	kind   string
	purger ExpiredPurger
}

// CleanupJob は期限切れの認証データを削除するジョブ。
// 冪等な削除処理を保証し、任意の間隔で繰り返し実行できる。
type CleanupJob struct {
	targets  []target
	recorder metrics.CleanupRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewCleanupJob(stores *repository.Stores, recorder metrics.CleanupRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		targets: []target{
			{kind: KindSessions, purger: stores.Sessions},
			{kind: KindBootstrapTokens, purger: stores.BootstrapTokens},
		},
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は期限切れのセッションとブートストラップトークン記録を削除する。
// 一方の削除に失敗しても他方の削除は実行し、すべてのエラーをまとめて返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var errs []error
	for _, t := range j.targets {
		deleted, err := t.purger.DeleteExpired(ctx, now)
		if err != nil {
			j.logger.Error("cleanup failed",
				slog.String("kind", t.kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to purge %s: %w", t.kind, err))
			continue
		}

		if j.recorder != nil {
			j.recorder.RecordPurged(t.kind, deleted)
		}
		j.logger.Info("cleanup completed",
			slog.String("kind", t.kind),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("cleanup job finished",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、その後interval間隔でRunを繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
