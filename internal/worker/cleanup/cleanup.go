// Package cleanup はトークンレコードの定期クリーンアップジョブを提供する。
// 有効期限を過ぎたレコードに期限切れフラグを立て、
// 保持期間を超えて失効・期限切れのままのレコードを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は失効・期限切れレコードの保持期間のデフォルト値。
const DefaultRetention = 7 * 24 * time.Hour

// TokenJanitor はクリーンアップジョブが使うトークン操作。token.Serviceが実装する。
type TokenJanitor interface {
	MarkExpired(ctx context.Context) (int64, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob はトークンレコードのクリーンアップジョブ。
// 冪等であり、複数のワーカーから同時に実行されても結果は変わらない。
type CleanupJob struct {
	tokens    TokenJanitor
	logger    *slog.Logger
	Retention time.Duration
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持期間は7日。
func NewCleanupJob(tokens TokenJanitor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		tokens:    tokens,
		logger:    logger,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Run は期限切れフラグの付与と古いレコードの削除を順に行う。
// フラグ付与に失敗した場合は削除を行わない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	expiredCount, err := j.tokens.MarkExpired(ctx)
	if err != nil {
		j.logger.Error("トークンの期限切れ処理に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れ処理に失敗: %w", err)
	}

	before := j.now().Add(-j.Retention)
	deletedCount, err := j.tokens.DeleteStale(ctx, before)
	if err != nil {
		j.logger.Error("古いトークンレコードの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("古いトークンレコードの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("expired_count", expiredCount),
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。実行時のエラーはログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
