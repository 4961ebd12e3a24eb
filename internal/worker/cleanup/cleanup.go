// Package cleanup はどのidentityからも参照されなくなった期限切れトークンと、
// 期限切れセッションを定期的に削除するジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は期限切れ後もトークンを保持する期間のデフォルト値。
const DefaultRetention = 30 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MetricsRecorder は削除件数を記録するインターフェース。
type MetricsRecorder interface {
	RecordTokensCleaned(count int64)
}

type noopRecorder struct{}

func (noopRecorder) RecordTokensCleaned(int64) {}

const deleteDetachedTokensSQL = `DELETE FROM tokens t
	WHERE NOT EXISTS (SELECT 1 FROM identities i WHERE i.token_id = t.id)
	  AND t.issued_at + make_interval(secs => t.ttl_seconds) < now() - $1::interval`

const deleteExpiredSessionsSQL = `DELETE FROM sessions WHERE expires_at < now()`

// CleanupJob は不要になったトークンとセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db        Executor
	logger    *slog.Logger
	metrics   MetricsRecorder
	Retention time.Duration // 期限切れ後の保持期間（デフォルト: 30日）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// metricsがnilの場合は記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, metrics MetricsRecorder) *CleanupJob {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &CleanupJob{
		db:        db,
		logger:    logger,
		metrics:   metrics,
		Retention: DefaultRetention,
	}
}

// Run はidentityから参照されていない、期限切れからRetention以上経過したトークンを削除し、
// 続けて期限切れのセッションを削除する。
// identityが参照しているトークンは期限切れでも削除しない（次回のBindで置き換えられる）。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	retention := fmt.Sprintf("%d seconds", int64(j.Retention/time.Second))

	result, err := j.db.ExecContext(ctx, deleteDetachedTokensSQL, retention)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	deletedTokens, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	j.metrics.RecordTokensCleaned(deletedTokens)

	result, err = j.db.ExecContext(ctx, deleteExpiredSessionsSQL)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}
	deletedSessions, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_tokens", deletedTokens),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後interval毎にRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *CleanupJob) runAndLog(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
