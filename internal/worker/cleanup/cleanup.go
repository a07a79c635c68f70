// Package cleanup は認証データの定期削除ジョブを提供する。
// 期限切れのリフレッシュトークンと、保持期間（デフォルト7日）を超えて
// メールアドレスが未確認のままのアカウントを削除する。
// プロフィールとトークンはON DELETE CASCADEで合わせて削除される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mealdash/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	deleteExpiredTokensQuery    = `DELETE FROM refresh_tokens WHERE expires_at < now()`
	deleteUnconfirmedUsersQuery = `DELETE FROM users WHERE email_confirmed_at IS NULL AND created_at < now() - $1::interval`
)

// Job は期限切れデータの削除ジョブ。何度実行しても結果は変わらない。
type Job struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	UnconfirmedRetentionDays int // 未確認アカウントの保持日数（デフォルト: 7）
}

// NewJob は新しいJobを生成する。
func NewJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Job{
		db:                       db,
		logger:                   logger,
		metrics:                  collector,
		UnconfirmedRetentionDays: 7,
	}
}

// Run は期限切れのリフレッシュトークンと保持期間を超えた未確認アカウントを削除する。
// 削除対象がない場合でもエラーにならない。
// 保持日数が0以下の場合は作成直後のアカウントまで消えるため、何も削除せずにエラーを返す。
func (j *Job) Run(ctx context.Context) error {
	if j.UnconfirmedRetentionDays <= 0 {
		return fmt.Errorf("unconfirmed retention days must be positive, got %d", j.UnconfirmedRetentionDays)
	}
	start := time.Now()

	tokens, err := j.delete(ctx, "refresh_tokens", deleteExpiredTokensQuery)
	if err != nil {
		return err
	}

	interval := fmt.Sprintf("%d days", j.UnconfirmedRetentionDays)
	users, err := j.delete(ctx, "unconfirmed_users", deleteUnconfirmedUsersQuery, interval)
	if err != nil {
		return err
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_refresh_tokens", tokens),
		slog.Int64("deleted_unconfirmed_users", users),
		slog.Int("retention_days", j.UnconfirmedRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *Job) delete(ctx context.Context, target, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("cleanup delete failed",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to delete %s: %w", target, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count of %s: %w", target, err)
	}
	j.metrics.RecordCleanupDeleted(target, n)
	return n, nil
}
