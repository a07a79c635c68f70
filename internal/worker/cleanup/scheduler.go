package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner は定期実行されるジョブ。
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler はcron式に従ってジョブを実行する。
// 実行が重なった場合は後続の実行をスキップする。
type Scheduler struct {
	job    Runner
	logger *slog.Logger
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(job Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{job: job, logger: logger}
}

// Start は起動直後に1回ジョブを実行し、以降はscheduleに従って実行する。
// ctxがキャンセルされるまでブロックし、実行中のジョブの終了を待ってから戻る。
// scheduleには5フィールドのcron式または"@daily"などの記述子を指定する。
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.AddFunc(schedule, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	s.logger.Info("cleanup scheduler started", slog.String("schedule", schedule))
	s.runOnce(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("cleanup scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job.Run(ctx); err != nil {
		s.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}

// cronLogger はcron.Loggerをslogで実装する。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
