// Package cleanup は期限切れOTPの定期削除ジョブを提供する。
// 検証時の遅延削除を補うもので、検証されないまま失効したコードを掃除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は定期実行の既定間隔。
const DefaultInterval = time.Hour

// Purger は期限切れOTPの削除を抽象化するインターフェース。
// repository.OTPRepositoryが満たす。
type Purger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PurgeRecorder は削除件数を記録する。metrics.AuthMetricsが満たす。
type PurgeRecorder interface {
	RecordOTPPurged(count int64)
}

// OTPPurgeJob は期限切れOTPの削除ジョブ。
// 冪等で、削除対象がない場合でもエラーにならない。
type OTPPurgeJob struct {
	purger   Purger
	logger   *slog.Logger
	recorder PurgeRecorder
	now      func() time.Time
	Interval time.Duration
}

// NewOTPPurgeJob は新しいOTPPurgeJobを生成する。recorderはnilでもよい。
func NewOTPPurgeJob(purger Purger, logger *slog.Logger, recorder PurgeRecorder) *OTPPurgeJob {
	return &OTPPurgeJob{
		purger:   purger,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		Interval: DefaultInterval,
	}
}

// Run は現在時刻より前に失効したOTPを削除する。
func (j *OTPPurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.purger.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("OTP purge job failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge expired otps: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordOTPPurged(deletedCount)
	}

	j.logger.Info("OTP purge job completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は即時に1回実行した後、Intervalごとにctxがキャンセルされるまで実行する。
// 個々の実行の失敗はログに残して次回へ持ち越す。
func (j *OTPPurgeJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("OTP purge job stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
