// Package cleanup はアップロード用一時ファイルの自動削除ジョブを提供する。
// 登録処理は成功・失敗にかかわらず一時ファイルを削除するが、
// プロセスの異常終了で残ったファイルを保持期間経過後に定期的に掃除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempFileJob は保持期間を超過した一時ファイルの削除ジョブ。
// 冪等な削除処理で、削除対象がない場合もエラーにならない。
type TempFileJob struct {
	dir    string
	prefix string
	logger *slog.Logger
	now    func() time.Time

	MaxAge time.Duration // 一時ファイルの保持期間（デフォルト: 1時間）
}

// NewTempFileJob は新しいTempFileJobを生成する。
// dirが空の場合はos.TempDir()を対象にする。
func NewTempFileJob(dir, prefix string, logger *slog.Logger) *TempFileJob {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempFileJob{
		dir:    dir,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
		MaxAge: time.Hour,
	}
}

// Run はprefixに一致し、更新時刻がMaxAgeより古いファイルを削除する。
func (j *TempFileJob) Run(ctx context.Context) error {
	start := j.now()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Error("failed to read temp directory",
			slog.String("error", err.Error()),
			slog.String("dir", j.dir),
		)
		return fmt.Errorf("failed to read temp directory: %w", err)
	}

	cutoff := start.Add(-j.MaxAge)
	var deleted, failed int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), j.prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// 他の処理で削除済み
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(j.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			failed++
			j.logger.Warn("failed to remove temp file",
				slog.String("error", err.Error()),
				slog.String("file", entry.Name()),
			)
			continue
		}
		deleted++
	}

	j.logger.Info("temp file cleanup completed",
		slog.Int("deleted_count", deleted),
		slog.Int("failed_count", failed),
		slog.Duration("max_age", j.MaxAge),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *TempFileJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("temp file cleanup started",
		slog.String("dir", j.dir),
		slog.Duration("interval", interval),
	)

	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("temp file cleanup failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			j.logger.Info("temp file cleanup stopped")
			return
		case <-ticker.C:
		}
	}
}
