// Package usecase contains application business logic.
package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// Cleaner schedules deferred deletion of downloaded artifacts.
// Deletion is idempotent and failure-tolerant: a missing file is a no-op
// and delete errors are logged as warnings, never propagated.
type Cleaner struct {
	fs     domain.FileSystemManager
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewCleaner creates a new artifact cleaner.
func NewCleaner(fs domain.FileSystemManager, logger *zap.Logger) *Cleaner {
	return &Cleaner{fs: fs, logger: logger}
}

// ScheduleDelete removes the file after the delay if it still exists.
func (c *Cleaner) ScheduleDelete(path string, delay time.Duration) {
	c.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer c.wg.Done()

		if !c.fs.Exists(path) {
			return
		}
		if err := c.fs.Delete(path); err != nil {
			c.logger.Warn("failed to delete artifact",
				zap.String("path", path),
				zap.Error(err))
			return
		}
		c.logger.Info("deleted artifact", zap.String("path", path))
	})
}

// Wait blocks until all scheduled deletions have run (for shutdown and tests).
func (c *Cleaner) Wait() {
	c.wg.Wait()
}
