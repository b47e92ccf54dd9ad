package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
)

const lockFileName = ".appforge_install.lock"

// InstallLock is an advisory cross-process mutex over one project
// directory, held only for the duration of a dependency install. The lock
// is a sentinel file created with O_EXCL so two acquirers cannot both
// succeed; a crashed holder's lock is reclaimable after the staleness
// threshold.
type InstallLock struct {
	dir        string
	staleAfter time.Duration
	logger     *logger.Logger
}

// NewInstallLock creates a lock handle for a project directory. The handle
// holds no resources until Acquire succeeds.
func NewInstallLock(dir string, staleAfter time.Duration, log *logger.Logger) *InstallLock {
	return &InstallLock{dir: dir, staleAfter: staleAfter, logger: log}
}

func (l *InstallLock) path() string {
	return filepath.Join(l.dir, lockFileName)
}

// Acquire attempts to take the lock. Returns false when another install
// holds a fresh lock. A stale lock is removed and acquisition retried once;
// the reclaim may race with a legitimate new holder, in which case this
// acquirer loses and the install is skipped, never double-deleted.
func (l *InstallLock) Acquire() bool {
	if l.tryCreate() {
		return true
	}

	info, err := os.Stat(l.path())
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between the create attempt and the stat.
			return l.tryCreate()
		}
		l.logger.Warn("failed to inspect install lock", zap.Error(err))
		return false
	}

	age := time.Since(info.ModTime())
	if age <= l.staleAfter {
		l.logger.Info("install lock held, skipping install",
			zap.String("path", l.path()),
			zap.Duration("age", age))
		return false
	}

	l.logger.Warn("removing stale install lock",
		zap.String("path", l.path()),
		zap.Duration("age", age))
	if err := os.Remove(l.path()); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("failed to remove stale install lock", zap.Error(err))
		return false
	}
	return l.tryCreate()
}

func (l *InstallLock) tryCreate() bool {
	fd, err := os.OpenFile(l.path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	fmt.Fprintf(fd, "%d %d\n", os.Getpid(), time.Now().Unix())
	fd.Close()
	return true
}

// Release removes the lock file. Safe to call when the lock is not held.
func (l *InstallLock) Release() {
	if err := os.Remove(l.path()); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("failed to remove install lock",
			zap.String("path", l.path()), zap.Error(err))
	}
}
