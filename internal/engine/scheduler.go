package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// triggerFileName inside data_dir forces an immediate cycle when touched,
// e.g. by a webhook receiver or an operator.
const triggerFileName = "sync-trigger"

// Scheduler runs cycles on a fixed interval with support for external
// triggers and cooperative shutdown. The pid file is flock-guarded so only
// one daemon ever mutates the working trees.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	dataDir  string
	pidPath  string
	log      *logrus.Entry

	lock *flock.Flock
}

// NewScheduler creates a Scheduler driving the engine every interval.
func NewScheduler(e *Engine, interval time.Duration, dataDir, pidPath string, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		engine:   e,
		interval: interval,
		dataDir:  dataDir,
		pidPath:  pidPath,
		log:      logger.WithField("component", "scheduler"),
	}
}

// acquirePid takes the exclusive daemon lock and writes the pid file.
func (s *Scheduler) acquirePid() error {
	if err := os.MkdirAll(filepath.Dir(s.pidPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	s.lock = flock.New(s.pidPath + ".lock")
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another daemon instance is already running (lock %s held)", s.lock.Path())
	}
	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func (s *Scheduler) releasePid() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	_ = os.Remove(s.pidPath)
}

// Run blocks, executing cycles until ctx is cancelled. Cancellation is
// honoured between cycles and, via ctx, at commit boundaries inside the
// appliers; the in-flight step completes and bookkeeping is written before
// the terminal state is recorded.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.acquirePid(); err != nil {
		return err
	}
	defer s.releasePid()

	if err := s.engine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap engine: %w", err)
	}

	trigger, cleanup, err := s.watchTrigger()
	if err != nil {
		s.log.WithError(err).Warn("external trigger watcher unavailable")
		trigger = make(chan struct{})
	} else {
		defer cleanup()
	}

	s.log.WithField("interval", s.interval).Info("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First cycle runs immediately.
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutdown requested, stopping scheduler")
			s.engine.Shutdown(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		case <-trigger:
			s.log.Info("external trigger received")
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := s.engine.RunCycle(ctx)
	if err != nil {
		s.log.WithError(err).Error("sync cycle failed")
		return
	}
	if stats.SvnToGitCount > 0 || stats.GitToSvnCount > 0 || stats.ConflictsActive > 0 {
		s.log.WithFields(logrus.Fields{
			"svn_to_git": stats.SvnToGitCount,
			"git_to_svn": stats.GitToSvnCount,
			"prs":        stats.PRsProcessed,
			"conflicts":  stats.ConflictsActive,
		}).Info("sync cycle completed with changes")
	}
}

// watchTrigger watches data_dir for the trigger file being created or
// written and converts that into cycle requests.
func (s *Scheduler) watchTrigger() (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(s.dataDir); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}

	triggerPath := filepath.Join(s.dataDir, triggerFileName)
	ch := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != triggerPath {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				_ = os.Remove(triggerPath)
				select {
				case ch <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, func() { _ = watcher.Close() }, nil
}
