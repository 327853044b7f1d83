package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// Seeder applies a role permission seed file to the store
type Seeder struct {
	writer      rbac.RolePermissionWriter
	invalidator rbac.Invalidator
	path        string
	logger      *logrus.Logger

	mu sync.Mutex
}

// NewSeeder creates a seeder. invalidator may be nil.
func NewSeeder(writer rbac.RolePermissionWriter, invalidator rbac.Invalidator, path string, logger *logrus.Logger) *Seeder {
	return &Seeder{
		writer:      writer,
		invalidator: invalidator,
		path:        path,
		logger:      logger,
	}
}

// Apply loads the seed file and writes every role in it. Runs never overlap.
func (s *Seeder) Apply(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets, err := rbac.LoadSeed(s.path)
	if err != nil {
		return err
	}
	if err := rbac.ApplySeed(ctx, s.writer, s.invalidator, sets); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"file":  s.path,
		"roles": len(sets),
	}).Info("Applied role permission seed")
	return nil
}

// Watch re-applies the seed after the file changes, waiting for delay
// without further changes first. It blocks until ctx is done.
func (s *Seeder) Watch(ctx context.Context, delay time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Clean(s.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	s.logger.WithField("file", s.path).Info("Watching seed file for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.WithField("op", event.Op.String()).Debug("Seed file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, func() {
				if err := s.Apply(ctx); err != nil {
					s.logger.WithError(err).Error("Failed to apply seed after change")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Watcher error")
		}
	}
}
