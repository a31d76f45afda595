// Package watcher reloads configuration files when they change on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/dwizi/listing-intake/internal/heartbeat"
)

const heartbeatComponent = "catalog_watcher"

type Service struct {
	files    map[string]struct{}
	logger   *slog.Logger
	onChange func(context.Context, string) error
	watcher  *fsnotify.Watcher
	reporter heartbeat.Reporter
}

// New watches the given files. Parent directories are watched rather than
// the files themselves so atomic rename-over saves are seen.
func New(paths []string, logger *slog.Logger, onChange func(context.Context, string) error) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	files := map[string]struct{}{}
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		absolute, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve watch path %s: %w", path, err)
		}
		files[absolute] = struct{}{}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		files:    files,
		logger:   logger.With("component", "watcher"),
		onChange: onChange,
		watcher:  fileWatcher,
	}, nil
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	dirs := map[string]struct{}{}
	for file := range s.files {
		dirs[filepath.Dir(file)] = struct{}{}
	}
	for dir := range dirs {
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch path %s: %w", dir, err)
		}
	}
	s.logger.Info("file watcher started", "files", strings.Join(s.watchedFiles(), ","))
	if s.reporter != nil {
		s.reporter.Beat(heartbeatComponent, "watching")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("file watcher stopped")
			if s.reporter != nil {
				s.reporter.Stopped(heartbeatComponent, "stopped")
			}
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, event fsnotify.Event) {
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, ok := s.files[name]; !ok {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	s.logger.Info("watched file changed", "path", name, "op", event.Op.String())
	if err := s.onChange(ctx, name); err != nil {
		s.logger.Error("reload after change failed", "path", name, "error", err)
		if s.reporter != nil {
			s.reporter.Degrade(heartbeatComponent, "reload failed", err)
		}
		return
	}
	if s.reporter != nil {
		s.reporter.Beat(heartbeatComponent, "reloaded")
	}
}

func (s *Service) watchedFiles() []string {
	files := make([]string, 0, len(s.files))
	for file := range s.files {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}
