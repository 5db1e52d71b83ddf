package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Deployer is what a Scanner drives.
type Deployer interface {
	Deploy(ctx context.Context, path string) error
	Undeploy(ctx context.Context, path string) error
	IsDeployed(path string) bool
}

// Scanner deploys everything found in a directory and keeps it in step
// with the directory through fsnotify. Changes are debounced per path.
type Scanner struct {
	dir      string
	target   Deployer
	debounce time.Duration
	logger   *slog.Logger
}

type ScannerOption func(*Scanner)

func WithDebounce(d time.Duration) ScannerOption { return func(s *Scanner) { s.debounce = d } }

func WithScanLogger(l *slog.Logger) ScannerOption { return func(s *Scanner) { s.logger = l } }

func NewScanner(dir string, target Deployer, opts ...ScannerOption) *Scanner {
	s := &Scanner{dir: dir, target: target, debounce: 500 * time.Millisecond, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan deploys every deployable entry of the directory once, in name order.
func (s *Scanner) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := KindOf(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.apply(ctx, filepath.Join(s.dir, n))
	}
	return nil
}

// Run performs an initial Scan and then watches the directory until ctx
// is done.
func (s *Scanner) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", s.dir, err)
	}
	if err := s.Scan(ctx); err != nil {
		return err
	}
	s.logger.Info("Watching deploy directory", "dir", s.dir)

	pending := map[string]struct{}{}
	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(s.debounce)
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				s.apply(ctx, p)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Deploy directory watch error", "dir", s.dir, "error", err)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	_, ok := KindOf(ev.Name)
	return ok
}

// apply deploys p when it exists and undeploys it when it is gone.
func (s *Scanner) apply(ctx context.Context, p string) {
	if _, err := os.Stat(p); err != nil {
		if s.target.IsDeployed(p) {
			if err := s.target.Undeploy(ctx, p); err != nil {
				s.logger.Warn("Undeploy failed", "path", p, "error", err)
			}
		}
		return
	}
	if err := s.target.Deploy(ctx, p); err != nil {
		s.logger.Warn("Deploy failed", "path", p, "error", err)
	}
}
