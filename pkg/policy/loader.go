package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// Loader reads .rego policy files from disk and can watch them for changes.
type Loader struct {
	log     *telemetry.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(log *telemetry.Logger) *Loader {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &Loader{log: log.NewComponentLogger("policy-loader")}
}

// LoadFromPaths loads policies from files or directories. Directories are
// walked recursively for .rego files.
func (l *Loader) LoadFromPaths(paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.loadFile(path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(file, ".rego") {
				return nil
			}
			p, err := l.loadFile(file)
			if err != nil {
				return err
			}
			policies = append(policies, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk policy directory %s: %w", path, err)
		}
	}

	l.log.Infof("loaded %d policies from %d paths", len(policies), len(paths))
	return policies, nil
}

// loadFile reads one .rego file into a Policy. The file name becomes the
// policy name; leading comment lines become the description.
func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	return &Policy{
		Name:        name,
		Description: headComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
	}, nil
}

// headComment collects the leading comment block of a Rego source file.
func headComment(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(comment)
	}
	return b.String()
}

// Watch re-invokes reload with freshly loaded policies whenever a watched
// .rego file is written or created. Events are debounced so editors that
// write in several steps trigger one reload. Watch returns immediately;
// the watcher stops when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			l.log.WithError(err).Warnf("failed to watch %s", path)
		}
	}

	go l.processEvents(ctx, paths, reload)
	l.log.Infof("watching %d policy paths", len(paths))
	return nil
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reload func([]Policy) error) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			l.log.Debugf("policy file changed: %s", event.Name)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				policies, err := l.LoadFromPaths(paths)
				if err != nil {
					l.log.WithError(err).Error("failed to reload policies")
					return
				}
				if err := reload(policies); err != nil {
					l.log.WithError(err).Error("failed to apply reloaded policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.WithError(err).Error("policy watcher error")
		}
	}
}

// Close stops the watcher if one is running.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
