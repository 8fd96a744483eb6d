package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gatekeep/schema")

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a schema file when it changes on disk. A schema that fails
// to load or validate is reported through OnError and never reaches OnReload,
// so the last good schema stays in effect.
type Watcher struct {
	Path     string
	Roles    RoleSet
	Debounce time.Duration
	OnReload func(*Schema) error
	OnError  func(error)

	log *logrus.Logger
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, roles RoleSet, onReload func(*Schema) error, log *logrus.Logger) *Watcher {
	if log == nil {
		log = logrus.New()
	}
	return &Watcher{
		Path:     path,
		Roles:    roles,
		Debounce: DefaultDebounce,
		OnReload: onReload,
		log:      log,
	}
}

// Run watches until ctx is done. The parent directory is watched rather than
// the file so that editors which replace the file on save are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", w.Path, err)
	}
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	w.log.WithField("path", target).Info("Watching schema for changes")

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Schema watcher error")
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	_, span := tracer.Start(ctx, "schema.Reload", trace.WithAttributes(attribute.String("path", w.Path)))
	defer span.End()

	s, err := LoadAndValidate(w.Path, w.Roles)
	if err == nil && w.OnReload != nil {
		err = w.OnReload(s)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema rejected")
		w.log.WithError(err).WithField("path", w.Path).Error("Schema reload rejected, keeping previous schema")
		if w.OnError != nil {
			w.OnError(err)
		}
		return
	}
	w.log.WithFields(logrus.Fields{
		"path":   w.Path,
		"tables": len(s.Tables),
	}).Info("Schema reloaded")
}
