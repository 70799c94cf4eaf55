// Package indexer is the single-writer background process that drains the
// touch-file queue, parses genomic files, and populates the position-bucket
// index.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/storage"
)

// Worker consumes indexing requests from a directory of touch files named
// <cohort_id>~<drs_object_id>. Exactly one worker runs per deployment.
type Worker struct {
	Store        *catalog.Store
	Materializer *storage.Materializer
	QueuePath    string
	Log          *logrus.Logger
}

// Run drains the existing backlog, then watches the queue directory and
// processes each new file as it arrives. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.QueuePath, 0o755); err != nil {
		return fmt.Errorf("creating queue directory: %w", err)
	}

	entries, err := os.ReadDir(w.QueuePath)
	if err != nil {
		return fmt.Errorf("listing queue directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.process(ctx, entry.Name())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating queue watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.QueuePath); err != nil {
		return fmt.Errorf("watching queue directory: %w", err)
	}
	w.Log.WithField("queue", w.QueuePath).Info("Indexing worker watching queue")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				w.process(ctx, filepath.Base(event.Name))
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.Log.WithError(werr).Warn("Queue watcher error")
		}
	}
}

// process handles one queue item. Success removes the file; failure appends
// a timestamped error line, leaving the file for the cohort status endpoint
// to surface.
func (w *Worker) process(ctx context.Context, fileName string) {
	parts := strings.SplitN(fileName, "~", 2)
	if len(parts) != 2 {
		w.Log.WithField("file", fileName).Warn("Ignoring malformed queue file name")
		return
	}
	cohort, id := parts[0], parts[1]
	log := w.Log.WithFields(logrus.Fields{"cohort": cohort, "id": id})
	log.Info("Indexing started")

	if err := w.IndexVariants(ctx, id); err != nil {
		log.WithError(err).Error("Indexing failed")
		w.appendError(fileName, err)
		return
	}
	if err := os.Remove(filepath.Join(w.QueuePath, fileName)); err != nil {
		log.WithError(err).Warn("Could not remove queue file")
	}
	log.Info("Indexing complete")
}

func (w *Worker) appendError(fileName string, ierr error) {
	path := filepath.Join(w.QueuePath, fileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.Log.WithError(err).Warn("Could not record indexing error")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), ierr.Error())
}
