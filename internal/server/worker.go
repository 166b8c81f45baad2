package server

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fclairamb/mediasync/internal/queue"
	mediasync "github.com/fclairamb/mediasync/internal/sync"
)

// Runner is the part of the syncer the server drives.
type Runner interface {
	Run(ctx context.Context, opts mediasync.RunOptions) (*mediasync.Result, error)
	ValidateTargets(ctx context.Context, paths []string) ([]mediasync.Document, error)
	CommitChanges(ctx context.Context, message string) error
}

// Job is a coalesced run.
type Job struct {
	// Files are explicit documents; empty means the whole vault.
	Files []string
	// NoCache reprocesses documents already in the processed set.
	NoCache bool
}

// IsVaultWide reports whether the job targets every document.
func (j Job) IsVaultWide() bool {
	return len(j.Files) == 0
}

// SyncWorker runs queued requests one at a time in the background.
type SyncWorker struct {
	runner    Runner
	queue     *queue.Manager
	logger    *slog.Logger
	syncDelay time.Duration
	commit    bool
	notify    chan struct{}

	// runMu ensures two runs never overlap.
	runMu   sync.Mutex
	running atomic.Bool
}

// SyncWorkerOption configures the SyncWorker.
type SyncWorkerOption func(*SyncWorker)

// WithSyncDelay sets the debounce delay before processing.
// This allows multiple rapid requests to coalesce into a single run.
func WithSyncDelay(d time.Duration) SyncWorkerOption {
	return func(w *SyncWorker) {
		w.syncDelay = d
	}
}

// WithCommit enables a vault commit after each processed batch that downloaded assets.
func WithCommit(enabled bool) SyncWorkerOption {
	return func(w *SyncWorker) {
		w.commit = enabled
	}
}

// NewSyncWorker creates a new sync worker reading requests from queueMgr.
func NewSyncWorker(runner Runner, queueMgr *queue.Manager, logger *slog.Logger, opts ...SyncWorkerOption) *SyncWorker {
	worker := &SyncWorker{
		runner: runner,
		queue:  queueMgr,
		logger: logger,
		notify: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker
}

// Enqueue persists a request and wakes the worker.
func (w *SyncWorker) Enqueue(ctx context.Context, entry queue.Entry) error {
	if _, err := w.queue.CreateEntry(ctx, entry); err != nil {
		return fmt.Errorf("queue request: %w", err)
	}

	w.Notify()
	return nil
}

// Pending returns the number of requests waiting to run.
func (w *SyncWorker) Pending(ctx context.Context) int {
	count, err := w.queue.Count(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to count queue entries", "error", err)
	}
	return count
}

// Running reports whether a run is in progress.
func (w *SyncWorker) Running() bool {
	return w.running.Load()
}

// Notify signals that there is new work to process.
// This is non-blocking - if a notification is already pending, it's a no-op.
func (w *SyncWorker) Notify() {
	select {
	case w.notify <- struct{}{}:
		w.logger.Debug("sync worker notified")
	default:
		w.logger.Debug("sync worker notification skipped (already pending)")
	}
}

// Start runs the sync worker until the context is canceled.
// This method blocks and should be called in a goroutine.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.InfoContext(ctx, "sync worker started", "sync_delay", w.syncDelay)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "sync worker stopping")
			return
		case <-w.notify:
			w.processWithDelay(ctx)
		}
	}
}

// processWithDelay waits for the sync delay (if configured) then runs the pending jobs.
func (w *SyncWorker) processWithDelay(ctx context.Context) {
	if w.syncDelay > 0 {
		w.logger.DebugContext(ctx, "waiting for sync delay", "delay", w.syncDelay)

		timer := time.NewTimer(w.syncDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	w.processPending(ctx)
}

// processPending runs the coalesced queued requests, then removes their queue files.
func (w *SyncWorker) processPending(ctx context.Context) {
	filenames, err := w.queue.ListEntries(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to list queue", "error", err)
		return
	}
	if len(filenames) == 0 {
		return
	}

	w.queue.Claim(filenames...)
	defer w.queue.Release(filenames...)

	entries := make([]queue.Entry, 0, len(filenames))
	for _, filename := range filenames {
		entry, err := w.queue.ReadEntry(ctx, filename)
		if err != nil {
			w.logger.WarnContext(ctx, "dropping unreadable queue entry", "filename", filename, "error", err)
			continue
		}
		entries = append(entries, *entry)
	}

	w.logger.InfoContext(ctx, "sync worker processing queue", "entries", len(filenames))

	downloaded := 0
	for _, job := range coalesce(entries) {
		if ctx.Err() != nil {
			// Entries stay queued for the next start
			return
		}
		if !job.IsVaultWide() {
			job.Files = w.existingTargets(ctx, job.Files)
			if len(job.Files) == 0 {
				continue
			}
		}
		n, err := w.run(ctx, job)
		if err != nil {
			w.logger.ErrorContext(ctx, "sync run failed", "error", err, "files", len(job.Files))
		}
		downloaded += n
	}

	// Failed runs are not retried: their documents are picked up by the next request
	for _, filename := range filenames {
		if err := w.queue.DeleteEntry(ctx, filename); err != nil {
			w.logger.WarnContext(ctx, "failed to delete queue entry", "filename", filename, "error", err)
		}
	}

	if w.commit && downloaded > 0 {
		message := fmt.Sprintf("[mediasync] %d assets at %s", downloaded, time.Now().Format(time.RFC3339))
		if err := w.runner.CommitChanges(ctx, message); err != nil {
			w.logger.WarnContext(ctx, "failed to commit changes", "error", err)
		}
	}
}

// existingTargets drops the documents that can no longer be synced so they do not fail the others.
func (w *SyncWorker) existingTargets(ctx context.Context, files []string) []string {
	kept := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := w.runner.ValidateTargets(ctx, []string{file}); err != nil {
			w.logger.WarnContext(ctx, "dropping queued document", "file", file, "error", err)
			continue
		}
		kept = append(kept, file)
	}
	return kept
}

// coalesce merges queued requests: explicit documents are run together, then at most one vault-wide run.
// A vault-wide run bypasses the cache if any request asked for it.
func coalesce(entries []queue.Entry) []Job {
	var files []string
	var bulk *Job

	for _, entry := range entries {
		if entry.IsVaultWide() {
			if bulk == nil {
				bulk = &Job{}
			}
			bulk.NoCache = bulk.NoCache || entry.NoCache
			continue
		}
		for _, f := range entry.Files {
			if !slices.Contains(files, f) {
				files = append(files, f)
			}
		}
	}

	var out []Job
	if len(files) > 0 {
		out = append(out, Job{Files: files, NoCache: true})
	}
	if bulk != nil {
		out = append(out, *bulk)
	}
	return out
}

// run executes one job and returns the number of downloaded assets.
func (w *SyncWorker) run(ctx context.Context, job Job) (int, error) {
	w.runMu.Lock()
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		w.runMu.Unlock()
	}()

	logger := w.logger.With("files", len(job.Files), "no_cache", job.NoCache)
	result, err := w.runner.Run(ctx, mediasync.RunOptions{
		Targets:  job.Files,
		UseCache: !job.NoCache,
		Progress: func(ev mediasync.Event) {
			switch ev.Kind {
			case mediasync.EventProgress:
				logger.DebugContext(ctx, ev.Message, "document", ev.Document)
			case mediasync.EventError:
				logger.WarnContext(ctx, ev.Message, "error", ev.Err)
			case mediasync.EventStart, mediasync.EventEnd:
			}
		},
	})
	if err != nil {
		return 0, fmt.Errorf("run: %w", err)
	}

	logger.InfoContext(ctx, "sync run complete",
		"processed", result.Processed,
		"downloaded", result.Downloaded,
		"failed_documents", result.FailedDocuments,
		"duration", result.Duration)

	return result.Downloaded, nil
}
