package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/fclairamb/mediasync/internal/media"
)

// RunOptions selects what a run processes.
type RunOptions struct {
	// Targets are vault-relative document paths. Empty means every markdown document.
	Targets []string
	// UseCache skips documents already in the processed set.
	UseCache bool
	// Settings overrides the persisted settings for this run and is persisted with the state.
	// Nil keeps the persisted settings.
	Settings *Setting
	// Progress receives run events.
	Progress ProgressFunc
}

// Result summarizes a run.
type Result struct {
	Total           int
	Processed       int
	Skipped         int
	FailedDocuments int
	Downloaded      int
	Bytes           int64
	Rejected        int
	FailedURLs      int
	ResourceFolder  string
	Duration        time.Duration
	// StateErr is set when the processed set could not be persisted.
	// Documents and assets written during the run are kept.
	StateErr error
}

// Run localizes the remote media of the selected documents.
// Per-URL and per-document failures are logged and counted in the result;
// an error is returned only when the run could not start or was canceled.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	startTime := time.Now()
	progress := opts.Progress

	progress.emit(Event{Kind: EventStart, Message: MessageStart})
	s.logger.InfoContext(ctx, MessageStart, "targets", len(opts.Targets), "use_cache", opts.UseCache)

	data, err := s.loadData(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Could not load state, starting empty", "error", err)
		data = NewData()
	}
	if opts.Settings != nil {
		data.Setting = *opts.Settings
	}

	resourceFolder := s.ResolveResourceFolder(ctx, data.Setting)
	result := &Result{ResourceFolder: resourceFolder}

	var docs []Document
	if len(opts.Targets) > 0 {
		docs, err = s.ValidateTargets(ctx, opts.Targets)
	} else {
		docs, err = s.listDocuments(ctx, resourceFolder)
	}
	if err != nil {
		progress.emit(Event{Kind: EventError, Message: MessageError, Err: err})
		return nil, err
	}

	if err := s.ensureDir(ctx, resourceFolder); err != nil {
		progress.emit(Event{Kind: EventError, Message: MessageError, Err: err})
		return nil, err
	}

	result.Total = countPending(docs, data, opts.UseCache)
	s.logger.InfoContext(ctx, MessageProgress, "documents", len(docs), "pending", result.Total, "folder", resourceFolder)

	runErr := s.processDocuments(ctx, docs, data, opts, result)

	// The state is saved even when the run was canceled.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.saveData(saveCtx, data); err != nil {
		s.logger.ErrorContext(saveCtx, "Could not persist state", "error", err)
		result.StateErr = err
		progress.emit(Event{Kind: EventError, Message: MessageError, Err: err})
	}

	result.Duration = time.Since(startTime)
	progress.emit(Event{Kind: EventEnd, Message: MessageEnd, Current: result.Processed, Total: result.Total})
	s.logger.InfoContext(ctx, MessageEnd,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed_documents", result.FailedDocuments,
		"downloaded", result.Downloaded,
		"duration", result.Duration)

	return result, runErr
}

func countPending(docs []Document, data *Data, useCache bool) int {
	if !useCache {
		return len(docs)
	}
	pending := 0
	for _, doc := range docs {
		if !data.IsProcessed(doc.Name) {
			pending++
		}
	}
	return pending
}

func (s *Syncer) processDocuments(
	ctx context.Context, docs []Document, data *Data, opts RunOptions, result *Result,
) error {
	current := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync canceled: %w", err)
		}

		if opts.UseCache && data.IsProcessed(doc.Name) {
			result.Skipped++
			continue
		}

		current++
		opts.Progress.emit(Event{
			Kind:     EventProgress,
			Current:  current,
			Total:    result.Total,
			Document: doc.Path,
			Message:  fmt.Sprintf("%s (%d/%d)", MessageProgress, current, result.Total),
		})

		pass, err := s.processDocument(ctx, doc, result.ResourceFolder)
		if pass != nil {
			result.Downloaded += pass.downloaded
			result.Bytes += pass.bytes
			result.Rejected += pass.rejectCount
			result.FailedURLs += pass.failed
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("sync canceled: %w", ctxErr)
			}
			s.logger.WarnContext(ctx, "Document failed", "path", doc.Path, "error", err)
			result.FailedDocuments++
			continue
		}

		data.MarkProcessed(doc.Name)
		result.Processed++

		// Only documents that stored something need to survive an interruption
		if s.config.Checkpoint && pass.changed {
			if err := s.saveData(ctx, data); err != nil {
				s.logger.WarnContext(ctx, "Could not checkpoint state", "error", err)
			}
		}
	}
	return nil
}

// processDocument runs the URL loop on one document and writes it back when it changed.
// A canceled context stops the loop; the partially rewritten content is still written
// so it matches the assets already stored, but an error is returned.
func (s *Syncer) processDocument(ctx context.Context, doc Document, resourceFolder string) (*documentPass, error) {
	raw, err := s.store.Read(ctx, doc.Path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	pass := newDocumentPass(doc, assetFolder(resourceFolder, s.clock()), string(raw))

	urls := media.ExtractURLs(pass.content)
	s.logger.DebugContext(ctx, "Processing document", "path", doc.Path, "urls", len(urls))

	var loopErr error
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		s.localize(ctx, pass, url)
	}

	if pass.changed {
		if err := s.store.Write(context.WithoutCancel(ctx), doc.Path, []byte(pass.content)); err != nil {
			return pass, fmt.Errorf("write document: %w", err)
		}
	}

	return pass, loopErr
}
