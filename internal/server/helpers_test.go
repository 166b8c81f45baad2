package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/fclairamb/mediasync/internal/apperrors"
	"github.com/fclairamb/mediasync/internal/queue"
	"github.com/fclairamb/mediasync/internal/store"
	mediasync "github.com/fclairamb/mediasync/internal/sync"
)

// fakeRunner records runs and validates targets against a fixed set of documents and folders.
type fakeRunner struct {
	mu       sync.Mutex
	runs     []mediasync.RunOptions
	commits  int
	docs     map[string]bool
	folders  map[string]bool
	runDelay time.Duration
	active   int
	overlap  bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		docs:    map[string]bool{"a.md": true, "notes/b.md": true},
		folders: map[string]bool{"notes": true},
	}
}

func (f *fakeRunner) Run(ctx context.Context, opts mediasync.RunOptions) (*mediasync.Result, error) {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.runs = append(f.runs, opts)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.runDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.runDelay):
		}
	}

	return &mediasync.Result{Processed: 1, Downloaded: 1}, nil
}

func (f *fakeRunner) ValidateTargets(_ context.Context, paths []string) ([]mediasync.Document, error) {
	docs := make([]mediasync.Document, 0, len(paths))
	for _, p := range paths {
		if f.folders[p] {
			return nil, fmt.Errorf("%s: %w", p, apperrors.ErrUnsupportedTarget)
		}
		if !f.docs[p] {
			return nil, fmt.Errorf("%s: %w", p, apperrors.ErrTargetNotFound)
		}
		docs = append(docs, mediasync.Document{Path: p})
	}
	return docs, nil
}

func (f *fakeRunner) CommitChanges(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newTestQueue(t *testing.T) *queue.Manager {
	t.Helper()

	memFS := afero.NewMemMapFs()
	if err := memFS.MkdirAll("/vault", 0750); err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	st, err := store.NewLocalStore("/vault", store.WithFS(memFS))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return queue.NewManager(st, "", testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
