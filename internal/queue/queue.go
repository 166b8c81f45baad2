// Package queue persists requested sync jobs in the vault so they survive restarts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fclairamb/mediasync/internal/store"
)

const (
	// DefaultDir holds the queue files, relative to the vault.
	DefaultDir = ".mediasync/queue"

	queueFileFormat     = "%08d.json" // 00000001.json, 00000002.json, etc.
	priorityIDThreshold = 1000        // IDs below this are explicit document requests (processed first)
)

// Entry is a single queued sync request.
type Entry struct {
	Files     []string  `json:"files,omitempty"`    // Explicit documents, empty for the whole vault
	NoCache   bool      `json:"no_cache,omitempty"` // Reprocess documents already recorded as processed
	Source    string    `json:"source,omitempty"`   // Who requested the sync (e.g. "http")
	CreatedAt time.Time `json:"createdAt"`          // When this queue entry was created
}

// IsVaultWide reports whether the entry targets every document.
func (e *Entry) IsVaultWide() bool {
	return len(e.Files) == 0
}

// Manager handles queue file operations.
type Manager struct {
	store  store.Store
	dir    string
	mu     sync.Mutex
	Logger *slog.Logger

	// claimed holds entries picked up by a run; they no longer absorb new requests.
	claimed map[string]struct{}
}

// NewManager creates a queue manager storing entries in dir (DefaultDir when empty).
func NewManager(st store.Store, dir string, logger *slog.Logger) *Manager {
	if dir == "" {
		dir = DefaultDir
	}
	return &Manager{
		store:   st,
		dir:     dir,
		Logger:  logger,
		claimed: make(map[string]struct{}),
	}
}

// Claim marks entries as taken by a run in progress.
func (qm *Manager) Claim(filenames ...string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	for _, filename := range filenames {
		qm.claimed[filename] = struct{}{}
	}
}

// Release returns claimed entries to the pending state.
func (qm *Manager) Release(filenames ...string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	for _, filename := range filenames {
		delete(qm.claimed, filename)
	}
}

// CreateEntry writes a new queue file and returns its name.
// Explicit document requests get priority IDs so they sort before vault-wide ones.
// A vault-wide request identical to one already pending is not queued twice.
// Claimed entries do not count as pending.
func (qm *Manager) CreateEntry(ctx context.Context, entry Entry) (string, error) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var (
		num int
		err error
	)
	if entry.IsVaultWide() {
		existing, findErr := qm.findVaultWide(ctx, entry.NoCache)
		if findErr != nil {
			return "", findErr
		}
		if existing != "" {
			qm.Logger.DebugContext(ctx, "vault-wide sync already queued", "filename", existing)
			return existing, nil
		}
		num, err = qm.GetNextQueueNumber(ctx)
	} else {
		num, err = qm.getNextPriorityNumber(ctx)
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf(queueFileFormat, num)
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	if err := qm.store.Write(ctx, path.Join(qm.dir, filename), data); err != nil {
		return "", fmt.Errorf("write queue file: %w", err)
	}

	qm.Logger.DebugContext(ctx, "created queue entry",
		"filename", filename,
		"files", len(entry.Files),
		"no_cache", entry.NoCache)

	return filename, nil
}

// ListEntries returns all queue files in sorted order.
func (qm *Manager) ListEntries(ctx context.Context) ([]string, error) {
	entries, err := qm.store.List(ctx, qm.dir)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	var queueFiles []string
	for i := range entries {
		entry := &entries[i]
		if !entry.IsDir && strings.HasSuffix(entry.Path, ".json") {
			queueFiles = append(queueFiles, path.Base(entry.Path))
		}
	}

	slices.Sort(queueFiles)
	return queueFiles, nil
}

// Count returns the number of queued entries.
func (qm *Manager) Count(ctx context.Context) (int, error) {
	files, err := qm.ListEntries(ctx)
	return len(files), err
}

// ReadEntry reads a queue file.
func (qm *Manager) ReadEntry(ctx context.Context, filename string) (*Entry, error) {
	data, err := qm.store.Read(ctx, path.Join(qm.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}

	return &entry, nil
}

// DeleteEntry removes a processed queue file.
func (qm *Manager) DeleteEntry(ctx context.Context, filename string) error {
	qm.Logger.DebugContext(ctx, "deleting queue entry", "filename", filename)

	if err := qm.store.Delete(ctx, path.Join(qm.dir, filename)); err != nil {
		return fmt.Errorf("delete queue file: %w", err)
	}

	qm.Release(filename)
	return nil
}

// GetNextQueueNumber returns the next available number for vault-wide entries.
// They start at priorityIDThreshold (1000) and increment upward.
func (qm *Manager) GetNextQueueNumber(ctx context.Context) (int, error) {
	files, err := qm.ListEntries(ctx)
	if err != nil {
		return 0, err
	}

	maxNum := priorityIDThreshold - 1
	for _, file := range files {
		num, ok := fileNumber(file)
		if ok && num >= priorityIDThreshold && num > maxNum {
			maxNum = num
		}
	}

	return maxNum + 1, nil
}

// GetMinQueueID returns the minimum queue ID from existing entries.
// Returns 0 if there are no entries.
func (qm *Manager) GetMinQueueID(ctx context.Context) (int, error) {
	files, err := qm.ListEntries(ctx)
	if err != nil || len(files) == 0 {
		return 0, err
	}

	num, ok := fileNumber(files[0])
	if !ok {
		return 0, fmt.Errorf("invalid queue file name %q", files[0])
	}
	return num, nil
}

// getNextPriorityNumber decrements from 999 so newer explicit requests still sort before vault-wide ones.
func (qm *Manager) getNextPriorityNumber(ctx context.Context) (int, error) {
	minID, err := qm.GetMinQueueID(ctx)
	if err != nil {
		return 0, fmt.Errorf("get min queue id: %w", err)
	}

	if minID == 0 || minID >= priorityIDThreshold {
		return priorityIDThreshold - 1, nil
	}
	if minID == 1 {
		return 0, fmt.Errorf("priority queue is full (%d entries)", priorityIDThreshold-1)
	}
	return minID - 1, nil
}

// findVaultWide returns the pending vault-wide entry with the same cache mode, if any.
// The caller holds qm.mu.
func (qm *Manager) findVaultWide(ctx context.Context, noCache bool) (string, error) {
	files, err := qm.ListEntries(ctx)
	if err != nil {
		return "", err
	}

	for _, filename := range files {
		if _, taken := qm.claimed[filename]; taken {
			continue
		}
		entry, err := qm.ReadEntry(ctx, filename)
		if err != nil {
			qm.Logger.WarnContext(ctx, "failed to read queue entry",
				"filename", filename,
				"error", err)
			continue
		}
		if entry.IsVaultWide() && entry.NoCache == noCache {
			return filename, nil
		}
	}

	return "", nil
}

func fileNumber(filename string) (int, bool) {
	num, err := strconv.Atoi(strings.TrimSuffix(filename, ".json"))
	return num, err == nil
}
