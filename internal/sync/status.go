package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/fclairamb/mediasync/internal/apperrors"
	"github.com/fclairamb/mediasync/internal/store"
)

// StatusInfo describes the persisted state of a vault.
type StatusInfo struct {
	StatePath      string
	Files          []string
	Setting        Setting
	ResourceFolder string
	Documents      int
	Pending        int
	// LastSaved is the modification time of the state blob, zero when it was never written.
	LastSaved time.Time
}

// Status reports the processed set, the settings and how many documents are still pending.
func (s *Syncer) Status(ctx context.Context) (*StatusInfo, error) {
	data, err := s.loadData(ctx)
	if err != nil {
		return nil, err
	}

	folder := s.ResolveResourceFolder(ctx, data.Setting)
	docs, err := s.listDocuments(ctx, folder)
	if err != nil {
		return nil, err
	}

	var lastSaved time.Time
	if info, statErr := s.store.Stat(ctx, s.config.StatePath); statErr == nil {
		lastSaved = info.ModTime
	}

	return &StatusInfo{
		LastSaved:      lastSaved,
		StatePath:      s.config.StatePath,
		Files:          data.Files,
		Setting:        data.Setting,
		ResourceFolder: folder,
		Documents:      len(docs),
		Pending:        countPending(docs, data, true),
	}, nil
}

// Forget removes document names from the processed set so the next cached run handles them again.
// With all set, the whole set is cleared. It returns the number of removed names.
func (s *Syncer) Forget(ctx context.Context, names []string, all bool) (int, error) {
	if !all && len(names) == 0 {
		return 0, apperrors.ErrNothingToForget
	}

	data, err := s.loadData(ctx)
	if err != nil {
		return 0, err
	}

	var removed int
	if all {
		removed = len(data.Files)
		data.Files = []string{}
	} else {
		removed = data.Forget(names...)
	}

	if removed == 0 {
		return 0, nil
	}

	if err := s.writeData(ctx, data); err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "Forgot processed documents", "count", removed)
	return removed, nil
}

// LoadSettings returns the persisted settings.
func (s *Syncer) LoadSettings(ctx context.Context) (Setting, error) {
	data, err := s.loadData(ctx)
	if err != nil {
		return Setting{}, err
	}
	return data.Setting, nil
}

// SaveSettings persists setting, keeping the processed set and unknown fields.
func (s *Syncer) SaveSettings(ctx context.Context, setting Setting) error {
	data, err := s.loadData(ctx)
	if err != nil {
		return err
	}

	data.Setting = Setting{
		SaveDirectory:      setting.SaveDirectory.normalize(),
		ResourceFolderName: setting.ResourceFolderName,
	}
	return s.writeData(ctx, data)
}

// CommitChanges records the vault content in a git commit when the store supports it.
func (s *Syncer) CommitChanges(ctx context.Context, message string) error {
	snap, ok := s.store.(store.Snapshotter)
	if !ok {
		return apperrors.ErrNotGitRepository
	}
	if err := snap.Commit(ctx, message); err != nil {
		return fmt.Errorf("commit vault: %w", err)
	}
	return nil
}
