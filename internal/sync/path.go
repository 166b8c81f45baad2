package sync

import (
	"context"
	"fmt"
	"path"
	"time"
)

// assetFolderLayout buckets assets by the local time their document was processed.
const assetFolderLayout = "2006/01/02/150405"

// assetFolder returns the folder receiving the assets of one document.
func assetFolder(root string, now time.Time) string {
	return path.Join(root, now.Format(assetFolderLayout))
}

// assetPath returns a new file path in folder. ext may be empty.
func (s *Syncer) assetPath(folder, ext string) string {
	id := s.randID() % maxAssetID
	if id < 0 {
		id = -id
	}

	name := fmt.Sprintf("%05d", id)
	if ext != "" {
		name += "." + ext
	}
	return path.Join(folder, name)
}

// ensureDir creates dir when it does not exist yet.
// A folder created concurrently by another writer is not an error.
func (s *Syncer) ensureDir(ctx context.Context, dir string) error {
	exists, err := s.store.Exists(ctx, dir)
	if err != nil {
		return fmt.Errorf("check folder %s: %w", dir, err)
	}
	if exists {
		return nil
	}

	if err := s.store.Mkdir(ctx, dir); err != nil {
		return fmt.Errorf("create folder %s: %w", dir, err)
	}
	return nil
}
