package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/afero"

	"github.com/fclairamb/mediasync/internal/apperrors"
)

const (
	// File and directory permissions.
	dirPerm  = 0750 // Directory permissions: rwxr-x---
	filePerm = 0640 // File permissions: rw-r-----

	defaultAuthorName  = "mediasync"
	defaultAuthorEmail = "mediasync@localhost"
)

// LocalStore implements Store on top of an afero file system rooted at the vault directory.
type LocalStore struct {
	rootPath    string
	fs          afero.Fs
	repo        *git.Repository
	useGit      bool
	authorName  string
	authorEmail string
	mu          sync.RWMutex
	logger      *slog.Logger
}

// LocalStoreOption configures LocalStore.
type LocalStoreOption func(*LocalStore)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) LocalStoreOption {
	return func(s *LocalStore) {
		s.logger = l
	}
}

// WithFS sets the underlying file system. The vault root is resolved inside it.
// Tests use afero.NewMemMapFs().
func WithFS(base afero.Fs) LocalStoreOption {
	return func(s *LocalStore) {
		s.fs = base
	}
}

// WithGit opens the git repository at the vault root so Commit can snapshot the vault.
func WithGit(enabled bool) LocalStoreOption {
	return func(s *LocalStore) {
		s.useGit = enabled
	}
}

// WithCommitAuthor sets the author used for snapshot commits.
func WithCommitAuthor(name, email string) LocalStoreOption {
	return func(s *LocalStore) {
		if name != "" {
			s.authorName = name
		}
		if email != "" {
			s.authorEmail = email
		}
	}
}

// NewLocalStore creates a new store for the vault at the given path.
func NewLocalStore(path string, opts ...LocalStoreOption) (*LocalStore, error) {
	store := &LocalStore{
		rootPath:    path,
		fs:          afero.NewOsFs(),
		authorName:  defaultAuthorName,
		authorEmail: defaultAuthorEmail,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(store)
	}

	exists, err := afero.DirExists(store.fs, path)
	if err != nil {
		return nil, fmt.Errorf("stat vault %s: %w", path, err)
	}
	if !exists {
		return nil, fmt.Errorf("vault %s: %w", path, fs.ErrNotExist)
	}

	if store.useGit {
		repo, err := git.PlainOpen(path)
		if err != nil {
			if errors.Is(err, git.ErrRepositoryNotExists) {
				return nil, apperrors.ErrNotGitRepository
			}
			return nil, fmt.Errorf("open git repo: %w", err)
		}
		store.repo = repo
	}

	store.fs = afero.NewBasePathFs(store.fs, path)
	return store, nil
}

// RootPath returns the vault directory.
func (s *LocalStore) RootPath() string {
	return s.rootPath
}

// Read reads a file from the store.
func (s *LocalStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.DebugContext(ctx, "reading file", "path", path)

	data, err := afero.ReadFile(s.fs, osPath(path))
	if err != nil {
		s.logger.DebugContext(ctx, "read file failed", "path", path, "error", err)
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	s.logger.DebugContext(ctx, "read file complete", "path", path, "size", len(data))
	return data, nil
}

// Exists checks if a file or directory exists.
func (s *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := afero.Exists(s.fs, osPath(path))
	if err != nil {
		s.logger.DebugContext(ctx, "exists check failed", "path", path, "error", err)
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	s.logger.DebugContext(ctx, "checked file exists", "path", path, "exists", exists)
	return exists, nil
}

// Stat returns metadata for a single entry.
func (s *LocalStore) Stat(ctx context.Context, path string) (FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.fs.Stat(osPath(path))
	if err != nil {
		s.logger.DebugContext(ctx, "stat failed", "path", path, "error", err)
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}

	return toFileInfo(path, info), nil
}

// List lists files in a directory.
func (s *LocalStore) List(ctx context.Context, dir string) ([]FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.DebugContext(ctx, "listing directory", "dir", dir)

	entries, err := afero.ReadDir(s.fs, osPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.DebugContext(ctx, "directory does not exist", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		files = append(files, toFileInfo(joinPath(dir, entry.Name()), entry))
	}

	s.logger.DebugContext(ctx, "list directory complete", "dir", dir, "count", len(files))
	return files, nil
}

// Walk visits dir and everything below it in lexical order.
func (s *LocalStore) Walk(ctx context.Context, dir string, fn WalkFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err := afero.Walk(s.fs, osPath(dir), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.DebugContext(ctx, "walk entry failed", "path", path, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fn(toFileInfo(filepath.ToSlash(path), info))
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	return nil
}

// Write writes content to a file, creating parent directories as needed.
func (s *LocalStore) Write(ctx context.Context, path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.DebugContext(ctx, "writing file", "path", path, "size", len(content))

	target := osPath(path)
	if err := s.fs.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	if err := afero.WriteFile(s.fs, target, content, filePerm); err != nil {
		s.logger.DebugContext(ctx, "write file failed", "path", path, "error", err)
		return fmt.Errorf("write file %s: %w", path, err)
	}

	s.logger.DebugContext(ctx, "write file complete", "path", path)
	return nil
}

// Delete deletes a file.
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.DebugContext(ctx, "deleting file", "path", path)

	if err := s.fs.Remove(osPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

// Mkdir creates a directory and its parents. Creating an existing directory is not an error.
func (s *LocalStore) Mkdir(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.DebugContext(ctx, "creating directory", "path", path)

	if err := s.fs.MkdirAll(osPath(path), dirPerm); err != nil {
		s.logger.DebugContext(ctx, "create directory failed", "path", path, "error", err)
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// FS returns an fs.FS view of the store.
func (s *LocalStore) FS() fs.FS {
	return afero.NewIOFS(s.fs)
}

// IsGitEnabled returns true when the store can snapshot the vault with git.
func (s *LocalStore) IsGitEnabled() bool {
	return s.repo != nil
}

// Commit stages every change in the vault worktree and records a commit.
// It is a no-op when nothing changed.
func (s *LocalStore) Commit(ctx context.Context, message string) error {
	if s.repo == nil {
		return apperrors.ErrNotGitRepository
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	// Stage all changes in the worktree (equivalent to git add -A)
	if addErr := worktree.AddWithOptions(&git.AddOptions{All: true}); addErr != nil {
		return fmt.Errorf("git add: %w", addErr)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	hasChanges := false
	for _, st := range status {
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			hasChanges = true
			break
		}
	}

	if !hasChanges {
		s.logger.InfoContext(ctx, "nothing to commit")
		return nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.authorName,
			Email: s.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.InfoContext(ctx, "vault snapshot committed", "commit", hash.String()[:7])
	return nil
}

// osPath converts a vault-relative slash path into a path for the underlying file system.
func osPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "."
	}
	return filepath.FromSlash(path)
}

// joinPath joins vault-relative slash paths.
func joinPath(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func toFileInfo(path string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:    filepath.ToSlash(path),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
