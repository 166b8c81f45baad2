package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/fclairamb/mediasync/internal/apperrors"
	"github.com/fclairamb/mediasync/internal/store"
)

const markdownExt = ".md"

// Document is a vault markdown file handled by a run.
type Document struct {
	// Path is vault-relative with forward slashes.
	Path string
	// Name is the base name including its extension, used as the processed-set key.
	Name string
}

func newDocument(p string) Document {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return Document{Path: p, Name: path.Base(p)}
}

// ValidateTargets checks that every path names an existing markdown document.
// Folders and other file types yield apperrors.ErrUnsupportedTarget, missing paths apperrors.ErrTargetNotFound.
func (s *Syncer) ValidateTargets(ctx context.Context, paths []string) ([]Document, error) {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		doc := newDocument(p)
		info, err := s.store.Stat(ctx, doc.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, apperrors.ErrTargetNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir || !isMarkdown(doc.Path) {
			return nil, fmt.Errorf("%s: %w", p, apperrors.ErrUnsupportedTarget)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// listDocuments returns every markdown document of the vault in lexical path order.
// Hidden directories and the resource folder are not visited.
func (s *Syncer) listDocuments(ctx context.Context, resourceFolder string) ([]Document, error) {
	var docs []Document

	err := s.store.Walk(ctx, "", func(info store.FileInfo) error {
		if info.Path == "" || info.Path == "." {
			return nil
		}
		if info.IsDir {
			if strings.HasPrefix(path.Base(info.Path), ".") || info.Path == resourceFolder {
				return fs.SkipDir
			}
			return nil
		}
		if isMarkdown(info.Path) {
			docs = append(docs, newDocument(info.Path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault: %w", err)
	}

	return docs, nil
}

func isMarkdown(p string) bool {
	return strings.EqualFold(path.Ext(p), markdownExt)
}
