package sync

import (
	"context"
	"errors"

	"github.com/dustin/go-humanize"

	"github.com/fclairamb/mediasync/internal/media"
)

const maxAssetPathAttempts = 5 // Fresh ids tried when an allocated asset path is taken

var errAssetPathTaken = errors.New("no free asset path")

// documentPass holds the per-document state of the URL loop.
type documentPass struct {
	doc     Document
	folder  string
	content string
	changed bool

	// errored URLs are not attempted again in this document.
	errored map[string]struct{}
	// rejected URLs are not media and are left in place.
	rejected map[string]struct{}
	// assets maps an already downloaded URL to its asset path.
	assets map[string]string

	downloaded  int
	bytes       int64
	rejectCount int
	failed      int
}

func newDocumentPass(doc Document, folder, content string) *documentPass {
	return &documentPass{
		doc:      doc,
		folder:   folder,
		content:  content,
		errored:  make(map[string]struct{}),
		rejected: make(map[string]struct{}),
		assets:   make(map[string]string),
	}
}

func (p *documentPass) markErrored(url string) {
	p.errored[url] = struct{}{}
	p.failed++
}

func (p *documentPass) replace(url, assetPath string) {
	if content, ok := rewriteFirst(p.content, url, assetPath); ok {
		p.content = content
		p.changed = true
	}
}

// localize handles one URL occurrence: fetch, classify, store the asset and
// rewrite the first remaining occurrence. Failures only affect this URL.
func (s *Syncer) localize(ctx context.Context, pass *documentPass, url string) {
	logger := s.logger.With("path", pass.doc.Path, "url", url)

	if media.ShouldSkip(url, s.config.SkipPrefixes) {
		logger.DebugContext(ctx, "Skipping non-media URL")
		return
	}
	if _, ok := pass.errored[url]; ok {
		return
	}
	if _, ok := pass.rejected[url]; ok {
		return
	}
	if assetPath, ok := pass.assets[url]; ok {
		pass.replace(url, assetPath)
		return
	}

	resp, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		logger.WarnContext(ctx, "Could not fetch URL", "error", err)
		pass.markErrored(url)
		return
	}

	ext, verdict := s.classifier.Classify(resp.ContentType, url)
	switch verdict {
	case media.Rejected:
		logger.DebugContext(ctx, "Not a media resource", "content_type", resp.ContentType)
		pass.rejected[url] = struct{}{}
		pass.rejectCount++
		return
	case media.Unresolved:
		logger.WarnContext(ctx, "Could not determine file extension", "content_type", resp.ContentType)
		pass.markErrored(url)
		return
	case media.Accepted:
	}

	if err := s.ensureDir(ctx, pass.folder); err != nil {
		logger.WarnContext(ctx, "Could not create asset folder", "error", err)
		pass.markErrored(url)
		return
	}

	assetPath, err := s.freeAssetPath(ctx, pass.folder, ext)
	if err != nil {
		logger.WarnContext(ctx, "Could not allocate asset path", "error", err)
		pass.markErrored(url)
		return
	}

	if err := s.store.Write(ctx, assetPath, resp.Body); err != nil {
		logger.WarnContext(ctx, "Could not write asset", "asset", assetPath, "error", err)
		pass.markErrored(url)
		return
	}

	if s.config.Sidecar {
		note := sidecarContent(assetPath, pass.doc.Path, url)
		if err := s.store.Write(ctx, sidecarPath(assetPath), []byte(note)); err != nil {
			logger.WarnContext(ctx, "Could not write sidecar note", "asset", assetPath, "error", err)
		}
	}

	pass.assets[url] = assetPath
	pass.downloaded++
	pass.bytes += int64(len(resp.Body))
	pass.replace(url, assetPath)

	logger.InfoContext(ctx, "Downloaded asset",
		"asset", assetPath,
		"size", humanize.IBytes(uint64(len(resp.Body))))
}

// freeAssetPath allocates an asset path that does not exist yet.
func (s *Syncer) freeAssetPath(ctx context.Context, folder, ext string) (string, error) {
	for range maxAssetPathAttempts {
		candidate := s.assetPath(folder, ext)
		exists, err := s.store.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errAssetPathTaken
}
