package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fclairamb/mediasync/internal/apperrors"
)

const (
	picURL  = "https://example.com/pic.png"
	pageURL = "https://example.com/page"
	asset1  = "_media-sync_resources/2024/03/05/140709/00001.png"
)

func TestRun_DownloadsAndRewrites(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "notes/a.md", "# A\n![pic]("+picURL+")\nsee "+pageURL+"\n")

	fetcher := newFakeFetcher(map[string]fakeResponse{
		picURL:  {contentType: "image/png", body: pngBody},
		pageURL: {contentType: "text/html; charset=utf-8", body: []byte("<html>")},
	})
	syncer := newTestSyncer(st, fetcher)

	result, err := syncer.Run(context.Background(), RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := "# A\n![pic](" + asset1 + ")\nsee " + pageURL + "\n"
	if got := readFile(t, st, "notes/a.md"); got != want {
		t.Errorf("document = %q, want %q", got, want)
	}
	if got := readFile(t, st, asset1); got != string(pngBody) {
		t.Errorf("asset = %q, want %q", got, pngBody)
	}

	wantSidecar := "![[" + asset1 + "]] From note: [[notes/a.md]] Original url: " + picURL
	if got := readFile(t, st, asset1+".md"); got != wantSidecar {
		t.Errorf("sidecar = %q, want %q", got, wantSidecar)
	}

	if result.Processed != 1 || result.Downloaded != 1 || result.Rejected != 1 {
		t.Errorf("result = %+v, want 1 processed, 1 downloaded, 1 rejected", result)
	}
	if !loadTestData(t, st).IsProcessed("a.md") {
		t.Error("a.md should be marked processed")
	}
}

func TestRun_CacheIsIdempotent(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", "![]("+picURL+")")
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})
	syncer := newTestSyncer(st, fetcher)
	ctx := context.Background()

	if _, err := syncer.Run(ctx, RunOptions{UseCache: true}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := readFile(t, st, "a.md")
	calls := fetcher.totalCalls()

	result, err := syncer.Run(ctx, RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if result.Total != 0 || result.Skipped != 1 || result.Processed != 0 {
		t.Errorf("second run result = %+v, want everything skipped", result)
	}
	if fetcher.totalCalls() != calls {
		t.Errorf("second run fetched %d URLs, want none", fetcher.totalCalls()-calls)
	}
	if got := readFile(t, st, "a.md"); got != first {
		t.Errorf("document changed on second run: %q", got)
	}
}

func TestRun_NoCacheDoesNotDuplicateNames(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", "nothing remote here")
	syncer := newTestSyncer(st, newFakeFetcher(nil))
	ctx := context.Background()

	for range 2 {
		result, err := syncer.Run(ctx, RunOptions{UseCache: false})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Total != 1 || result.Processed != 1 {
			t.Errorf("result = %+v, want 1 processed", result)
		}
	}

	if files := loadTestData(t, st).Files; len(files) != 1 {
		t.Errorf("files = %v, want a single entry", files)
	}
}

func TestRun_OctetStreamUsesURLExtension(t *testing.T) {
	t.Parallel()

	const url = "https://cdn.example.com/a.jpg?x=1"
	st := newTestStore(t)
	writeFile(t, st, "a.md", "![]("+url+")")
	fetcher := newFakeFetcher(map[string]fakeResponse{
		url: {contentType: "application/octet-stream", body: []byte("jpeg")},
	})

	if _, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	asset := "_media-sync_resources/2024/03/05/140709/00001.jpg"
	if got := readFile(t, st, "a.md"); got != "![]("+asset+")" {
		t.Errorf("document = %q", got)
	}
}

func TestRun_UnresolvedExtensionLeavesURL(t *testing.T) {
	t.Parallel()

	const url = "https://example.com/icon"
	st := newTestStore(t)
	content := "![](" + url + ") and again ![](" + url + ")"
	writeFile(t, st, "a.md", content)
	fetcher := newFakeFetcher(map[string]fakeResponse{
		url: {contentType: "image/svg+xml", body: []byte("<svg/>")},
	})

	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := readFile(t, st, "a.md"); got != content {
		t.Errorf("document = %q, want unchanged", got)
	}
	if fetcher.calls[url] != 1 {
		t.Errorf("fetched %d times, want 1", fetcher.calls[url])
	}
	if result.FailedURLs != 1 || result.Downloaded != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRun_FetchErrorsAreIsolated(t *testing.T) {
	t.Parallel()

	const badURL = "https://example.com/missing.png"
	st := newTestStore(t)
	writeFile(t, st, "a.md", badURL+" "+picURL+" "+badURL)
	writeFile(t, st, "b.md", "plain")
	fetcher := newFakeFetcher(map[string]fakeResponse{
		badURL: {err: apperrors.NewHTTPError(404, "not found")},
		picURL: {contentType: "image/png", body: pngBody},
	})

	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if want := badURL + " " + asset1 + " " + badURL; readFile(t, st, "a.md") != want {
		t.Errorf("document = %q, want %q", readFile(t, st, "a.md"), want)
	}
	if fetcher.calls[badURL] != 1 {
		t.Errorf("errored URL fetched %d times, want 1", fetcher.calls[badURL])
	}
	if result.Processed != 2 || result.FailedURLs != 1 {
		t.Errorf("result = %+v, want 2 processed and 1 failed URL", result)
	}
}

func TestRun_DuplicateURLReusesAsset(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", picURL+"\n"+picURL)
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})

	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := readFile(t, st, "a.md"); got != asset1+"\n"+asset1 {
		t.Errorf("document = %q", got)
	}
	if fetcher.calls[picURL] != 1 || result.Downloaded != 1 {
		t.Errorf("calls = %d, downloaded = %d, want 1 and 1", fetcher.calls[picURL], result.Downloaded)
	}
}

func TestRun_SkipsShareURLs(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", "https://twitter.com/intent/tweet?text=hi")
	fetcher := newFakeFetcher(nil)

	if _, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fetcher.totalCalls() != 0 {
		t.Errorf("share URL was fetched: %v", fetcher.calls)
	}
}

func TestRun_ExplicitTargets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		target    string
		wantErr   error
		untouched bool
	}{
		{name: "folder", target: "notes", wantErr: apperrors.ErrUnsupportedTarget},
		{name: "missing", target: "nope.md", wantErr: apperrors.ErrTargetNotFound},
		{name: "image", target: "notes/pic.png", wantErr: apperrors.ErrUnsupportedTarget, untouched: true},
		{name: "text", target: "notes/readme.txt", wantErr: apperrors.ErrUnsupportedTarget, untouched: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := newTestStore(t)
			writeFile(t, st, "notes/a.md", picURL)
			writeFile(t, st, "notes/pic.png", picURL)
			writeFile(t, st, "notes/readme.txt", picURL)
			fetcher := newFakeFetcher(nil)

			var kinds []EventKind
			_, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{
				Targets:  []string{"notes/a.md", tt.target},
				Progress: func(ev Event) { kinds = append(kinds, ev.Kind) },
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if fetcher.totalCalls() != 0 {
				t.Error("no document should be processed")
			}
			if len(kinds) != 2 || kinds[0] != EventStart || kinds[1] != EventError {
				t.Errorf("events = %v, want [start error]", kinds)
			}
			if tt.untouched {
				if got := readFile(t, st, tt.target); got != picURL {
					t.Errorf("%s = %q, want it untouched", tt.target, got)
				}
			}
		})
	}
}

func TestRun_ExplicitTargetBypassesCache(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", "text")
	writeFile(t, st, "b.md", "text")
	syncer := newTestSyncer(st, newFakeFetcher(nil))
	ctx := context.Background()

	if _, err := syncer.Run(ctx, RunOptions{UseCache: true}); err != nil {
		t.Fatalf("bulk run failed: %v", err)
	}

	result, err := syncer.Run(ctx, RunOptions{Targets: []string{"a.md"}})
	if err != nil {
		t.Fatalf("targeted run failed: %v", err)
	}
	if result.Total != 1 || result.Processed != 1 {
		t.Errorf("result = %+v, want the target processed again", result)
	}
}

func TestRun_BulkSkipsHiddenAndResourceFolders(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "b.md", "b")
	writeFile(t, st, "a.md", "a")
	writeFile(t, st, "image.png", "not a document")
	writeFile(t, st, ".obsidian/plugin.md", "hidden")
	writeFile(t, st, "_media-sync_resources/2024/01/01/000000/00001.png.md", "sidecar")

	var docs []string
	_, err := newTestSyncer(st, newFakeFetcher(nil)).Run(context.Background(), RunOptions{
		UseCache: true,
		Progress: func(ev Event) {
			if ev.Kind == EventProgress {
				docs = append(docs, ev.Document)
			}
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.Join(docs, ",") != "a.md,b.md" {
		t.Errorf("processed documents = %v, want [a.md b.md]", docs)
	}
}

func TestRun_ProgressEvents(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", "a")
	writeFile(t, st, "b.md", "b")

	var events []Event
	_, err := newTestSyncer(st, newFakeFetcher(nil)).Run(context.Background(), RunOptions{
		UseCache: true,
		Progress: func(ev Event) { events = append(events, ev) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	if events[0].Kind != EventStart || events[3].Kind != EventEnd {
		t.Errorf("events = %+v", events)
	}
	if events[2].Current != 2 || events[2].Total != 2 {
		t.Errorf("second progress = %+v, want 2/2", events[2])
	}
	if events[2].Message != MessageProgress+" (2/2)" {
		t.Errorf("message = %q", events[2].Message)
	}
}

func TestRun_DocumentFailureIsIsolated(t *testing.T) {
	t.Parallel()

	base := newTestStore(t)
	writeFile(t, base, "a.md", "a")
	writeFile(t, base, "b.md", picURL)
	st := &failingStore{Store: base, failRead: map[string]bool{"a.md": true}}
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})

	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.FailedDocuments != 1 || result.Processed != 1 {
		t.Errorf("result = %+v, want 1 failed and 1 processed", result)
	}
	data := loadTestData(t, base)
	if data.IsProcessed("a.md") || !data.IsProcessed("b.md") {
		t.Errorf("files = %v, want only b.md", data.Files)
	}
}

func TestRun_StateWriteFailure(t *testing.T) {
	t.Parallel()

	base := newTestStore(t)
	writeFile(t, base, "a.md", picURL)
	st := &failingStore{Store: base, failWrite: map[string]bool{DefaultStatePath: true}}
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})

	var kinds []EventKind
	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{
		UseCache: true,
		Progress: func(ev Event) { kinds = append(kinds, ev.Kind) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.StateErr == nil {
		t.Fatal("expected StateErr")
	}
	if got := readFile(t, base, "a.md"); got != asset1 {
		t.Errorf("document = %q, want rewritten content kept", got)
	}
	if kinds[len(kinds)-2] != EventError || kinds[len(kinds)-1] != EventEnd {
		t.Errorf("events = %v, want error then end", kinds)
	}
}

func TestRun_PreservesUnknownStateFields(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, DefaultStatePath, `{"files":["old.md"],"custom":{"a":1}}`)
	writeFile(t, st, "a.md", "a")

	if _, err := newTestSyncer(st, newFakeFetcher(nil)).Run(context.Background(), RunOptions{UseCache: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	raw := readFile(t, st, DefaultStatePath)
	if !strings.Contains(raw, `"custom"`) {
		t.Errorf("unknown field lost: %s", raw)
	}
	data := loadTestData(t, st)
	if !data.IsProcessed("old.md") || !data.IsProcessed("a.md") {
		t.Errorf("files = %v, want old.md and a.md", data.Files)
	}
}

func TestRun_SettingsOverride(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", picURL)
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})

	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{
		UseCache: true,
		Settings: &Setting{SaveDirectory: SaveDirectoryUserDefined, ResourceFolderName: "media"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ResourceFolder != "media" {
		t.Errorf("resource folder = %q, want media", result.ResourceFolder)
	}
	if got := readFile(t, st, "a.md"); got != "media/2024/03/05/140709/00001.png" {
		t.Errorf("document = %q", got)
	}
	if setting := loadTestData(t, st).Setting; setting.ResourceFolderName != "media" {
		t.Errorf("persisted setting = %+v", setting)
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", picURL)
	fetcher := newFakeFetcher(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSyncer(st, fetcher).Run(ctx, RunOptions{UseCache: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fetcher.totalCalls() != 0 {
		t.Error("nothing should be fetched after cancellation")
	}
}

func TestRun_WithoutSidecar(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", picURL)
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})
	cfg := DefaultConfig()
	cfg.Sidecar = false

	if _, err := newTestSyncer(st, fetcher, WithConfig(cfg)).Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	exists, err := st.Exists(context.Background(), asset1+".md")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("sidecar note should not be written")
	}
}

func TestRun_CorruptStateIsReplaced(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, DefaultStatePath, `{"files":`)
	writeFile(t, st, "a.md", picURL)
	writeFile(t, st, "b.md", "no media")
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})

	result, err := newTestSyncer(st, fetcher).Run(context.Background(), RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 2 || result.Downloaded != 1 || result.StateErr != nil {
		t.Errorf("result = %+v, want 2 processed and 1 downloaded", result)
	}
	if got := readFile(t, st, "a.md"); got != asset1 {
		t.Errorf("a.md = %q, want %q", got, asset1)
	}

	raw := readFile(t, st, DefaultStatePath)
	if !json.Valid([]byte(raw)) {
		t.Fatalf("state is not valid JSON: %s", raw)
	}
	data := loadTestData(t, st)
	if !data.IsProcessed("a.md") || !data.IsProcessed("b.md") {
		t.Errorf("files = %v, want a.md and b.md", data.Files)
	}
}

// TestRun_LargeVault checks that bookkeeping stays fast when the processed set grows.
func TestRun_LargeVault(t *testing.T) {
	t.Parallel()

	const documents = 3000

	st := newTestStore(t)
	for i := range documents {
		writeFile(t, st, fmt.Sprintf("notes/%02d/note-%05d.md", i%30, i), "plain text")
	}
	// A few documents with media so checkpoints happen along the way.
	for i := range 20 {
		writeFile(t, st, fmt.Sprintf("media-%02d.md", i), picURL)
	}
	fetcher := newFakeFetcher(map[string]fakeResponse{picURL: {contentType: "image/png", body: pngBody}})
	syncer := newTestSyncer(st, fetcher)
	ctx := context.Background()

	start := time.Now()
	result, err := syncer.Run(ctx, RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("run took %s for %d documents", elapsed, documents+20)
	}
	if result.Processed != documents+20 {
		t.Errorf("processed = %d, want %d", result.Processed, documents+20)
	}
	if files := loadTestData(t, st).Files; len(files) != documents+20 {
		t.Errorf("persisted %d names, want %d", len(files), documents+20)
	}

	start = time.Now()
	result, err = syncer.Run(ctx, RunOptions{UseCache: true})
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cached run took %s", elapsed)
	}
	if result.Skipped != documents+20 || result.Processed != 0 {
		t.Errorf("result = %+v, want everything skipped", result)
	}
}
