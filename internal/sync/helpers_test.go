package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/fclairamb/mediasync/internal/fetch"
	"github.com/fclairamb/mediasync/internal/store"
)

const testVaultRoot = "/vault"

// fixedTime gives the asset folder 2024/03/05/140709.
var fixedTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)

type fakeResponse struct {
	contentType string
	body        []byte
	err         error
}

// fakeFetcher serves canned responses and counts calls per URL.
type fakeFetcher struct {
	responses map[string]fakeResponse
	calls     map[string]int
}

func newFakeFetcher(responses map[string]fakeResponse) *fakeFetcher {
	return &fakeFetcher{responses: responses, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	f.calls[url]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, ok := f.responses[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &fetch.Response{URL: url, StatusCode: 200, ContentType: resp.contentType, Body: resp.body}, nil
}

func (f *fakeFetcher) totalCalls() int {
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// failingStore fails writes or reads on selected paths.
type failingStore struct {
	store.Store
	failWrite map[string]bool
	failRead  map[string]bool
}

func (s *failingStore) Write(ctx context.Context, path string, content []byte) error {
	if s.failWrite[path] {
		return errors.New("disk full")
	}
	return s.Store.Write(ctx, path, content)
}

func (s *failingStore) Read(ctx context.Context, path string) ([]byte, error) {
	if s.failRead[path] {
		return nil, errors.New("permission denied")
	}
	return s.Store.Read(ctx, path)
}

func newTestStore(t *testing.T) *store.LocalStore {
	t.Helper()

	memFS := afero.NewMemMapFs()
	if err := memFS.MkdirAll(testVaultRoot, 0750); err != nil {
		t.Fatalf("failed to create vault root: %v", err)
	}

	st, err := store.NewLocalStore(testVaultRoot, store.WithFS(memFS))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return st
}

// sequentialIDs returns 1, 2, 3...
func sequentialIDs() func() int {
	next := 0
	return func() int {
		next++
		return next
	}
}

func newTestSyncer(st store.Store, fetcher Fetcher, opts ...SyncerOption) *Syncer {
	base := []SyncerOption{
		WithClock(func() time.Time { return fixedTime }),
		WithIDSource(sequentialIDs()),
	}
	return NewSyncer(st, fetcher, append(base, opts...)...)
}

func writeFile(t *testing.T, st store.Store, path, content string) {
	t.Helper()
	if err := st.Write(context.Background(), path, []byte(content)); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, st store.Store, path string) string {
	t.Helper()
	data, err := st.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func loadTestData(t *testing.T, st store.Store) *Data {
	t.Helper()
	raw, err := st.Read(context.Background(), DefaultStatePath)
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	data, err := DecodeData(raw)
	if err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	return data
}

var pngBody = []byte("\x89PNG fake image")
