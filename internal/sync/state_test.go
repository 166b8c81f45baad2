package sync

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
)

func TestDecodeData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantFiles []string
		wantDir   SaveDirectory
		wantErr   bool
	}{
		{name: "empty", raw: "", wantFiles: []string{}, wantDir: SaveDirectoryDefault},
		{
			name:      "plain object",
			raw:       `{"files":["a.md","b.md"],"setting":{"saveDirectory":"resourceFolderName","resourceFolderName":"x"}}`,
			wantFiles: []string{"a.md", "b.md"},
			wantDir:   SaveDirectoryUserDefined,
		},
		{
			name:      "string wrapped",
			raw:       `"{\"files\":[\"a.md\"]}"`,
			wantFiles: []string{"a.md"},
			wantDir:   SaveDirectoryDefault,
		},
		{
			name:      "duplicates dropped",
			raw:       `{"files":["a.md","a.md"]}`,
			wantFiles: []string{"a.md"},
			wantDir:   SaveDirectoryDefault,
		},
		{
			name:      "unknown save directory",
			raw:       `{"setting":{"saveDirectory":"somewhere"}}`,
			wantFiles: []string{},
			wantDir:   SaveDirectoryDefault,
		},
		{name: "malformed", raw: `{"files":`, wantFiles: []string{}, wantDir: SaveDirectoryDefault, wantErr: true},
		{name: "files not a list", raw: `{"files":"a.md"}`, wantFiles: []string{}, wantDir: SaveDirectoryDefault, wantErr: true},
		{
			name:      "invalid entries",
			raw:       `{"files":["a.md",3,null]}`,
			wantFiles: []string{"a.md"},
			wantDir:   SaveDirectoryDefault,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := DecodeData([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if data == nil {
				t.Fatal("DecodeData must always return data")
			}
			if !slices.Equal(data.Files, tt.wantFiles) {
				t.Errorf("files = %v, want %v", data.Files, tt.wantFiles)
			}
			if data.Setting.SaveDirectory != tt.wantDir {
				t.Errorf("save directory = %q, want %q", data.Setting.SaveDirectory, tt.wantDir)
			}
		})
	}
}

func TestData_MarshalKeepsUnknownFields(t *testing.T) {
	t.Parallel()

	data, err := DecodeData([]byte(`{"files":["a.md"],"theme":"dark"}`))
	if err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	data.MarkProcessed("b.md")

	out, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if fields["theme"] != "dark" {
		t.Errorf("theme = %v, want dark", fields["theme"])
	}
	if fields["version"] != float64(dataFormatVersion) {
		t.Errorf("version = %v", fields["version"])
	}
	if files, _ := fields["files"].([]any); len(files) != 2 {
		t.Errorf("files = %v", fields["files"])
	}
}

func TestData_MarkAndForget(t *testing.T) {
	t.Parallel()

	data := NewData()
	data.MarkProcessed("a.md")
	data.MarkProcessed("a.md")
	data.MarkProcessed("b.md")

	if len(data.Files) != 2 {
		t.Fatalf("files = %v, want 2 entries", data.Files)
	}
	if removed := data.Forget("a.md", "c.md"); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if data.IsProcessed("a.md") || !data.IsProcessed("b.md") {
		t.Errorf("files = %v, want [b.md]", data.Files)
	}
}

func TestSaveData_MergesWithPersistedState(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	syncer := newTestSyncer(st, newFakeFetcher(nil))
	ctx := context.Background()

	// Another writer recorded x.md after our load.
	data := NewData()
	data.MarkProcessed("a.md")
	writeFile(t, st, DefaultStatePath, `{"files":["x.md"],"other":true}`)

	if err := syncer.saveData(ctx, data); err != nil {
		t.Fatalf("saveData failed: %v", err)
	}

	got := loadTestData(t, st)
	if !slices.Equal(got.Files, []string{"x.md", "a.md"}) {
		t.Errorf("files = %v, want [x.md a.md]", got.Files)
	}
	if _, ok := got.extra["other"]; !ok {
		t.Error("unknown field lost")
	}
}

func TestForgetAndStatus(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, "a.md", "a")
	writeFile(t, st, "b.md", "b")
	syncer := newTestSyncer(st, newFakeFetcher(nil))
	ctx := context.Background()

	if _, err := syncer.Run(ctx, RunOptions{UseCache: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	removed, err := syncer.Forget(ctx, []string{"a.md"}, false)
	if err != nil || removed != 1 {
		t.Fatalf("Forget = %d, %v, want 1", removed, err)
	}

	status, err := syncer.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Documents != 2 || status.Pending != 1 || len(status.Files) != 1 {
		t.Errorf("status = %+v, want 2 documents, 1 pending", status)
	}

	if removed, err = syncer.Forget(ctx, nil, true); err != nil || removed != 1 {
		t.Errorf("Forget all = %d, %v, want 1", removed, err)
	}
	if _, err := syncer.Forget(ctx, nil, false); err == nil {
		t.Error("Forget without names should fail")
	}
}

func TestSaveSettingsKeepsFiles(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	writeFile(t, st, DefaultStatePath, `{"files":["a.md"]}`)
	syncer := newTestSyncer(st, newFakeFetcher(nil))
	ctx := context.Background()

	setting := Setting{SaveDirectory: SaveDirectoryUserDefined, ResourceFolderName: "media"}
	if err := syncer.SaveSettings(ctx, setting); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, err := syncer.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got != setting {
		t.Errorf("settings = %+v, want %+v", got, setting)
	}
	if !loadTestData(t, st).IsProcessed("a.md") {
		t.Error("processed set lost")
	}
}
