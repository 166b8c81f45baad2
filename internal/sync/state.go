// Package sync localizes remote media referenced by vault documents.
//
// A run enumerates markdown documents, extracts remote URLs, downloads the
// images and PDFs they point at into the resource folder, rewrites the
// documents to reference the local copies and records processed documents in
// a persisted state blob.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"
)

const dataFormatVersion = 1

// Data is the persisted processing state.
// Unknown top-level fields found on load are written back unchanged.
// Files should be changed through MarkProcessed and Forget so the lookup index stays current.
type Data struct {
	Version int      `json:"version"`
	Files   []string `json:"files"`
	Setting Setting  `json:"setting"`

	extra map[string]json.RawMessage
	index map[string]struct{}
}

// NewData returns an empty state with default settings.
func NewData() *Data {
	return &Data{
		Version: dataFormatVersion,
		Files:   []string{},
		Setting: DefaultSetting(),
	}
}

var knownDataKeys = []string{"version", "files", "setting"}

// DecodeData parses a persisted blob. It never fails to produce a usable value:
// on malformed input it returns defaults for what could not be read, along with
// an error describing the problem so the caller can log it.
// A blob that was saved as a JSON-encoded string is unwrapped first.
func DecodeData(raw []byte) (*Data, error) {
	data := NewData()

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return data, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return data, fmt.Errorf("decode wrapped state: %w", err)
		}
		raw = bytes.TrimSpace([]byte(inner))
		if len(raw) == 0 {
			return data, nil
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return data, fmt.Errorf("decode state: %w", err)
	}

	var errs []error

	if v, ok := fields["version"]; ok {
		if err := json.Unmarshal(v, &data.Version); err != nil {
			errs = append(errs, fmt.Errorf("field version: %w", err))
			data.Version = dataFormatVersion
		}
	}

	if v, ok := fields["files"]; ok {
		files, err := decodeFiles(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("field files: %w", err))
		}
		data.Files = files
	}

	if v, ok := fields["setting"]; ok {
		setting, err := decodeSetting(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("field setting: %w", err))
		}
		data.Setting = setting
	}

	for k, v := range fields {
		if slices.Contains(knownDataKeys, k) {
			continue
		}
		if data.extra == nil {
			data.extra = make(map[string]json.RawMessage)
		}
		data.extra[k] = v
	}

	return data, errors.Join(errs...)
}

// decodeFiles keeps the string entries of a files array, dropping duplicates and other types.
func decodeFiles(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}, err
	}

	files := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	var invalid int
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err != nil || name == "" {
			invalid++
			continue
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			files = append(files, name)
		}
	}

	if invalid > 0 {
		return files, fmt.Errorf("%d invalid entries ignored", invalid)
	}
	return files, nil
}

func decodeSetting(raw json.RawMessage) (Setting, error) {
	var wire struct {
		SaveDirectory      any `json:"saveDirectory"`
		ResourceFolderName any `json:"resourceFolderName"`
	}
	setting := DefaultSetting()
	if err := json.Unmarshal(raw, &wire); err != nil {
		return setting, err
	}

	if sd, ok := wire.SaveDirectory.(string); ok {
		setting.SaveDirectory = SaveDirectory(sd).normalize()
	}
	if name, ok := wire.ResourceFolderName.(string); ok {
		setting.ResourceFolderName = name
	}
	return setting, nil
}

// MarshalJSON writes the known fields merged over the preserved unknown ones.
func (d *Data) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+len(knownDataKeys))
	for k, v := range d.extra {
		out[k] = v
	}

	files := d.Files
	if files == nil {
		files = []string{}
	}
	out["version"] = dataFormatVersion
	out["files"] = files
	out["setting"] = d.Setting

	return json.Marshal(out)
}

// processed returns the lookup index of Files, rebuilding it when Files was replaced.
func (d *Data) processed() map[string]struct{} {
	if d.index == nil || len(d.index) != len(d.Files) {
		d.index = make(map[string]struct{}, len(d.Files))
		for _, name := range d.Files {
			d.index[name] = struct{}{}
		}
	}
	return d.index
}

// IsProcessed reports whether a document name is in the processed set.
func (d *Data) IsProcessed(name string) bool {
	_, ok := d.processed()[name]
	return ok
}

// MarkProcessed adds name to the processed set, ignoring duplicates.
func (d *Data) MarkProcessed(name string) {
	index := d.processed()
	if _, ok := index[name]; ok {
		return
	}
	index[name] = struct{}{}
	d.Files = append(d.Files, name)
}

// Forget removes names from the processed set and returns how many were removed.
func (d *Data) Forget(names ...string) int {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}

	before := len(d.Files)
	d.Files = slices.DeleteFunc(d.Files, func(f string) bool {
		_, ok := drop[f]
		return ok
	})
	d.index = nil
	return before - len(d.Files)
}

// loadData reads the state blob. A missing blob yields an empty state.
// Corruption is logged and replaced by defaults.
func (s *Syncer) loadData(ctx context.Context) (*Data, error) {
	raw, err := s.store.Read(ctx, s.config.StatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return NewData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	data, decodeErr := DecodeData(raw)
	if decodeErr != nil {
		s.logger.WarnContext(ctx, "Persisted state partially unreadable, using defaults",
			"path", s.config.StatePath,
			"error", decodeErr)
	}
	return data, nil
}

// saveData merges data into the currently persisted blob and writes it.
// The processed set becomes the union of both, settings come from data and
// unknown fields of the persisted blob are kept.
func (s *Syncer) saveData(ctx context.Context, data *Data) error {
	current, err := s.loadData(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "Could not re-read state before save", "error", err)
		current = NewData()
	}

	merged := &Data{
		Version: dataFormatVersion,
		Files:   slices.Clone(current.Files),
		Setting: data.Setting,
		extra:   current.extra,
	}
	for _, name := range data.Files {
		merged.MarkProcessed(name)
	}
	for k, v := range data.extra {
		if merged.extra == nil {
			merged.extra = make(map[string]json.RawMessage)
		}
		merged.extra[k] = v
	}

	return s.writeData(ctx, merged)
}

// writeData replaces the persisted blob with data.
func (s *Syncer) writeData(ctx context.Context, data *Data) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := s.store.Write(ctx, s.config.StatePath, content); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	s.logger.DebugContext(ctx, "State saved", "path", s.config.StatePath, "files", len(data.Files))
	return nil
}
