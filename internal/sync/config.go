package sync

import (
	"strconv"
	"strings"

	"github.com/fclairamb/mediasync/internal/media"
)

const (
	// DefaultStatePath is where the processed set and settings are persisted, relative to the vault.
	DefaultStatePath = ".mediasync/data.json"

	// DefaultHostConfigPath is the host application config holding attachmentFolderPath.
	DefaultHostConfigPath = ".obsidian/app.json"

	// Byte size multipliers.
	bytesPerKB = 1024
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024
)

// Config holds pipeline configuration. It is passed explicitly to NewSyncer.
type Config struct {
	// StatePath is the vault-relative location of the persisted blob.
	StatePath string
	// AllowPDF accepts application/pdf resources in addition to images.
	AllowPDF bool
	// Sidecar writes a provenance note next to each downloaded asset.
	Sidecar bool
	// Checkpoint persists the processed set after every document that was rewritten, not only at the end.
	Checkpoint bool
	// SkipPrefixes lists URL prefixes that are never fetched.
	SkipPrefixes []string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		StatePath:    DefaultStatePath,
		AllowPDF:     true,
		Sidecar:      true,
		Checkpoint:   true,
		SkipPrefixes: media.DefaultSkipPrefixes,
	}
}

// ParseFileSize parses a file size such as "5MB", "100KB", "1GB" or plain bytes.
// Returns defaultVal if the value is empty or invalid.
func ParseFileSize(val string, defaultVal int64) int64 {
	if val == "" || val == "0" {
		return defaultVal
	}

	// Try parsing as plain bytes
	if bytes, err := strconv.ParseInt(val, 10, 64); err == nil && bytes > 0 {
		return bytes
	}

	val = strings.ToUpper(strings.TrimSpace(val))

	// Longest suffixes first so "MB" is not read as "B"
	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"KB", bytesPerKB},
		{"MB", bytesPerMB},
		{"GB", bytesPerGB},
		{"B", 1},
	}

	for _, unit := range units {
		if numStr, found := strings.CutSuffix(val, unit.suffix); found {
			numStr = strings.TrimSpace(numStr)
			if num, err := strconv.ParseFloat(numStr, 64); err == nil && num > 0 {
				return int64(num * float64(unit.multiplier))
			}
			return defaultVal
		}
	}

	return defaultVal
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(val string) []string {
	var items []string
	for item := range strings.SplitSeq(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
