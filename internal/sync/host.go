package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fclairamb/mediasync/internal/store"
)

// HostConfig exposes the host application settings the pipeline depends on.
type HostConfig interface {
	// AttachmentFolder returns the configured attachment folder, or "" when unset.
	AttachmentFolder(ctx context.Context) (string, error)
}

// ObsidianConfig reads host settings from the vault's .obsidian/app.json.
type ObsidianConfig struct {
	store store.Store
	path  string
}

// NewObsidianConfig creates a HostConfig backed by the JSON file at path (vault-relative).
func NewObsidianConfig(st store.Store, path string) *ObsidianConfig {
	if path == "" {
		path = DefaultHostConfigPath
	}
	return &ObsidianConfig{store: st, path: path}
}

type obsidianAppConfig struct {
	AttachmentFolderPath string `json:"attachmentFolderPath"`
}

// AttachmentFolder implements HostConfig.
func (o *ObsidianConfig) AttachmentFolder(ctx context.Context) (string, error) {
	data, err := o.store.Read(ctx, o.path)
	if err != nil {
		return "", fmt.Errorf("read host config: %w", err)
	}

	var cfg obsidianAppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("unmarshal host config: %w", err)
	}

	return cfg.AttachmentFolderPath, nil
}
