package sync

import (
	"context"
	"path"
	"strings"

	"github.com/fclairamb/mediasync/internal/apperrors"
)

// SaveDirectory selects where downloaded assets are stored.
// The values match the persisted format of existing data files.
type SaveDirectory string

const (
	// SaveDirectoryDefault stores assets under DefaultResourceFolder.
	SaveDirectoryDefault SaveDirectory = "_media-sync_resources"
	// SaveDirectoryAttachment uses the host application's attachment folder.
	SaveDirectoryAttachment SaveDirectory = "attachmentFolderPath"
	// SaveDirectoryUserDefined uses Setting.ResourceFolderName.
	SaveDirectoryUserDefined SaveDirectory = "resourceFolderName"

	// DefaultResourceFolder is the vault-relative folder used when nothing else applies.
	DefaultResourceFolder = "_media-sync_resources"
)

// Setting is the user-facing configuration persisted under "setting".
type Setting struct {
	SaveDirectory      SaveDirectory `json:"saveDirectory"`
	ResourceFolderName string        `json:"resourceFolderName"`
}

// DefaultSetting returns the setting used for a fresh vault.
func DefaultSetting() Setting {
	return Setting{SaveDirectory: SaveDirectoryDefault}
}

// ParseSaveDirectory accepts the short CLI names (default, attachment, custom)
// as well as the persisted values.
func ParseSaveDirectory(val string) (SaveDirectory, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "default", strings.ToLower(string(SaveDirectoryDefault)):
		return SaveDirectoryDefault, nil
	case "attachment", strings.ToLower(string(SaveDirectoryAttachment)):
		return SaveDirectoryAttachment, nil
	case "custom", "user", strings.ToLower(string(SaveDirectoryUserDefined)):
		return SaveDirectoryUserDefined, nil
	default:
		return "", apperrors.ErrInvalidSaveDirectory
	}
}

// normalize maps unknown values to the default.
func (sd SaveDirectory) normalize() SaveDirectory {
	switch sd {
	case SaveDirectoryDefault, SaveDirectoryAttachment, SaveDirectoryUserDefined:
		return sd
	default:
		return SaveDirectoryDefault
	}
}

// ResolveResourceFolder returns the effective vault-relative resource folder for a run.
// It never returns an empty path.
func (s *Syncer) ResolveResourceFolder(ctx context.Context, setting Setting) string {
	var folder string

	switch setting.SaveDirectory.normalize() {
	case SaveDirectoryAttachment:
		if s.host == nil {
			break
		}
		attachment, err := s.host.AttachmentFolder(ctx)
		if err != nil {
			s.logger.DebugContext(ctx, "attachment folder unavailable, using default", "error", err)
			break
		}
		folder = attachment
	case SaveDirectoryUserDefined:
		folder = setting.ResourceFolderName
	case SaveDirectoryDefault:
	}

	if cleaned := cleanFolder(folder); cleaned != "" {
		return cleaned
	}
	return DefaultResourceFolder
}

// cleanFolder turns a user or host supplied folder into a vault-relative slash path.
// Paths escaping the vault or pointing at its root yield "".
func cleanFolder(folder string) string {
	folder = strings.TrimSpace(strings.ReplaceAll(folder, `\`, "/"))
	if folder == "" {
		return ""
	}

	cleaned := strings.Trim(path.Clean("/"+folder), "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(folder, "..") {
		return ""
	}
	return cleaned
}
