// Package server exposes an HTTP trigger so a host application can request media syncs.
package server

import (
	"time"
)

const (
	// DefaultPort is the default HTTP port for the trigger server.
	DefaultPort = 8181
)

// Config holds configuration for the trigger server.
type Config struct {
	Port      int           // HTTP port to listen on (MEDIASYNC_SERVER_PORT, default 8181)
	Secret    string        // Bearer secret required on /sync (MEDIASYNC_SERVER_SECRET, optional)
	SyncDelay time.Duration // Debounce delay before running queued jobs (MEDIASYNC_SERVER_SYNC_DELAY, default 0)
	Commit    bool          // Commit the vault after each run (MEDIASYNC_COMMIT)
}

// IsValid returns true if the configuration is valid.
func (c *Config) IsValid() bool {
	return c.Port > 0 && c.SyncDelay >= 0
}
