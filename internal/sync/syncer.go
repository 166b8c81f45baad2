package sync

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/fclairamb/mediasync/internal/fetch"
	"github.com/fclairamb/mediasync/internal/media"
	"github.com/fclairamb/mediasync/internal/store"
)

const (
	maxAssetID = 100000 // Asset ids are rendered on 5 digits
)

// Fetcher retrieves a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Syncer localizes remote media of vault documents.
type Syncer struct {
	store      store.Store
	fetcher    Fetcher
	host       HostConfig
	classifier *media.Classifier
	config     Config
	clock      func() time.Time
	randID     func() int
	logger     *slog.Logger
}

// SyncerOption configures the syncer.
type SyncerOption func(*Syncer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithHostConfig sets the host application configuration used to resolve the attachment folder.
func WithHostConfig(h HostConfig) SyncerOption {
	return func(s *Syncer) {
		s.host = h
	}
}

// WithConfig replaces the default pipeline configuration.
func WithConfig(cfg Config) SyncerOption {
	return func(s *Syncer) {
		s.config = cfg
	}
}

// WithClock sets the time source used for asset folder names.
func WithClock(clock func() time.Time) SyncerOption {
	return func(s *Syncer) {
		s.clock = clock
	}
}

// WithIDSource sets the source of asset ids. Values are reduced to 5 digits.
func WithIDSource(id func() int) SyncerOption {
	return func(s *Syncer) {
		s.randID = id
	}
}

// NewSyncer creates a syncer working on st and downloading through fetcher.
func NewSyncer(st store.Store, fetcher Fetcher, opts ...SyncerOption) *Syncer {
	syncer := &Syncer{
		store:   st,
		fetcher: fetcher,
		config:  DefaultConfig(),
		clock:   time.Now,
		randID:  func() int { return rand.IntN(maxAssetID) }, //nolint:gosec // not security sensitive
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(syncer)
	}

	if syncer.config.StatePath == "" {
		syncer.config.StatePath = DefaultStatePath
	}
	if syncer.host == nil {
		syncer.host = NewObsidianConfig(st, DefaultHostConfigPath)
	}
	syncer.classifier = media.NewClassifier(syncer.config.AllowPDF)

	return syncer
}
