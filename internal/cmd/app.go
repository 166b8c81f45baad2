// Package cmd provides the CLI commands for mediasync.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/mediasync/internal/apperrors"
	"github.com/fclairamb/mediasync/internal/fetch"
	"github.com/fclairamb/mediasync/internal/queue"
	"github.com/fclairamb/mediasync/internal/server"
	"github.com/fclairamb/mediasync/internal/store"
	"github.com/fclairamb/mediasync/internal/sync"
	"github.com/fclairamb/mediasync/internal/version"
)

const envPrefix = "MEDIASYNC_"

var (
	// konfig is the global koanf instance.
	konfig = koanf.New(".")
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// getLogFormat returns the configured log format from MEDIASYNC_LOG_FORMAT.
func getLogFormat() LogFormat {
	switch strings.ToLower(konfig.String("log_format")) {
	case "json":
		return LogFormatJSON
	default:
		// Invalid format - will warn after logger is set up
		return LogFormatText
	}
}

// setupLogging configures the global logger based on the verbose flag and MEDIASYNC_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch getLogFormat() {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	// Warn about invalid format after logger is set up
	envVal := strings.ToLower(konfig.String("log_format"))
	if envVal != "" && envVal != "text" && envVal != "json" {
		slog.Warn("Invalid MEDIASYNC_LOG_FORMAT value, using text format", "value", envVal)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// loadConfig reads an optional .env file then the MEDIASYNC_* environment into konfig.
// MEDIASYNC_MAX_FILE_SIZE becomes the key "max_file_size".
func loadConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if err := konfig.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(k, envPrefix)), v
		},
	}), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	return nil
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "mediasync",
		Usage:   "Download remote images and PDFs referenced by vault notes and link the local copies",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Path to the vault",
				Aliases: []string{"s"},
				Sources: cli.EnvVars(envPrefix + "VAULT"),
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			return ctx, loadConfig()
		},
		Commands: []*cli.Command{
			syncCommand(),
			statusCommand(),
			settingsCommand(),
			forgetCommand(),
			serveCommand(),
		},
	}
}

// syncCommand creates the sync subcommand.
func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Localize remote media of every unprocessed document, or of the given documents",
		ArgsUsage: "[document.md...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Reprocess documents already recorded as processed",
			},
			&cli.BoolFlag{
				Name:  "commit",
				Usage: "Commit the vault to its git repository after the run",
			},
			saveDirectoryFlag(),
			folderFlag(),
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			commit := cmd.Bool("commit") || konfig.Bool("commit")

			syncer, _, err := setupSyncer(cmd, commit)
			if err != nil {
				return err
			}

			setting, err := settingsOverride(ctx, cmd, syncer)
			if err != nil {
				return err
			}

			// Explicit documents are always reprocessed
			targets := cmd.Args().Slice()
			opts := sync.RunOptions{
				Targets:  targets,
				UseCache: len(targets) == 0 && !cmd.Bool("no-cache"),
				Settings: setting,
				Progress: displayEvent,
			}

			result, err := syncer.Run(ctx, opts)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			displayRunResult(result)

			if commit {
				message := fmt.Sprintf("[mediasync] sync at %s", time.Now().Format(time.RFC3339))
				if err := syncer.CommitChanges(ctx, message); err != nil {
					return fmt.Errorf("commit: %w", err)
				}
			}

			if result.StateErr != nil {
				return fmt.Errorf("persist state: %w", result.StateErr)
			}
			return nil
		},
	}
}

// statusCommand creates the status subcommand.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show processed documents and settings",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "files",
				Aliases: []string{"f"},
				Usage:   "List processed document names",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			syncer, _, err := setupSyncer(cmd, false)
			if err != nil {
				return err
			}

			status, err := syncer.Status(ctx)
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			displayStatus(status, cmd.Bool("files"))
			return nil
		},
	}
}

// settingsCommand creates the settings subcommand.
func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or update where downloaded media is stored",
		Flags: []cli.Flag{
			saveDirectoryFlag(),
			folderFlag(),
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			syncer, _, err := setupSyncer(cmd, false)
			if err != nil {
				return err
			}

			setting, err := syncer.LoadSettings(ctx)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}

			if cmd.IsSet("save-directory") || cmd.IsSet("folder") {
				if err := applySettingFlags(cmd, &setting); err != nil {
					return err
				}
				if err := syncer.SaveSettings(ctx, setting); err != nil {
					return fmt.Errorf("save settings: %w", err)
				}
				slog.InfoContext(ctx, "Settings saved")
			}

			displaySettings(setting, syncer.ResolveResourceFolder(ctx, setting))
			return nil
		},
	}
}

// forgetCommand creates the forget subcommand.
func forgetCommand() *cli.Command {
	return &cli.Command{
		Name:      "forget",
		Usage:     "Remove documents from the processed set so the next sync handles them again",
		ArgsUsage: "[name.md...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Forget every processed document",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			syncer, _, err := setupSyncer(cmd, false)
			if err != nil {
				return err
			}

			removed, err := syncer.Forget(ctx, cmd.Args().Slice(), cmd.Bool("all"))
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}

			displayForgotten(removed)
			return nil
		},
	}
}

// serveCommand creates the serve subcommand for the HTTP trigger.
func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start a local HTTP server that runs syncs on request",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP port to listen on",
				Value:   server.DefaultPort,
				Sources: cli.EnvVars(envPrefix + "SERVER_PORT"),
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "Bearer secret required on /sync (optional)",
				Sources: cli.EnvVars(envPrefix + "SERVER_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "sync-delay",
				Usage:   "Delay before running queued requests (debounce)",
				Value:   0,
				Sources: cli.EnvVars(envPrefix + "SERVER_SYNC_DELAY"),
			},
			&cli.BoolFlag{
				Name:    "commit",
				Usage:   "Commit the vault to its git repository after each run",
				Sources: cli.EnvVars(envPrefix + "COMMIT"),
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := &server.Config{
				Port:      cmd.Int("port"),
				Secret:    cmd.String("secret"),
				SyncDelay: cmd.Duration("sync-delay"),
				Commit:    cmd.Bool("commit"),
			}
			if !cfg.IsValid() {
				return fmt.Errorf("invalid server configuration: port %d, sync delay %s", cfg.Port, cfg.SyncDelay)
			}
			if cfg.Secret == "" {
				slog.Warn("trigger secret not configured - any local process can request syncs (set --secret or MEDIASYNC_SERVER_SECRET)")
			}

			syncer, st, err := setupSyncer(cmd, cfg.Commit)
			if err != nil {
				return err
			}

			queueMgr := queue.NewManager(st, konfig.String("queue_dir"), slog.Default())

			return server.NewServer(cfg, syncer, queueMgr, slog.Default()).Start(ctx)
		},
	}
}

func saveDirectoryFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "save-directory",
		Usage: "Where media is stored: default, attachment or custom",
	}
}

func folderFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "folder",
		Usage: "Resource folder used with --save-directory custom",
	}
}

// resolveVaultPath returns the vault from --vault, MEDIASYNC_VAULT or the .env file.
func resolveVaultPath(cmd *cli.Command) (string, error) {
	if vault := cmd.String("vault"); vault != "" {
		return vault, nil
	}
	// Values from .env are only visible through konfig
	if vault := konfig.String("vault"); vault != "" {
		return vault, nil
	}
	return "", apperrors.ErrVaultPathRequired
}

// setupSyncer creates the store, the fetch client and the syncer from the configuration.
func setupSyncer(cmd *cli.Command, withGit bool) (*sync.Syncer, *store.LocalStore, error) {
	vault, err := resolveVaultPath(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.Default()

	st, err := store.NewLocalStore(vault, store.WithLogger(logger), store.WithGit(withGit))
	if err != nil {
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	client := fetch.NewClient(fetchOptions(logger)...)

	syncer := sync.NewSyncer(st, client,
		sync.WithLogger(logger),
		sync.WithConfig(syncConfig()),
		sync.WithHostConfig(sync.NewObsidianConfig(st, konfig.String("host_config"))),
	)
	return syncer, st, nil
}

func fetchOptions(logger *slog.Logger) []fetch.ClientOption {
	opts := []fetch.ClientOption{
		fetch.WithLogger(logger),
		fetch.WithMaxSize(sync.ParseFileSize(konfig.String("max_file_size"), fetch.DefaultMaxSize)),
	}
	if d := konfig.Duration("fetch_timeout"); d > 0 {
		opts = append(opts, fetch.WithTimeout(d))
	}
	if d := konfig.Duration("fetch_interval"); d > 0 {
		opts = append(opts, fetch.WithInterval(d))
	}
	if ua := konfig.String("user_agent"); ua != "" {
		opts = append(opts, fetch.WithUserAgent(ua))
	}
	return opts
}

func syncConfig() sync.Config {
	cfg := sync.DefaultConfig()

	if statePath := konfig.String("state_path"); statePath != "" {
		cfg.StatePath = statePath
	}
	if konfig.Exists("allow_pdf") {
		cfg.AllowPDF = konfig.Bool("allow_pdf")
	}
	if konfig.Exists("sidecar") {
		cfg.Sidecar = konfig.Bool("sidecar")
	}
	if konfig.Exists("state_checkpoint") {
		cfg.Checkpoint = konfig.Bool("state_checkpoint")
	}
	if extra := sync.SplitList(konfig.String("skip_prefixes")); len(extra) > 0 {
		cfg.SkipPrefixes = append(append([]string{}, cfg.SkipPrefixes...), extra...)
	}

	return cfg
}

// settingsOverride returns the settings for a run when the environment or flags change them.
// Flags take precedence over the environment, which takes precedence over persisted settings.
func settingsOverride(ctx context.Context, cmd *cli.Command, syncer *sync.Syncer) (*sync.Setting, error) {
	envSet := konfig.Exists("save_directory") || konfig.Exists("resource_folder_name")
	flagSet := cmd.IsSet("save-directory") || cmd.IsSet("folder")
	if !envSet && !flagSet {
		return nil, nil //nolint:nilnil // nil keeps the persisted settings
	}

	setting, err := syncer.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if val := konfig.String("save_directory"); val != "" {
		sd, err := sync.ParseSaveDirectory(val)
		if err != nil {
			return nil, fmt.Errorf("MEDIASYNC_SAVE_DIRECTORY: %w", err)
		}
		setting.SaveDirectory = sd
	}
	if konfig.Exists("resource_folder_name") {
		setting.ResourceFolderName = konfig.String("resource_folder_name")
	}

	if err := applySettingFlags(cmd, &setting); err != nil {
		return nil, err
	}

	return &setting, nil
}

// applySettingFlags applies --save-directory and --folder. A folder alone implies a custom save directory.
func applySettingFlags(cmd *cli.Command, setting *sync.Setting) error {
	if cmd.IsSet("save-directory") {
		sd, err := sync.ParseSaveDirectory(cmd.String("save-directory"))
		if err != nil {
			return err
		}
		setting.SaveDirectory = sd
	}
	if cmd.IsSet("folder") {
		setting.ResourceFolderName = cmd.String("folder")
		if !cmd.IsSet("save-directory") {
			setting.SaveDirectory = sync.SaveDirectoryUserDefined
		}
	}
	return nil
}
