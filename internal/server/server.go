package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fclairamb/mediasync/internal/queue"
	"github.com/fclairamb/mediasync/internal/version"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Server serves the trigger endpoints and owns the sync worker.
type Server struct {
	config *Config
	logger *slog.Logger
	worker *SyncWorker
	http   *http.Server
}

// NewServer creates a trigger server running requests queued in queueMgr through runner.
func NewServer(cfg *Config, runner Runner, queueMgr *queue.Manager, logger *slog.Logger) *Server {
	worker := NewSyncWorker(runner, queueMgr, logger, WithSyncDelay(cfg.SyncDelay), WithCommit(cfg.Commit))
	handler := NewHandler(runner, worker, cfg.Secret, logger)

	return &Server{
		config: cfg,
		logger: logger,
		worker: worker,
		http: &http.Server{
			Handler:           logRequests(newMux(handler), logger),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

func newMux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.HandleHealth)
	mux.HandleFunc("/api/version", handler.HandleVersion)
	mux.HandleFunc("/sync", handler.HandleSync)
	return mux
}

// Start listens on the loopback interface and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the worker and answers requests on ln until ctx is canceled.
// Queue entries left by a previous process are picked up right away.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.InfoContext(ctx, "trigger server listening",
		"addr", ln.Addr().String(),
		"sync_delay", s.config.SyncDelay,
		"commit", s.config.Commit,
		"version", version.Version,
		"build_commit", version.Commit)

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.worker.Start(workerCtx)
	}()
	s.worker.Notify()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.http.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "trigger server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(shutdownCtx)
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	// A run in progress stops at the next document boundary
	stopWorker()
	<-workerDone
	return err
}

// statusRecorder keeps the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// logRequests writes one log line per request; failed requests are logged as warnings.
func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, req)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		level := slog.LevelDebug
		if rec.status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		logger.Log(req.Context(), level, "http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"remote_addr", req.RemoteAddr,
			"duration", time.Since(start))
	})
}
