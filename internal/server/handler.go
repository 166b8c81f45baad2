package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fclairamb/mediasync/internal/apperrors"
	"github.com/fclairamb/mediasync/internal/queue"
	"github.com/fclairamb/mediasync/internal/version"
)

// maxRequestBody caps the size of a /sync request.
const maxRequestBody = 1 << 20

// SyncRequest is the body of POST /sync. An empty body syncs the whole vault.
type SyncRequest struct {
	Files   []string `json:"files,omitempty"`
	NoCache bool     `json:"no_cache,omitempty"`
}

// SyncResponse acknowledges a queued job.
type SyncResponse struct {
	Status  string `json:"status"`
	Files   int    `json:"files"`
	Pending int    `json:"pending"`
}

// Handler handles incoming trigger requests.
type Handler struct {
	runner     Runner
	syncWorker *SyncWorker
	secret     string
	logger     *slog.Logger
}

// NewHandler creates a new trigger handler.
func NewHandler(runner Runner, syncWorker *SyncWorker, secret string, logger *slog.Logger) *Handler {
	return &Handler{
		runner:     runner,
		syncWorker: syncWorker,
		secret:     secret,
		logger:     logger,
	}
}

// HandleSync validates a sync request and queues it for the worker.
func (h *Handler) HandleSync(writer http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if req.Method != http.MethodPost {
		h.logger.WarnContext(ctx, "invalid method", "method", req.Method)
		http.Error(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(req) {
		h.logger.WarnContext(ctx, "unauthorized sync request")
		http.Error(writer, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rawJSON, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read sync request", "error", err)
		http.Error(writer, "Invalid payload", http.StatusBadRequest)
		return
	}

	var syncReq SyncRequest
	if len(strings.TrimSpace(string(rawJSON))) > 0 {
		if err := json.Unmarshal(rawJSON, &syncReq); err != nil {
			h.logger.WarnContext(ctx, "failed to decode sync request", "error", err)
			http.Error(writer, "Invalid payload", http.StatusBadRequest)
			return
		}
	}

	if len(syncReq.Files) > 0 {
		if _, err := h.runner.ValidateTargets(ctx, syncReq.Files); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, apperrors.ErrUnsupportedTarget) || errors.Is(err, apperrors.ErrTargetNotFound) {
				status = http.StatusBadRequest
			}
			h.logger.WarnContext(ctx, "rejected sync request", "error", err)
			http.Error(writer, err.Error(), status)
			return
		}
	}

	entry := queue.Entry{Files: syncReq.Files, NoCache: syncReq.NoCache, Source: "http"}
	if err := h.syncWorker.Enqueue(ctx, entry); err != nil {
		h.logger.ErrorContext(ctx, "failed to queue sync request", "error", err)
		http.Error(writer, "Could not queue request", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "sync request queued", "files", len(syncReq.Files), "no_cache", syncReq.NoCache)

	writeJSON(writer, http.StatusAccepted, SyncResponse{
		Status:  "queued",
		Files:   len(syncReq.Files),
		Pending: h.syncWorker.Pending(ctx),
	}, h.logger)
}

// authorized checks the bearer secret. Without a configured secret every request is accepted.
func (h *Handler) authorized(req *http.Request) bool {
	if h.secret == "" {
		return true
	}

	token, found := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

// HandleVersion handles the /api/version endpoint.
func (h *Handler) HandleVersion(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_time": version.GitTime,
	}, h.logger)
}

// HandleHealth handles the /health endpoint for health checks.
func (h *Handler) HandleHealth(writer http.ResponseWriter, req *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": h.syncWorker.Running(),
		"pending": h.syncWorker.Pending(req.Context()),
	}, h.logger)
}

func writeJSON(writer http.ResponseWriter, status int, body any, logger *slog.Logger) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
