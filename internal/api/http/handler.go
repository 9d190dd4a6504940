package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/walhalax/tk-auto-save/internal/domain"
	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
	"github.com/walhalax/tk-auto-save/internal/notify"
	"github.com/walhalax/tk-auto-save/internal/validation"
)

// OrchestratorI defines the control operations the HTTP layer exposes.
type OrchestratorI interface {
	Start() (string, error)
	Resume() (string, error)
	Stop()
	Submit(req domain.SubmitRequest) (bool, error)
	ResetFailed() (int, error)
	ResetAll() error
	Status() domain.StateView
	Task(id string) (*domain.Task, error)
	StaleAfter() time.Duration
	Notifier() *notify.Notifier
}

// ControlHandler handles HTTP requests for session control and task status.
type ControlHandler struct {
	orch      OrchestratorI
	validator *validator.Validate
	logger    *slog.Logger
}

// NewControlHandler creates a ControlHandler with the provided orchestrator and logger.
func NewControlHandler(orch OrchestratorI, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		orch:      orch,
		validator: validation.Validate(),
		logger:    logger,
	}
}

// StartSession handles POST /control/start: reconcile, feed the catalog and
// launch a transfer session in the background.
func (h *ControlHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.orch.Start()
	if err != nil {
		writeSessionError(w, h.logger, "start", err)
		return
	}

	h.logger.Info("session started", "session_id", sessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sessionID,
	})
}

// ResumeSession handles POST /control/resume: like start, but works off the
// existing queues without consulting the catalog.
func (h *ControlHandler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.orch.Resume()
	if err != nil {
		writeSessionError(w, h.logger, "resume", err)
		return
	}

	h.logger.Info("session resumed", "session_id", sessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sessionID,
	})
}

// StopSession handles POST /control/stop. The response returns immediately;
// in-flight transfers pause asynchronously.
func (h *ControlHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.orch.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "stopping",
	})
}

// SubmitTask handles POST /tasks: manual submission of one item, bypassing
// catalog admission filters.
func (h *ControlHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.orch.Submit(req)
	if err != nil {
		if errors.Is(err, errpkg.ErrInvalidTaskID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to submit task", "id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, map[string]string{
			"task_id": req.ID,
			"status":  "already_tracked",
		})
		return
	}

	h.logger.Info("task submitted", "task_id", req.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"task_id": req.ID,
	})
}

// ResetFailed handles POST /control/reset-failed.
func (h *ControlHandler) ResetFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.orch.ResetFailed()
	if err != nil {
		h.logger.Error("failed to reset failed tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("failed tasks requeued", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{
		"reset": n,
	})
}

// ResetAll handles POST /control/reset-all. Refused while a session runs.
func (h *ControlHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ResetAll(); err != nil {
		writeSessionError(w, h.logger, "reset-all", err)
		return
	}

	h.logger.Info("registry reset")
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
	})
}

// ListTasks handles GET /tasks: the full pipeline snapshot with per-task
// staleness decoration.
func (h *ControlHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stateResponse())
}

// GetTask handles GET /tasks/{taskID}.
func (h *ControlHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := h.orch.Task(taskID)
	if err != nil {
		if errors.Is(err, errpkg.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("failed to get task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, domain.ViewOf(task, h.orch.StaleAfter()))
}

// Events handles GET /events: a server-sent-events stream pushing the full
// status snapshot on every state change until the client disconnects.
func (h *ControlHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	notifier := h.orch.Notifier()
	for {
		// Arm the change signal before snapshotting so mutations landing
		// while the event is written still wake the next iteration.
		changed, _ := notifier.Changed()

		if err := writeEvent(w, h.stateResponse()); err != nil {
			h.logger.Debug("event stream closed", "error", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// stateView is the wire shape of the status snapshot: tasks are decorated
// with staleness for display.
type stateView struct {
	Tasks          map[string]domain.TaskView `json:"tasks"`
	DownloadQueue  []string                   `json:"download_queue"`
	UploadQueue    []string                   `json:"upload_queue"`
	ProcessedCount int                        `json:"processed_count"`
	StopRequested  bool                       `json:"stop_requested"`
	SessionID      string                     `json:"session_id,omitempty"`
	SessionState   domain.SessionState        `json:"session_state"`
	SessionStats   domain.SessionStats        `json:"session_stats"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

func (h *ControlHandler) stateResponse() stateView {
	state := h.orch.Status()
	staleAfter := h.orch.StaleAfter()

	tasks := make(map[string]domain.TaskView, len(state.Tasks))
	for id, task := range state.Tasks {
		tasks[id] = domain.ViewOf(task, staleAfter)
	}

	return stateView{
		Tasks:          tasks,
		DownloadQueue:  state.DownloadQueue,
		UploadQueue:    state.UploadQueue,
		ProcessedCount: state.ProcessedCount,
		StopRequested:  state.StopRequested,
		SessionID:      state.SessionID,
		SessionState:   state.SessionState,
		SessionStats:   state.SessionStats,
		GeneratedAt:    state.GeneratedAt,
	}
}

func writeEvent(w io.Writer, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func writeSessionError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if errors.Is(err, errpkg.ErrSessionActive) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	logger.Error("control operation failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
