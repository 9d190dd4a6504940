package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/walhalax/tk-auto-save/internal/domain"
	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
	"github.com/walhalax/tk-auto-save/internal/metrics"
	"github.com/walhalax/tk-auto-save/internal/notify"
)

// TaskStore owns the task registry, both pending queues and the
// processed-set. It is the single source of truth for task state: every
// status or localPath change goes through one of its methods, each of which
// runs under the store lock and rewrites the whole snapshot file before
// returning. Observers are woken through the change notifier after every
// mutation.
type TaskStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	dlQueue   []string
	ulQueue   []string
	processed map[string]struct{}
	stop      bool
	file      string
	notifier  *notify.Notifier
}

// snapshot is the persisted shape: registry, ordered queues and
// processed-set. The stop flag is deliberately not part of it; a restart
// always begins un-stopped.
type snapshot struct {
	Tasks         map[string]*domain.Task `json:"tasks"`
	DownloadQueue []string                `json:"download_queue"`
	UploadQueue   []string                `json:"upload_queue"`
	ProcessedIDs  []string                `json:"processed_ids"`
}

// NewTaskStore creates a TaskStore and loads the snapshot file if it exists.
func NewTaskStore(filePath string) (*TaskStore, error) {
	s := &TaskStore{
		tasks:     make(map[string]*domain.Task),
		processed: make(map[string]struct{}),
		file:      filepath.Clean(filePath),
		notifier:  notify.NewNotifier(),
	}

	if err := s.restore(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("task store initialized",
		"file_path", s.file,
		"tasks_count", len(s.tasks),
		"download_queue", len(s.dlQueue),
		"upload_queue", len(s.ulQueue),
		"processed", len(s.processed),
	)
	return s, nil
}

func (s *TaskStore) restore() error {
	if _, err := os.Stat(s.file); os.IsNotExist(err) {
		slog.Info("state file does not exist, starting with empty state", "file_path", s.file)
		return nil
	}

	data, err := os.ReadFile(s.file)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("state file is empty")
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", errpkg.ErrStateCorrupt, err)
	}

	if snap.Tasks != nil {
		s.tasks = snap.Tasks
	}
	for _, id := range snap.DownloadQueue {
		if _, ok := s.tasks[id]; !ok {
			slog.Warn("discarding download queue entry with no registry record", "task_id", id)
			continue
		}
		s.dlQueue = append(s.dlQueue, id)
	}
	for _, id := range snap.UploadQueue {
		if _, ok := s.tasks[id]; !ok {
			slog.Warn("discarding upload queue entry with no registry record", "task_id", id)
			continue
		}
		s.ulQueue = append(s.ulQueue, id)
	}
	for _, id := range snap.ProcessedIDs {
		s.processed[id] = struct{}{}
	}

	return nil
}

// persistLocked rewrites the whole snapshot file. Callers must hold s.mu;
// the write happens before the lock is released so readers of the file never
// observe a half-applied operation.
func (s *TaskStore) persistLocked() error {
	snap := snapshot{
		Tasks:         s.tasks,
		DownloadQueue: s.dlQueue,
		UploadQueue:   s.ulQueue,
		ProcessedIDs:  make([]string, 0, len(s.processed)),
	}
	for id := range s.processed {
		snap.ProcessedIDs = append(snap.ProcessedIDs, id)
	}
	sort.Strings(snap.ProcessedIDs)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := s.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempFile, s.file); err != nil {
		return fmt.Errorf("failed to rename temporary state file: %w", err)
	}

	metrics.QueueDepth.WithLabelValues("download").Set(float64(len(s.dlQueue)))
	metrics.QueueDepth.WithLabelValues("upload").Set(float64(len(s.ulQueue)))

	slog.Debug("state saved to file", "tasks_count", len(s.tasks), "file_path", s.file)
	return nil
}

// Notifier exposes the change signal observers wait on.
func (s *TaskStore) Notifier() *notify.Notifier {
	return s.notifier
}

// EnqueueDownload registers a newly discovered item and appends it to the
// download queue. Submitting a known or processed TaskID is a no-op; retry
// paths (reset, resume, reconcile) own re-entry for existing records.
// Returns true when a new task was created.
func (s *TaskStore) EnqueueDownload(item domain.CatalogItem) (bool, error) {
	if item.ID == "" {
		return false, fmt.Errorf("catalog item has no id")
	}

	s.mu.Lock()
	if _, done := s.processed[item.ID]; done {
		s.mu.Unlock()
		slog.Debug("skipping processed item", "task_id", item.ID)
		return false, nil
	}
	if _, exists := s.tasks[item.ID]; exists {
		s.mu.Unlock()
		slog.Debug("skipping already registered item", "task_id", item.ID)
		return false, nil
	}

	s.tasks[item.ID] = domain.NewTask(item)
	s.dlQueue = append(s.dlQueue, item.ID)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	slog.Info("task enqueued for download", "task_id", item.ID, "title", item.Title)
	s.notifier.Notify()
	return true, nil
}

// MarkDownloadComplete records that an item's payload already exists at
// localPath and routes the task straight to the upload queue. It creates the
// record if the item was never registered and re-activates processed items,
// so callers can repair state discovered on disk.
func (s *TaskStore) MarkDownloadComplete(item domain.CatalogItem, localPath string) error {
	if item.ID == "" {
		return fmt.Errorf("catalog item has no id")
	}
	if localPath == "" {
		return fmt.Errorf("local path required to mark download complete")
	}

	s.mu.Lock()
	task, ok := s.tasks[item.ID]
	if !ok {
		task = domain.NewTask(item)
		s.tasks[item.ID] = task
	}
	if task.Title == "" {
		task.Title = item.Title
	}

	task.Status = domain.StatusPendingUpload
	task.DownloadProgress = 100
	task.LocalPath = localPath
	task.ErrorMessage = ""
	task.LastUpdated = time.Now()

	delete(s.processed, item.ID)
	s.dlQueue = removeID(s.dlQueue, item.ID)
	if !containsID(s.ulQueue, item.ID) {
		s.ulQueue = append(s.ulQueue, item.ID)
	}

	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("existing payload adopted, task queued for upload", "task_id", item.ID, "local_path", localPath)
	s.notifier.Notify()
	return nil
}

// DequeueDownload pops the download queue head and checks it out to a
// worker. Returns (nil, nil) when the queue is empty or a stop has been
// requested. Queue entries without a registry record are discarded.
func (s *TaskStore) DequeueDownload() (*domain.Task, error) {
	s.mu.Lock()

	if s.stop {
		s.mu.Unlock()
		return nil, nil
	}

	dirty := false
	for len(s.dlQueue) > 0 {
		id := s.dlQueue[0]
		s.dlQueue = s.dlQueue[1:]
		dirty = true

		task, ok := s.tasks[id]
		if !ok {
			slog.Warn("download queue entry has no registry record, discarding", "task_id", id)
			continue
		}

		task.Status = domain.StatusDownloading
		task.DownloadProgress = 0
		task.LastUpdated = time.Now()

		err := s.persistLocked()
		clone := task.Clone()
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}

		slog.Debug("download task checked out", "task_id", id)
		s.notifier.Notify()
		return clone, nil
	}

	var err error
	if dirty {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if dirty {
		s.notifier.Notify()
	}
	return nil, nil
}

// UpdateDownloadProgress applies a download-side progress event to the task.
// Terminal events transition the task per the state machine; every call
// persists and signals observers.
func (s *TaskStore) UpdateDownloadProgress(id string, ev domain.ProgressEvent) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update download progress for %s: %w", id, errpkg.ErrTaskNotFound)
	}

	switch ev.Phase {
	case domain.PhaseTransferring:
		task.DownloadProgress = ev.Percent()

	case domain.PhaseFinished:
		if ev.Path == "" {
			task.Status = domain.StatusError
			task.ErrorMessage = "download reported finished without a local path"
			slog.Error("collaborator contract violation on download completion", "task_id", id)
		} else {
			task.Status = domain.StatusPendingUpload
			task.DownloadProgress = 100
			task.LocalPath = ev.Path
			task.ErrorMessage = ""
			if !containsID(s.ulQueue, id) {
				s.ulQueue = append(s.ulQueue, id)
			}
			slog.Info("download finished, task queued for upload", "task_id", id, "local_path", ev.Path)
		}

	case domain.PhaseFailed:
		task.Status = domain.StatusFailedDownload
		task.ErrorMessage = ev.Reason
		slog.Warn("download failed", "task_id", id, "reason", ev.Reason)

	case domain.PhasePaused:
		task.Status = domain.StatusPaused
		slog.Info("download paused", "task_id", id)

	default:
		slog.Warn("unexpected download progress phase", "task_id", id, "phase", ev.Phase)
	}

	task.LastUpdated = time.Now()
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Notify()
	return nil
}

// DequeueUpload pops the upload queue head and checks it out to a worker.
// Returns (nil, nil) when the queue is empty or a stop has been requested.
func (s *TaskStore) DequeueUpload() (*domain.Task, error) {
	s.mu.Lock()

	if s.stop {
		s.mu.Unlock()
		return nil, nil
	}

	dirty := false
	for len(s.ulQueue) > 0 {
		id := s.ulQueue[0]
		s.ulQueue = s.ulQueue[1:]
		dirty = true

		task, ok := s.tasks[id]
		if !ok {
			slog.Warn("upload queue entry has no registry record, discarding", "task_id", id)
			continue
		}

		task.Status = domain.StatusUploading
		task.UploadProgress = 0
		task.LastUpdated = time.Now()

		err := s.persistLocked()
		clone := task.Clone()
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}

		slog.Debug("upload task checked out", "task_id", id)
		s.notifier.Notify()
		return clone, nil
	}

	var err error
	if dirty {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if dirty {
		s.notifier.Notify()
	}
	return nil, nil
}

// UpdateUploadProgress applies an upload-side progress event to the task.
// Finished and skipped relays retire the task into the processed-set.
func (s *TaskStore) UpdateUploadProgress(id string, ev domain.ProgressEvent) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update upload progress for %s: %w", id, errpkg.ErrTaskNotFound)
	}

	switch ev.Phase {
	case domain.PhaseTransferring:
		task.UploadProgress = ev.Percent()

	case domain.PhaseFinished:
		task.Status = domain.StatusCompleted
		task.UploadProgress = 100
		task.ErrorMessage = ""
		s.processed[id] = struct{}{}
		slog.Info("relay finished, task completed", "task_id", id)

	case domain.PhaseSkipped:
		task.Status = domain.StatusSkippedUpload
		task.ErrorMessage = ""
		s.processed[id] = struct{}{}
		slog.Info("relay skipped", "task_id", id, "reason", ev.Reason)

	case domain.PhaseFailed:
		task.Status = domain.StatusFailedUpload
		task.ErrorMessage = ev.Reason
		slog.Warn("relay failed", "task_id", id, "reason", ev.Reason)

	case domain.PhasePaused:
		task.Status = domain.StatusPaused
		slog.Info("relay paused", "task_id", id)

	default:
		slog.Warn("unexpected upload progress phase", "task_id", id, "phase", ev.Phase)
	}

	task.LastUpdated = time.Now()
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Notify()
	return nil
}

// ResumePausedTasks routes every paused task back into a queue: to the
// upload queue when a payload is already on disk, to the download queue
// otherwise. Resumed tasks go to the front so interrupted work restarts
// before newly discovered work. Returns the number of tasks resumed.
func (s *TaskStore) ResumePausedTasks() (int, error) {
	s.mu.Lock()

	var toUpload, toDownload []string
	for id, task := range s.tasks {
		if task.Status != domain.StatusPaused {
			continue
		}
		if task.LocalPath != "" {
			toUpload = append(toUpload, id)
		} else {
			toDownload = append(toDownload, id)
		}
	}
	sort.Strings(toUpload)
	sort.Strings(toDownload)

	now := time.Now()
	for _, id := range toUpload {
		task := s.tasks[id]
		task.Status = domain.StatusPendingUpload
		task.LastUpdated = now
		s.dlQueue = removeID(s.dlQueue, id)
		s.ulQueue = removeID(s.ulQueue, id)
	}
	for _, id := range toDownload {
		task := s.tasks[id]
		task.Status = domain.StatusPendingDownload
		task.LastUpdated = now
		s.dlQueue = removeID(s.dlQueue, id)
		s.ulQueue = removeID(s.ulQueue, id)
	}
	s.ulQueue = append(append([]string{}, toUpload...), s.ulQueue...)
	s.dlQueue = append(append([]string{}, toDownload...), s.dlQueue...)

	count := len(toUpload) + len(toDownload)
	var err error
	if count > 0 {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if count > 0 {
		slog.Info("paused tasks resumed", "to_upload", len(toUpload), "to_download", len(toDownload))
		s.notifier.Notify()
	}
	return count, nil
}

// ResetFailedTasks returns every errored or failed task to pending_download
// with progress and local path cleared, removes it from the processed-set
// and pushes it to the front of the download queue. Returns the number of
// tasks reset.
func (s *TaskStore) ResetFailedTasks() (int, error) {
	s.mu.Lock()

	var ids []string
	for id, task := range s.tasks {
		if task.Status.IsFailed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	now := time.Now()
	for _, id := range ids {
		task := s.tasks[id]
		task.Status = domain.StatusPendingDownload
		task.DownloadProgress = 0
		task.UploadProgress = 0
		task.LocalPath = ""
		task.ErrorMessage = ""
		task.LastUpdated = now
		delete(s.processed, id)
		s.dlQueue = removeID(s.dlQueue, id)
		s.ulQueue = removeID(s.ulQueue, id)
	}
	s.dlQueue = append(append([]string{}, ids...), s.dlQueue...)

	var err error
	if len(ids) > 0 {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		slog.Info("failed tasks reset for retry", "count", len(ids))
		s.notifier.Notify()
	}
	return len(ids), nil
}

// RequeueDownloadFront returns a task to pending_download at the front of
// the download queue. localPath may name a partial payload so readers can
// see where the resumable bytes live; it is replaced when the download
// finishes. Used by reconciliation to recover interrupted work.
func (s *TaskStore) RequeueDownloadFront(id, localPath string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("requeue download for %s: %w", id, errpkg.ErrTaskNotFound)
	}

	task.Status = domain.StatusPendingDownload
	task.DownloadProgress = 0
	task.UploadProgress = 0
	task.LocalPath = localPath
	task.ErrorMessage = ""
	task.LastUpdated = time.Now()

	delete(s.processed, id)
	s.dlQueue = removeID(s.dlQueue, id)
	s.ulQueue = removeID(s.ulQueue, id)
	s.dlQueue = append([]string{id}, s.dlQueue...)

	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("task requeued for download", "task_id", id, "local_path", localPath)
	s.notifier.Notify()
	return nil
}

// MarkTaskError moves a task to the error status with a message and drops
// it from both queues. The record stays in the registry for inspection and
// reset.
func (s *TaskStore) MarkTaskError(id, msg string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mark error for %s: %w", id, errpkg.ErrTaskNotFound)
	}

	task.Status = domain.StatusError
	task.ErrorMessage = msg
	task.LastUpdated = time.Now()

	s.dlQueue = removeID(s.dlQueue, id)
	s.ulQueue = removeID(s.ulQueue, id)

	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Warn("task marked as error", "task_id", id, "message", msg)
	s.notifier.Notify()
	return nil
}

// ResetAll wipes the registry, both queues and the processed-set. This is
// the only operation that physically deletes task records.
func (s *TaskStore) ResetAll() error {
	s.mu.Lock()
	s.tasks = make(map[string]*domain.Task)
	s.dlQueue = nil
	s.ulQueue = nil
	s.processed = make(map[string]struct{})
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("task store reset")
	s.notifier.Notify()
	return nil
}

// RequestStop blocks both Dequeue operations. In-flight workers are not
// affected; cancellation of running transfers belongs to the scheduler.
func (s *TaskStore) RequestStop() {
	s.mu.Lock()
	s.stop = true
	s.mu.Unlock()
	slog.Info("stop requested, queues closed to dequeue")
	s.notifier.Notify()
}

// ClearStop re-opens both queues for dequeueing.
func (s *TaskStore) ClearStop() {
	s.mu.Lock()
	s.stop = false
	s.mu.Unlock()
	slog.Debug("stop flag cleared")
	s.notifier.Notify()
}

// Stopping reports whether a stop has been requested.
func (s *TaskStore) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

// RemoveLocalArtifact deletes the task's payload file from disk and clears
// its local path. Called by the orchestration layer after a successful
// relay; a deletion failure is recorded on the task, not returned.
func (s *TaskStore) RemoveLocalArtifact(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove local artifact for %s: %w", id, errpkg.ErrTaskNotFound)
	}
	if task.LocalPath == "" {
		s.mu.Unlock()
		return nil
	}

	localPath := task.LocalPath
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		task.ErrorMessage = fmt.Sprintf("failed to remove local file: %v", err)
		task.LastUpdated = time.Now()
		perr := s.persistLocked()
		s.mu.Unlock()
		if perr != nil {
			return perr
		}
		slog.Warn("local payload removal failed", "task_id", id, "path", localPath, "error", err)
		s.notifier.Notify()
		return nil
	}

	task.LocalPath = ""
	task.LastUpdated = time.Now()
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("local payload removed after relay", "task_id", id, "path", localPath)
	s.notifier.Notify()
	return nil
}

// Task returns a copy of the task record.
func (s *TaskStore) Task(id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errpkg.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Snapshot returns a copy of the full store state. Session fields are
// filled in by the orchestration layer.
func (s *TaskStore) Snapshot() domain.StateView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := domain.StateView{
		Tasks:          make(map[string]*domain.Task, len(s.tasks)),
		DownloadQueue:  append([]string{}, s.dlQueue...),
		UploadQueue:    append([]string{}, s.ulQueue...),
		ProcessedCount: len(s.processed),
		StopRequested:  s.stop,
		GeneratedAt:    time.Now(),
	}
	for id, task := range s.tasks {
		view.Tasks[id] = task.Clone()
	}
	return view
}

// QueueDepths returns the current lengths of the download and upload queues.
func (s *TaskStore) QueueDepths() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dlQueue), len(s.ulQueue)
}

// IsProcessed reports whether the ID is retired in the processed-set.
func (s *TaskStore) IsProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[id]
	return ok
}

func containsID(queue []string, id string) bool {
	for _, q := range queue {
		if q == id {
			return true
		}
	}
	return false
}

func removeID(queue []string, id string) []string {
	out := queue[:0]
	for _, q := range queue {
		if q != id {
			out = append(out, q)
		}
	}
	return out
}
