package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
	"HistPull/pkg/logger"

	"github.com/google/uuid"
)

const snapshotVersion = 1

// InterruptedError is recorded on tasks found mid-download when a snapshot is loaded.
const InterruptedError = "interrupted"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrInvalidTask       = errors.New("invalid task")
)

type snapshotFile struct {
	Version   int                            `json:"version"`
	RunID     string                         `json:"run_id"`
	StartedAt time.Time                      `json:"started_at"`
	UpdatedAt time.Time                      `json:"updated_at"`
	Counters  models.TaskCounters            `json:"counters"`
	Tasks     map[string]models.DownloadTask `json:"tasks"`
}

// FileTaskStore keeps tasks in memory and mirrors every mutation to a JSON file.
// The file is replaced atomically so a crash leaves either the old or the new snapshot.
type FileTaskStore struct {
	mu        sync.Mutex
	path      string
	runID     string
	startedAt time.Time
	tasks     map[string]models.DownloadTask
	counters  models.TaskCounters
	log       *logger.Logger
	nowFn     func() time.Time
}

// StoreOption configures a FileTaskStore.
type StoreOption func(*FileTaskStore)

// WithStoreLogger sets the store logger.
func WithStoreLogger(lg *logger.Logger) StoreOption {
	return func(s *FileTaskStore) {
		if lg != nil {
			s.log = lg
		}
	}
}

// WithNow overrides the time source.
func WithNow(fn func() time.Time) StoreOption {
	return func(s *FileTaskStore) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

var _ drepo.TaskStore = (*FileTaskStore)(nil)

// OpenFileTaskStore loads the snapshot at path. With fresh set, an existing snapshot is
// moved to <path>.prev and the store starts empty. A missing file starts empty; an
// unreadable one is moved aside to <path>.corrupt-<unix>.
func OpenFileTaskStore(path string, fresh bool, opts ...StoreOption) (*FileTaskStore, error) {
	s := &FileTaskStore{
		path:  path,
		tasks: make(map[string]models.DownloadTask),
		log:   logger.Nop(),
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runID = uuid.NewString()
	s.startedAt = s.now()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	if fresh {
		if err := s.rotate(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileTaskStore) now() time.Time {
	return s.nowFn().UTC()
}

func (s *FileTaskStore) rotate() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	prev := s.path + ".prev"
	if err := os.Rename(s.path, prev); err != nil {
		return fmt.Errorf("rotate snapshot: %w", err)
	}
	s.log.Info("previous task snapshot rotated", logger.String("path", prev))
	return nil
}

func (s *FileTaskStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	snap, perr := decodeSnapshot(data)
	if perr != nil {
		return s.quarantine(perr)
	}

	if snap.RunID != "" {
		s.runID = snap.RunID
	}
	if !snap.StartedAt.IsZero() {
		s.startedAt = snap.StartedAt
	}

	interrupted := 0
	for k, t := range snap.Tasks {
		if t.Status == models.StatusDownloading {
			t.Status = models.StatusFailed
			t.Error = InterruptedError
			t.UpdatedAt = s.now()
			interrupted++
		}
		s.tasks[k] = t
		s.counters.Total++
		s.counters.Add(t.Status, 1)
	}

	s.log.Info("task snapshot loaded",
		logger.String("path", s.path),
		logger.String("run_id", s.runID),
		logger.Int("tasks", len(s.tasks)),
		logger.Int("completed", s.counters.Completed),
		logger.Int("failed", s.counters.Failed),
		logger.Int("pending", s.counters.Pending))

	if interrupted > 0 {
		s.log.Warn("tasks left downloading by a previous run marked failed",
			logger.Int("count", interrupted))
		return s.writeLocked()
	}
	return nil
}

// SnapshotView is a read-only copy of a snapshot file.
type SnapshotView struct {
	RunID     string
	StartedAt time.Time
	UpdatedAt time.Time
	Counters  models.TaskCounters
	Tasks     []models.DownloadTask
}

// ReadSnapshot decodes the snapshot at path without taking ownership of it: nothing is
// normalized, rotated or written back. Tasks are sorted like List.
func ReadSnapshot(path string) (*SnapshotView, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	view := &SnapshotView{
		RunID:     snap.RunID,
		StartedAt: snap.StartedAt,
		UpdatedAt: snap.UpdatedAt,
		Tasks:     make([]models.DownloadTask, 0, len(snap.Tasks)),
	}
	for _, t := range snap.Tasks {
		view.Tasks = append(view.Tasks, t)
		view.Counters.Total++
		view.Counters.Add(t.Status, 1)
	}
	sortTasks(view.Tasks)
	return view, nil
}

func decodeSnapshot(data []byte) (*snapshotFile, error) {
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for k, t := range snap.Tasks {
		if !t.Status.IsValid() {
			return nil, fmt.Errorf("task %s: unknown status %q", k, t.Status)
		}
		if t.Key().String() != k {
			return nil, fmt.Errorf("task %s: key does not match symbol/timeframe", k)
		}
	}
	return &snap, nil
}

func (s *FileTaskStore) quarantine(cause error) error {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		return fmt.Errorf("quarantine snapshot: %w", err)
	}
	s.log.Warn("task snapshot unreadable, moved aside and starting empty",
		logger.String("path", s.path),
		logger.String("quarantined", dst),
		logger.Error(cause))
	return nil
}

// Register adds task as pending. It returns false when the key is already known.
func (s *FileTaskStore) Register(task models.DownloadTask) (bool, error) {
	if task.Symbol == "" || !task.Timeframe.IsValid() || task.To.Before(task.From) {
		return false, fmt.Errorf("%w: %s", ErrInvalidTask, task.Key())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := task.Key().String()
	if _, ok := s.tasks[k]; ok {
		return false, nil
	}

	task.Status = models.StatusPending
	task.Error = ""
	task.UpdatedAt = s.now()
	s.tasks[k] = task
	s.counters.Total++
	s.counters.Add(models.StatusPending, 1)

	if err := s.writeLocked(); err != nil {
		delete(s.tasks, k)
		s.counters.Total--
		s.counters.Add(models.StatusPending, -1)
		return false, err
	}
	return true, nil
}

// Transition moves a task along its state machine and persists the result.
func (s *FileTaskStore) Transition(key models.TaskKey, to models.TaskStatus, errMsg string) (models.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	old, ok := s.tasks[k]
	if !ok {
		return models.DownloadTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, k)
	}
	if !old.Status.CanTransition(to) {
		return old, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, k, old.Status, to)
	}

	t := old
	t.Status = to
	t.UpdatedAt = s.now()
	switch to {
	case models.StatusDownloading:
		if old.Status == models.StatusFailed {
			t.RetryCount++
		}
		t.Error = ""
		t.SubrangesDone = 0
		t.Records = 0
		t.NeedsReview = false
	default:
		t.Error = errMsg
	}

	s.tasks[k] = t
	s.counters.Add(old.Status, -1)
	s.counters.Add(to, 1)

	if err := s.writeLocked(); err != nil {
		s.tasks[k] = old
		s.counters.Add(to, -1)
		s.counters.Add(old.Status, 1)
		return old, err
	}
	return t, nil
}

// Progress records sub-range completion for a task.
func (s *FileTaskStore) Progress(key models.TaskKey, done, total, records int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	t, ok := s.tasks[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, k)
	}
	t.SubrangesDone = done
	t.SubrangesTotal = total
	t.Records = records
	t.UpdatedAt = s.now()
	s.tasks[k] = t
	return s.writeLocked()
}

// MarkReview flags a completed task for manual review.
func (s *FileTaskStore) MarkReview(key models.TaskKey, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	t, ok := s.tasks[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, k)
	}
	if t.Status != models.StatusCompleted {
		return fmt.Errorf("%w: review flag needs completed task, %s is %s", ErrInvalidTransition, k, t.Status)
	}
	t.NeedsReview = true
	t.Error = note
	t.UpdatedAt = s.now()
	s.tasks[k] = t
	return s.writeLocked()
}

// PendingOrFailed returns copies of all tasks that still need work, sorted by key.
func (s *FileTaskStore) PendingOrFailed() []models.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DownloadTask, 0, s.counters.Pending+s.counters.Failed)
	for _, t := range s.tasks {
		if t.Status == models.StatusPending || t.Status == models.StatusFailed {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

// Get returns a copy of the task for key.
func (s *FileTaskStore) Get(key models.TaskKey) (models.DownloadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key.String()]
	return t, ok
}

// List returns tasks with status (all when empty), sorted by key, at most limit (all when <= 0).
func (s *FileTaskStore) List(status models.TaskStatus, limit int) []models.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DownloadTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	sortTasks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *FileTaskStore) Counters() models.TaskCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *FileTaskStore) RunID() string {
	return s.runID
}

// Path returns the snapshot file location.
func (s *FileTaskStore) Path() string {
	return s.path
}

// Snapshot writes the current state to disk.
func (s *FileTaskStore) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

func (s *FileTaskStore) writeLocked() error {
	snap := snapshotFile{
		Version:   snapshotVersion,
		RunID:     s.runID,
		StartedAt: s.startedAt,
		UpdatedAt: s.now(),
		Counters:  s.counters,
		Tasks:     s.tasks,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file beside path, fsyncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}

	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func sortTasks(ts []models.DownloadTask) {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].Key().String() < ts[j].Key().String()
	})
}
