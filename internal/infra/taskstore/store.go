// Package taskstore provides a file-based implementation of TaskRepository.
// Each task is one JSON document named <id>.json in the team's task directory.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/runoshun/crewteam/internal/domain"
)

// Ensure Store implements domain.TaskRepository.
var _ domain.TaskRepository = (*Store)(nil)

// Store implements domain.TaskRepository using files under <root>/tasks/<team>.
type Store struct {
	clock    domain.Clock
	dir      string
	lockPath string
}

// New creates a Store for the task directory dir.
func New(dir string, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Store{dir: dir, lockPath: filepath.Join(dir, ".lock"), clock: clock}
}

// Create assigns the next sequential ID and writes the task.
func (s *Store) Create(ctx context.Context, in domain.NewTaskInput) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, domain.ErrEmptySubject
	}

	var task *domain.Task
	err := s.withLockWrite(func() error {
		ids, err := s.listTaskIDs()
		if err != nil {
			return err
		}
		next := 1
		if len(ids) > 0 {
			next = ids[len(ids)-1] + 1
		}

		now := s.clock.Now()
		task = &domain.Task{
			ID:          strconv.Itoa(next),
			Subject:     in.Subject,
			Description: in.Description,
			ActiveForm:  in.ActiveForm,
			Owner:       in.Owner,
			Status:      domain.TaskPending,
			Blocks:      []string{},
			BlockedBy:   nonNil(in.BlockedBy),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.writeTask(task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Get retrieves a task by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var task *domain.Task
	err := s.withLock(func() error {
		t, err := s.readTask(id)
		task = t
		return err
	})
	return task, err
}

// List returns all tasks except deleted ones, ordered by numeric ID.
func (s *Store) List(ctx context.Context) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tasks []*domain.Task
	err := s.withLock(func() error {
		ids, err := s.listTaskIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			task, err := s.readTask(strconv.Itoa(id))
			if err != nil {
				if errors.Is(err, domain.ErrTaskNotFound) {
					continue
				}
				return err
			}
			if task.Status == domain.TaskDeleted {
				continue
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	return tasks, err
}

// Update applies the non-nil fields of u to task id.
func (s *Store) Update(ctx context.Context, id string, u domain.TaskUpdate) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.IsEmpty() {
		return nil, domain.ErrNoFieldsToUpdate
	}
	if u.Status != nil && !u.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, *u.Status)
	}
	if u.Subject != nil && strings.TrimSpace(*u.Subject) == "" {
		return nil, domain.ErrEmptySubject
	}

	var task *domain.Task
	err := s.withLockWrite(func() error {
		t, err := s.readTask(id)
		if err != nil {
			return err
		}
		if u.Subject != nil {
			t.Subject = *u.Subject
		}
		if u.Description != nil {
			t.Description = *u.Description
		}
		if u.ActiveForm != nil {
			t.ActiveForm = *u.ActiveForm
		}
		if u.Status != nil {
			t.Status = *u.Status
		}
		if u.Owner != nil {
			t.Owner = *u.Owner
		}
		if u.BlockedBy != nil {
			t.BlockedBy = u.BlockedBy
		}
		t.UpdatedAt = s.clock.Now()
		task = t
		return s.writeTask(t)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Destroy removes the task directory. Later reads fail with ErrTaskNotFound.
func (s *Store) Destroy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return domain.NewStorageError("remove task dir", s.dir, err)
	}
	return nil
}

func (s *Store) withLock(fn func() error) error {
	lock, err := s.acquireLock(unix.LOCK_SH)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)
	return fn()
}

func (s *Store) withLockWrite(fn func() error) error {
	lock, err := s.acquireLock(unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)
	return fn()
}

func (s *Store) acquireLock(lockType int) (*os.File, error) {
	if lockType == unix.LOCK_SH {
		// Readers must not resurrect a destroyed task directory.
		if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, domain.NewStorageError("create task dir", s.dir, err)
	}

	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, domain.NewStorageError("open lock file", s.lockPath, err)
	}

	if err := unix.Flock(int(lock.Fd()), lockType); err != nil {
		_ = lock.Close()
		return nil, domain.NewStorageError("acquire lock", s.lockPath, err)
	}

	return lock, nil
}

func (s *Store) releaseLock(lock *os.File) {
	if lock == nil {
		return
	}
	_ = unix.Flock(int(lock.Fd()), unix.LOCK_UN)
	_ = lock.Close()
}

// listTaskIDs returns the numeric IDs of task files, ascending.
func (s *Store) listTaskIDs() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewStorageError("list task dir", s.dir, err)
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		id, err := strconv.Atoi(name)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) readTask(id string) (*domain.Task, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrTaskNotFound, id)
	}
	path := domain.TaskPath(s.dir, strconv.Itoa(n))
	content, err := os.ReadFile(path) //nolint:gosec // numeric id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", domain.ErrTaskNotFound, id)
		}
		return nil, domain.NewStorageError("read task", path, err)
	}
	var task domain.Task
	if err := json.Unmarshal(content, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", path, err)
	}
	task.Blocks = nonNil(task.Blocks)
	task.BlockedBy = nonNil(task.BlockedBy)
	return &task, nil
}

func (s *Store) writeTask(task *domain.Task) error {
	content, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	path := domain.TaskPath(s.dir, task.ID)
	if err := writeAtomic(path, append(content, '\n'), 0o644); err != nil {
		return domain.NewStorageError("write task", path, err)
	}
	return nil
}

func writeAtomic(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
