// Package mailbox provides the file-backed, append-only mailbox store.
//
// Each participant owns one JSONL log under the team's inbox directory.
// Appends are single write(2) calls under an exclusive flock on a sidecar
// lock file, so concurrent writers in other processes never interleave.
// Read state is a per-participant cursor kept in memory for the lifetime
// of the store; the files themselves are never rewritten.
package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/runoshun/crewteam/internal/domain"
)

const logExt = ".jsonl"

// Ensure Store implements domain.MailboxStore.
var _ domain.MailboxStore = (*Store)(nil)

// Store implements domain.MailboxStore on a directory of JSONL files.
// Fields are ordered to minimize memory padding.
type Store struct {
	cursors map[string]*cursor
	clock   domain.Clock
	logger  *slog.Logger
	dir     string
	mu      sync.Mutex
}

// cursor is the number of complete records already handed out by ReadUnread.
type cursor struct {
	mu  sync.Mutex
	pos int
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used to report skipped records.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used to stamp entries without a timestamp.
func WithClock(c domain.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a Store rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		cursors: make(map[string]*cursor),
		clock:   domain.RealClock{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the inbox directory.
func (s *Store) Dir() string {
	return s.dir
}

// Ensure creates the inbox directory.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return domain.NewStorageError("create inbox dir", s.dir, err)
	}
	return nil
}

// Write appends entry to participant's mailbox.
func (s *Store) Write(ctx context.Context, participant string, entry domain.MailboxEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validParticipant(participant); err != nil {
		return err
	}
	if entry.Timestamp == "" {
		entry.Timestamp = domain.FormatTimestamp(s.clock.Now())
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal mailbox entry: %w", err)
	}
	line = append(line, '\n')

	if err := s.Ensure(); err != nil {
		return err
	}
	path := domain.InboxPath(s.dir, participant)

	return s.withFileLock(path, unix.LOCK_EX, func() error {
		// G304: path is built from a validated participant name
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // validated name
		if err != nil {
			return domain.NewStorageError("open mailbox", path, err)
		}
		if _, err := f.Write(line); err != nil {
			_ = f.Close()
			return domain.NewStorageError("append mailbox", path, err)
		}
		return domain.NewStorageError("close mailbox", path, f.Close())
	})
}

// ReadAll returns every complete entry of participant's mailbox, oldest first.
// Entries already returned by ReadUnread are flagged Read.
func (s *Store) ReadAll(ctx context.Context, participant string) ([]domain.MailboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validParticipant(participant); err != nil {
		return nil, err
	}
	entries, err := s.load(participant)
	if err != nil {
		return nil, err
	}

	c := s.cursor(participant)
	c.mu.Lock()
	pos := c.pos
	c.mu.Unlock()

	for i := range entries {
		entries[i].Read = i < pos
	}
	return entries, nil
}

// ReadUnread returns the entries past participant's cursor and advances it.
// Concurrent callers for the same participant are serialized, so every
// entry is handed out exactly once.
func (s *Store) ReadUnread(ctx context.Context, participant string) ([]domain.MailboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validParticipant(participant); err != nil {
		return nil, err
	}

	c := s.cursor(participant)
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := s.load(participant)
	if err != nil {
		return nil, err
	}
	// The log only grows; a shorter file means it was replaced underneath us.
	if c.pos > len(entries) {
		s.logger.Warn("mailbox shrank, resetting cursor",
			"participant", participant, "cursor", c.pos, "entries", len(entries))
		c.pos = len(entries)
	}

	unread := entries[c.pos:]
	for i := range unread {
		unread[i].Read = true
	}
	c.pos = len(entries)
	if len(unread) == 0 {
		return nil, nil
	}
	return unread, nil
}

// Remove deletes participant's mailbox and forgets its cursor.
func (s *Store) Remove(ctx context.Context, participant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validParticipant(participant); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cursors, participant)
	s.mu.Unlock()

	path := domain.InboxPath(s.dir, participant)
	for _, p := range []string{path, path + ".lock"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.NewStorageError("remove mailbox", p, err)
		}
	}
	return nil
}

// Participants lists the participants that have a mailbox file, sorted.
func (s *Store) Participants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewStorageError("list inbox dir", s.dir, err)
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), logExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), logExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) cursor(participant string) *cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[participant]
	if !ok {
		c = &cursor{}
		s.cursors[participant] = c
	}
	return c
}

// load reads and decodes participant's log under a shared lock.
func (s *Store) load(participant string) ([]domain.MailboxEntry, error) {
	path := domain.InboxPath(s.dir, participant)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var content []byte
	err := s.withFileLock(path, unix.LOCK_SH, func() error {
		data, err := os.ReadFile(path) //nolint:gosec // validated name
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return domain.NewStorageError("read mailbox", path, err)
		}
		content = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries, skipped := decode(content)
	if skipped > 0 {
		s.logger.Warn("skipped malformed mailbox records", "participant", participant, "count", skipped)
	}
	return entries, nil
}

// decode parses complete newline-terminated records. Blank lines and
// lines that are not JSON records are skipped; a trailing record without
// a newline is still being written and is ignored.
func decode(content []byte) ([]domain.MailboxEntry, int) {
	var entries []domain.MailboxEntry
	skipped := 0
	for len(content) > 0 {
		idx := bytes.IndexByte(content, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(content[:idx])
		content = content[idx+1:]
		if len(line) == 0 {
			continue
		}
		var entry domain.MailboxEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

func (s *Store) withFileLock(path string, how int, fn func() error) error {
	lockPath := path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // validated name
	if err != nil {
		return domain.NewStorageError("open lock", lockPath, err)
	}
	defer func() { _ = lock.Close() }()

	if err := unix.Flock(int(lock.Fd()), how); err != nil {
		return domain.NewStorageError("acquire lock", lockPath, err)
	}
	defer func() { _ = unix.Flock(int(lock.Fd()), unix.LOCK_UN) }()

	return fn()
}

func validParticipant(name string) error {
	if name == domain.ControllerName {
		return nil
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAgentName, name)
	}
	return nil
}
