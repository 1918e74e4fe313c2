// Package teamstore persists the team session's config.json.
package teamstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/runoshun/crewteam/internal/domain"
)

// Ensure Store implements domain.TeamRepository.
var _ domain.TeamRepository = (*Store)(nil)

// Store implements domain.TeamRepository for one team under root.
type Store struct {
	clock domain.Clock
	root  string
	team  string
	mu    sync.Mutex
}

// New creates a Store for team under root.
func New(root, team string, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Store{root: root, team: team, clock: clock}
}

// Dir returns the team directory.
func (s *Store) Dir() string {
	return domain.TeamDir(s.root, s.team)
}

// Create writes config.json and the inbox and logs directories.
// An existing config is kept and returned.
func (s *Store) Create(ctx context.Context, name, description string) (*domain.TeamConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range []string{domain.InboxDir(s.root, s.team), domain.LogsDir(s.root, s.team)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, domain.NewStorageError("create team dir", dir, err)
		}
	}

	cfg, err := s.read()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrTeamNotFound) {
		return nil, err
	}

	cfg = &domain.TeamConfig{
		Name:        name,
		Description: description,
		LeadName:    domain.ControllerName,
		CreatedAt:   s.clock.Now(),
		Members:     []domain.TeamMember{},
	}
	if err := s.write(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Config reads config.json.
func (s *Store) Config(ctx context.Context) (*domain.TeamConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// AddMember inserts m or replaces the entry with the same name.
func (s *Store) AddMember(ctx context.Context, m domain.TeamMember) error {
	return s.update(ctx, func(cfg *domain.TeamConfig) error {
		if m.JoinedAt.IsZero() {
			m.JoinedAt = s.clock.Now()
		}
		for i := range cfg.Members {
			if cfg.Members[i].Name == m.Name {
				cfg.Members[i] = m
				return nil
			}
		}
		cfg.Members = append(cfg.Members, m)
		return nil
	})
}

// SetMemberActive updates a member's active flag.
func (s *Store) SetMemberActive(ctx context.Context, name string, active bool) error {
	return s.update(ctx, func(cfg *domain.TeamConfig) error {
		for i := range cfg.Members {
			if cfg.Members[i].Name == name {
				cfg.Members[i].IsActive = active
				return nil
			}
		}
		return fmt.Errorf("%w: member %q", domain.ErrAgentNotFound, name)
	})
}

// Destroy removes the team directory with its mailboxes. Logs are kept.
func (s *Store) Destroy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.Dir()); err != nil {
		return domain.NewStorageError("remove team dir", s.Dir(), err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, fn func(*domain.TeamConfig) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.write(cfg)
}

func (s *Store) read() (*domain.TeamConfig, error) {
	path := domain.TeamConfigPath(s.root, s.team)
	content, err := os.ReadFile(path) //nolint:gosec // team path from config
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", domain.ErrTeamNotFound, s.team)
		}
		return nil, domain.NewStorageError("read team config", path, err)
	}
	var cfg domain.TeamConfig
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("decode team config %s: %w", path, err)
	}
	return &cfg, nil
}

func (s *Store) write(cfg *domain.TeamConfig) error {
	path := domain.TeamConfigPath(s.root, s.team)
	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode team config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return domain.NewStorageError("write team config", path, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(append(content, '\n'))
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		return domain.NewStorageError("write team config", path, errors.Join(werr, cerr))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return domain.NewStorageError("write team config", path, err)
	}
	return nil
}
