// Package process supervises agent worker processes.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/runoshun/crewteam/internal/domain"
)

// Ensure Supervisor implements domain.ProcessSupervisor.
var _ domain.ProcessSupervisor = (*Supervisor)(nil)

// Config configures a Supervisor.
// Fields are ordered to minimize memory padding.
type Config struct {
	// BaseEnv is merged over the controller environment for every agent.
	BaseEnv map[string]string
	Logger  *slog.Logger
	Clock   domain.Clock
	// Binary is the worker executable, resolved through PATH.
	Binary  string
	Team    string
	LogsDir string
	// DefaultCwd is used when SpawnOptions.Cwd is empty.
	DefaultCwd   string
	ExtraArgs    []string
	KillGrace    time.Duration
	StartupGrace time.Duration
}

// Supervisor starts one OS process per agent and watches it until exit.
type Supervisor struct {
	procs  map[string]*proc
	locks  *keyedMutex
	onExit func(domain.Agent)
	cfg    Config
	mu     sync.RWMutex
}

// proc tracks one started process.
type proc struct {
	cmd     *exec.Cmd
	logFile *os.File
	// exited is closed once Wait returned and agent state was updated.
	exited chan struct{}
	// ready is closed by Spawn once it decided whether the start succeeded.
	ready chan struct{}
	// done is closed after the exit handler ran (or was skipped).
	done       chan struct{}
	agent      domain.Agent
	killed     atomic.Bool
	reportExit bool
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = domain.DefaultBinary
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = domain.DefaultKillGrace
	}
	if cfg.StartupGrace < 0 {
		cfg.StartupGrace = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	return &Supervisor{
		cfg:   cfg,
		procs: make(map[string]*proc),
		locks: newKeyedMutex(),
	}
}

// SetExitHandler registers fn to run once per process exit.
// It runs on the watcher goroutine and must not call Kill for the same agent.
func (s *Supervisor) SetExitHandler(fn func(domain.Agent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Spawn starts the worker for opts.Name.
// It fails with a *domain.SpawnError when the name is invalid or taken,
// the binary cannot be started, or the process exits within the startup grace.
func (s *Supervisor) Spawn(ctx context.Context, opts domain.SpawnOptions) (domain.Agent, error) {
	opts = opts.WithDefaults()
	fail := func(err error) (domain.Agent, error) {
		return domain.Agent{}, &domain.SpawnError{Name: opts.Name, Err: err}
	}

	if err := domain.ValidateAgentName(opts.Name); err != nil {
		return fail(err)
	}
	if !opts.PermissionMode.IsValid() {
		return fail(fmt.Errorf("unknown permission mode %q", opts.PermissionMode))
	}

	unlock := s.locks.Lock(opts.Name)
	defer unlock()

	if s.IsRunning(opts.Name) {
		return fail(domain.ErrAgentRunning)
	}

	binary, err := exec.LookPath(s.cfg.Binary)
	if err != nil {
		return fail(err)
	}
	env, err := buildEnv(s.cfg.BaseEnv, opts.Env, workerEnv(s.cfg.Team, opts.Name))
	if err != nil {
		return fail(err)
	}
	logFile, err := s.openLog(opts.Name)
	if err != nil {
		return fail(err)
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = s.cfg.DefaultCwd
	}
	args := BuildArgs(s.cfg.Team, opts, s.cfg.ExtraArgs)

	// #nosec G204 - binary and flags come from trusted configuration
	cmd := exec.Command(binary, args...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fail(err)
	}

	p := &proc{
		cmd:     cmd,
		logFile: logFile,
		exited:  make(chan struct{}),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		agent: domain.Agent{
			Name:      opts.Name,
			PID:       cmd.Process.Pid,
			Options:   opts,
			State:     domain.AgentRunning,
			StartedAt: s.cfg.Clock.Now(),
		},
	}
	s.mu.Lock()
	s.procs[opts.Name] = p
	s.mu.Unlock()

	go s.watch(p)

	if err := s.awaitStartup(ctx, p); err != nil {
		s.mu.Lock()
		if s.procs[opts.Name] == p {
			delete(s.procs, opts.Name)
		}
		s.mu.Unlock()
		close(p.ready)
		return fail(err)
	}

	p.reportExit = true
	close(p.ready)

	s.cfg.Logger.Info("agent started", "agent", opts.Name, "pid", cmd.Process.Pid, "type", opts.Type, "cwd", cwd)
	agent, _ := s.Get(opts.Name)
	return agent, nil
}

// awaitStartup returns an error if the process dies within the startup grace.
func (s *Supervisor) awaitStartup(ctx context.Context, p *proc) error {
	if s.cfg.StartupGrace == 0 {
		select {
		case <-p.exited:
			return s.earlyExitError(p)
		default:
			return nil
		}
	}

	timer := time.NewTimer(s.cfg.StartupGrace)
	defer timer.Stop()

	select {
	case <-p.exited:
		return s.earlyExitError(p)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		p.killed.Store(true)
		_ = signalGroup(p.cmd.Process.Pid, unix.SIGKILL)
		<-p.exited
		return ctx.Err()
	}
}

func (s *Supervisor) earlyExitError(p *proc) error {
	s.mu.RLock()
	code := p.agent.ExitCode
	s.mu.RUnlock()
	return fmt.Errorf("exited immediately with code %d (see %s)", code, p.logFile.Name())
}

// watch waits for the process and records its exit.
func (s *Supervisor) watch(p *proc) {
	err := p.cmd.Wait()
	_ = p.logFile.Close()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	reason := domain.ExitNormal
	switch {
	case p.killed.Load():
		reason = domain.ExitKilled
	case err != nil:
		reason = domain.ExitCrashed
	}

	s.mu.Lock()
	p.agent.State = domain.AgentExited
	p.agent.ExitCode = code
	p.agent.ExitReason = reason
	p.agent.ExitedAt = s.cfg.Clock.Now()
	snapshot := p.agent
	handler := s.onExit
	s.mu.Unlock()
	close(p.exited)

	<-p.ready
	defer close(p.done)
	if !p.reportExit {
		return
	}

	s.cfg.Logger.Info("agent exited", "agent", snapshot.Name, "pid", snapshot.PID,
		"code", code, "reason", reason)
	if handler != nil {
		handler(snapshot)
	}
}

// Kill sends SIGTERM to the agent's process group and waits up to the
// kill grace for it to exit before sending SIGKILL. It returns after the
// exit handler ran. It fails with domain.ErrAgentNotFound if name is not running.
func (s *Supervisor) Kill(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()

	s.mu.RLock()
	p, ok := s.procs[name]
	running := ok && p.agent.IsRunning()
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("%w: %q", domain.ErrAgentNotFound, name)
	}

	p.killed.Store(true)
	pid := p.cmd.Process.Pid
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		s.cfg.Logger.Debug("signal agent", "agent", name, "signal", "TERM", "error", err)
	}

	timer := time.NewTimer(s.cfg.KillGrace)
	defer timer.Stop()

	select {
	case <-p.exited:
	case <-timer.C:
		s.cfg.Logger.Warn("agent ignored SIGTERM, sending SIGKILL", "agent", name, "pid", pid,
			"grace", s.cfg.KillGrace)
		if err := signalGroup(pid, unix.SIGKILL); err != nil {
			s.cfg.Logger.Debug("signal agent", "agent", name, "signal", "KILL", "error", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalGroup signals the process group led by pid, falling back to the
// process itself when the group is gone.
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// IsRunning reports whether name is a live agent.
func (s *Supervisor) IsRunning(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[name]
	return ok && p.agent.IsRunning()
}

// Running returns the names of live agents, sorted.
func (s *Supervisor) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.procs))
	for name, p := range s.procs {
		if p.agent.IsRunning() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns the last known state of an agent.
func (s *Supervisor) Get(name string) (domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[name]
	if !ok {
		return domain.Agent{}, false
	}
	return p.agent, true
}

// List returns every known agent, running or exited, sorted by name.
func (s *Supervisor) List() []domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make([]domain.Agent, 0, len(s.procs))
	for _, p := range s.procs {
		agents = append(agents, p.agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

func (s *Supervisor) openLog(name string) (*os.File, error) {
	if s.cfg.LogsDir == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(s.cfg.LogsDir, 0o750); err != nil {
		return nil, domain.NewStorageError("create logs dir", s.cfg.LogsDir, err)
	}
	path := domain.AgentLogPath(s.cfg.LogsDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // validated name
	if err != nil {
		return nil, domain.NewStorageError("open agent log", path, err)
	}
	return f, nil
}
