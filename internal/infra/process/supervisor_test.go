package process

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/crewteam/internal/domain"
	"github.com/runoshun/crewteam/internal/testutil"
)

func newTestSupervisor(t *testing.T, script string) (*Supervisor, string) {
	t.Helper()
	logsDir := filepath.Join(t.TempDir(), "logs")
	s := New(Config{
		Binary:       testutil.WriteWorkerScript(t, script),
		Team:         "alpha",
		LogsDir:      logsDir,
		KillGrace:    300 * time.Millisecond,
		StartupGrace: 300 * time.Millisecond,
		BaseEnv:      map[string]string{"CREWTEAM_TEST_VAR": "base"},
	})
	t.Cleanup(func() {
		for _, name := range s.Running() {
			_ = s.Kill(context.Background(), name)
		}
	})
	return s, logsDir
}

func TestSupervisor_SpawnAndQuery(t *testing.T) {
	s, logsDir := newTestSupervisor(t, testutil.SleepyWorker)
	ctx := context.Background()

	agent, err := s.Spawn(ctx, domain.SpawnOptions{
		Name:           "worker",
		Model:          "sonnet",
		PermissionMode: domain.PermissionAcceptEdits,
		Env:            map[string]string{"CREWTEAM_TEST_VAR": "agent"},
	})
	require.NoError(t, err)

	assert.Equal(t, "worker", agent.Name)
	assert.Positive(t, agent.PID)
	assert.True(t, agent.IsRunning())
	assert.Equal(t, domain.AgentTypeGeneralPurpose, agent.Options.Type)
	assert.True(t, s.IsRunning("worker"))
	assert.Equal(t, []string{"worker"}, s.Running())

	logPath := domain.AgentLogPath(logsDir, "worker")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && len(data) > 0 && containsAll(string(data),
			"--agent-id worker@alpha", "--model sonnet", "--permission-mode acceptEdits",
			"team=alpha agent=worker teams=1", "extra=agent")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSupervisor_SpawnErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing binary", func(t *testing.T) {
		s := New(Config{Binary: filepath.Join(t.TempDir(), "nope"), Team: "alpha"})
		_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
		assert.ErrorIs(t, err, domain.ErrSpawn)
	})

	t.Run("immediate exit", func(t *testing.T) {
		s, _ := newTestSupervisor(t, testutil.FailingWorker)
		var exits atomic.Int32
		s.SetExitHandler(func(domain.Agent) { exits.Add(1) })

		_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
		require.ErrorIs(t, err, domain.ErrSpawn)
		assert.Contains(t, err.Error(), "code 3")
		assert.False(t, s.IsRunning("worker"))
		assert.Zero(t, exits.Load())
	})

	t.Run("duplicate name", func(t *testing.T) {
		s, _ := newTestSupervisor(t, testutil.SleepyWorker)
		_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
		require.NoError(t, err)

		_, err = s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
		assert.ErrorIs(t, err, domain.ErrSpawn)
		assert.ErrorIs(t, err, domain.ErrAgentRunning)
		assert.Equal(t, []string{"worker"}, s.Running())
	})

	t.Run("reserved name", func(t *testing.T) {
		s, _ := newTestSupervisor(t, testutil.SleepyWorker)
		_, err := s.Spawn(ctx, domain.SpawnOptions{Name: domain.ControllerName})
		assert.ErrorIs(t, err, domain.ErrReservedName)
	})

	t.Run("invalid env", func(t *testing.T) {
		s, _ := newTestSupervisor(t, testutil.SleepyWorker)
		_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "worker", Env: map[string]string{"BAD-NAME": "x"}})
		assert.ErrorIs(t, err, domain.ErrInvalidEnvVar)
	})
}

func TestSupervisor_KillFiresExitOnce(t *testing.T) {
	s, _ := newTestSupervisor(t, testutil.SleepyWorker)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		exits []domain.Agent
	)
	s.SetExitHandler(func(a domain.Agent) {
		mu.Lock()
		defer mu.Unlock()
		exits = append(exits, a)
	})

	_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Kill(ctx, "worker"); err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrAgentNotFound)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.False(t, s.IsRunning("worker"))
	assert.Empty(t, s.Running())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitKilled, exits[0].ExitReason)
	assert.Equal(t, domain.AgentExited, exits[0].State)

	agent, ok := s.Get("worker")
	require.True(t, ok)
	assert.False(t, agent.IsRunning())
}

func TestSupervisor_KillEscalates(t *testing.T) {
	s, _ := newTestSupervisor(t, testutil.StubbornWorker)
	ctx := context.Background()

	_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "stubborn"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Kill(ctx, "stubborn"))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.False(t, s.IsRunning("stubborn"))
}

func TestSupervisor_KillUnknown(t *testing.T) {
	s, _ := newTestSupervisor(t, testutil.SleepyWorker)
	err := s.Kill(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSupervisor_SelfExitIsReported(t *testing.T) {
	s, _ := newTestSupervisor(t, "sleep 0.5\nexit 2")
	ctx := context.Background()

	got := make(chan domain.Agent, 1)
	s.SetExitHandler(func(a domain.Agent) { got <- a })

	_, err := s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
	require.NoError(t, err)

	select {
	case a := <-got:
		assert.Equal(t, 2, a.ExitCode)
		assert.Equal(t, domain.ExitCrashed, a.ExitReason)
	case <-time.After(5 * time.Second):
		t.Fatal("exit handler not called")
	}
	assert.False(t, s.IsRunning("worker"))

	// The name can be reused once the previous process is gone.
	_, err = s.Spawn(ctx, domain.SpawnOptions{Name: "worker"})
	require.NoError(t, err)
}

func TestSupervisor_Version(t *testing.T) {
	s, _ := newTestSupervisor(t, `echo "2.1.34 (Claude Code)"`)
	v, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.1.34 (Claude Code)", v)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name  string
		opts  domain.SpawnOptions
		extra []string
		want  []string
	}{
		{
			name: "defaults",
			opts: domain.SpawnOptions{Name: "w"},
			want: []string{"--agent-id", "w@t", "--agent-name", "w", "--team-name", "t", "--agent-type", "general-purpose"},
		},
		{
			name:  "all flags",
			opts:  domain.SpawnOptions{Name: "w", Type: domain.AgentTypePlan, Model: "opus", PermissionMode: domain.PermissionPlan, Args: []string{"--verbose"}},
			extra: []string{"--debug"},
			want: []string{"--agent-id", "w@t", "--agent-name", "w", "--team-name", "t", "--agent-type", "Plan",
				"--model", "opus", "--permission-mode", "plan", "--debug", "--verbose"},
		},
		{
			name: "bypass",
			opts: domain.SpawnOptions{Name: "w", PermissionMode: domain.PermissionBypass},
			want: []string{"--agent-id", "w@t", "--agent-name", "w", "--team-name", "t", "--agent-type", "general-purpose",
				"--permission-mode", "bypassPermissions", "--dangerously-skip-permissions"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs("t", tt.opts, tt.extra))
		})
	}
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("CREWTEAM_BASE", "from-os")

	env, err := buildEnv(map[string]string{"A": "1"}, map[string]string{"A": "2", "B": "3"})
	require.NoError(t, err)
	assert.Contains(t, env, "CREWTEAM_BASE=from-os")
	assert.Contains(t, env, "A=2")
	assert.Contains(t, env, "B=3")

	_, err = buildEnv(map[string]string{"1BAD": "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidEnvVar)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
