package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/crewteam/internal/domain"
	"github.com/runoshun/crewteam/internal/infra/mailbox"
	"github.com/runoshun/crewteam/internal/infra/taskstore"
	"github.com/runoshun/crewteam/internal/infra/teamstore"
	"github.com/runoshun/crewteam/internal/testutil"
)

type harness struct {
	ctrl    *Controller
	sup     *testutil.MockSupervisor
	mailbox *mailbox.Store
	events  *recorder
	root    string
}

func newHarness(t *testing.T, mods ...func(*Settings)) *harness {
	t.Helper()
	root := t.TempDir()
	settings := Settings{
		Team:         "alpha",
		PollInterval: time.Hour, // tests drive polling with PollOnce
		AskTimeout:   2 * time.Second,
	}
	for _, mod := range mods {
		mod(&settings)
	}

	h := &harness{
		sup:     testutil.NewMockSupervisor(),
		mailbox: mailbox.New(domain.InboxDir(root, "alpha")),
		events:  &recorder{},
		root:    root,
	}
	h.ctrl = New(settings, Dependencies{
		Mailbox:    h.mailbox,
		Supervisor: h.sup,
		Team:       teamstore.New(root, "alpha", nil),
		Tasks:      taskstore.New(domain.TasksDir(root, "alpha"), nil),
	}, WithIDGenerator(&testutil.MockIDGenerator{Prefix: "req-"}))

	require.NoError(t, h.ctrl.Init(context.Background()))
	h.ctrl.Subscribe(h.events.record)
	t.Cleanup(func() { _ = h.ctrl.Shutdown(context.Background()) })
	return h
}

func (h *harness) spawn(t *testing.T, name string) *AgentHandle {
	t.Helper()
	a, err := h.ctrl.SpawnAgent(context.Background(), domain.SpawnOptions{Name: name})
	require.NoError(t, err)
	return a
}

// inject writes msg into the controller mailbox as if sent by from.
func (h *harness) inject(t *testing.T, from string, msg domain.Message) {
	t.Helper()
	msg.From = from
	body, err := msg.Encode()
	require.NoError(t, err)
	h.injectText(t, from, body)
}

func (h *harness) injectText(t *testing.T, from, text string) {
	t.Helper()
	require.NoError(t, h.mailbox.Write(context.Background(), domain.ControllerName,
		domain.MailboxEntry{From: from, Text: text}))
}

func (h *harness) poll(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.PollOnce(context.Background()))
}

func (h *harness) entries(t *testing.T, participant string) []domain.MailboxEntry {
	t.Helper()
	got, err := h.mailbox.ReadAll(context.Background(), participant)
	require.NoError(t, err)
	return got
}

func (h *harness) waitForEntries(t *testing.T, participant string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := h.mailbox.ReadAll(context.Background(), participant)
		return err == nil && len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) lastMessage(t *testing.T, participant string) domain.Message {
	t.Helper()
	got := h.entries(t, participant)
	require.NotEmpty(t, got)
	msg, err := domain.ParseMessage(got[len(got)-1])
	require.NoError(t, err)
	return msg
}

type recorder struct {
	events []domain.Event
	mu     sync.Mutex
}

func (r *recorder) record(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type askResult struct {
	err  error
	text string
}

func askAsync(h *AgentHandle, prompt string, timeout time.Duration) <-chan askResult {
	ch := make(chan askResult, 1)
	go func() {
		text, err := h.Ask(context.Background(), prompt, timeout)
		ch <- askResult{text: text, err: err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan askResult) askResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("ask did not return")
		return askResult{}
	}
}

func TestController_InitTwice(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.Init(context.Background()), domain.ErrAlreadyInitialized)
}

func TestController_RequiresInit(t *testing.T) {
	c := New(Settings{Team: "alpha"}, Dependencies{
		Mailbox:    mailbox.New(t.TempDir()),
		Supervisor: testutil.NewMockSupervisor(),
		Team:       teamstore.New(t.TempDir(), "alpha", nil),
		Tasks:      taskstore.New(t.TempDir(), nil),
	})
	_, err := c.SpawnAgent(context.Background(), domain.SpawnOptions{Name: "worker"})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	assert.ErrorIs(t, c.Shutdown(context.Background()), domain.ErrNotInitialized)
}

func TestController_SpawnAgent(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.DefaultCwd = "/work" })
	ctx := context.Background()

	a, err := h.ctrl.SpawnAgent(ctx, domain.SpawnOptions{Name: "worker", Model: "sonnet"})
	require.NoError(t, err)

	assert.Equal(t, "worker", a.Name())
	assert.True(t, a.IsRunning())
	assert.Positive(t, a.PID())
	assert.True(t, h.ctrl.IsAgentRunning("worker"))
	assert.Equal(t, []string{"worker"}, h.ctrl.RunningAgents())
	assert.Equal(t, "/work", h.sup.Spawned[0].Cwd)

	spawned := h.events.ofType(domain.EventAgentSpawned)
	require.Len(t, spawned, 1)
	assert.Equal(t, "worker", spawned[0].Agent)
	require.NotNil(t, spawned[0].AgentInfo)

	team, err := h.ctrl.Team(ctx)
	require.NoError(t, err)
	m, ok := team.Member("worker")
	require.True(t, ok)
	assert.Equal(t, "worker@alpha", m.AgentID)
	assert.True(t, m.IsActive)

	got, err := h.ctrl.Agent("worker")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = h.ctrl.SpawnAgent(ctx, domain.SpawnOptions{Name: "worker"})
	assert.ErrorIs(t, err, domain.ErrSpawn)
	assert.Equal(t, []string{"worker"}, h.ctrl.RunningAgents())
}

func TestController_KillAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "worker")

	require.NoError(t, h.ctrl.KillAgent(ctx, "worker"))
	assert.False(t, h.ctrl.IsAgentRunning("worker"))
	assert.ErrorIs(t, h.ctrl.KillAgent(ctx, "worker"), domain.ErrAgentNotFound)

	exited := h.events.ofType(domain.EventAgentExited)
	require.Len(t, exited, 1)
	assert.Equal(t, domain.ExitKilled, exited[0].AgentInfo.ExitReason)

	team, err := h.ctrl.Team(ctx)
	require.NoError(t, err)
	m, _ := team.Member("worker")
	assert.False(t, m.IsActive)
}

func TestController_PermissionRequestFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.spawn(t, "worker")

	req := domain.Message{Type: domain.MessagePermissionRequest, RequestID: "R", ToolName: "Bash", Description: "run tests"}
	h.inject(t, "worker", req)
	h.poll(t)
	h.poll(t)
	// The same request observed again must not surface twice.
	h.inject(t, "worker", req)
	h.poll(t)

	events := h.events.ofType(domain.EventPermissionRequest)
	require.Len(t, events, 1)
	assert.Equal(t, "R", events[0].Message.RequestID)
	assert.Equal(t, "worker", events[0].Agent)
	assert.Equal(t, "Bash", events[0].Message.ToolName)

	pending := h.ctrl.PendingApprovals()
	require.Len(t, pending, 1)
	assert.Equal(t, "R", pending[0].RequestID)
	assert.False(t, pending[0].IsPlan())
}

func TestController_PermissionResponseLastWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "worker")
	h.inject(t, "worker", domain.Message{Type: domain.MessagePermissionRequest, RequestID: "R", ToolName: "Bash"})
	h.poll(t)

	require.NoError(t, h.ctrl.SendPermissionResponse(ctx, "worker", "R", true))
	require.NoError(t, h.ctrl.SendPermissionResponse(ctx, "worker", "R", false))

	entries := h.entries(t, "worker")
	require.Len(t, entries, 2)
	first, err := domain.ParseMessage(entries[0])
	require.NoError(t, err)
	assert.True(t, first.IsApproved())

	last := h.lastMessage(t, "worker")
	assert.Equal(t, domain.MessagePermissionResponse, last.Type)
	assert.Equal(t, "R", last.RequestID)
	require.NotNil(t, last.Approved)
	assert.False(t, *last.Approved)
	assert.Equal(t, domain.ControllerName, last.From)

	assert.Empty(t, h.ctrl.PendingApprovals())
}

func TestController_PlanApprovalRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "planner")

	w := h.ctrl.Watch(func(ev domain.Event) bool { return ev.Type == domain.EventPlanApprovalRequest })
	defer w.Close()

	h.inject(t, "planner", domain.Message{
		Type:        domain.MessagePlanApprovalRequest,
		RequestID:   "P1",
		PlanContent: "Step 1: read the code\nStep 2: fix it",
	})
	h.poll(t)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := w.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "P1", ev.Message.RequestID)
	assert.Contains(t, ev.Message.PlanContent, "Step 1")

	require.NoError(t, h.ctrl.SendPlanApproval(ctx, "planner", "P1", false, "needs work"))

	last := h.lastMessage(t, "planner")
	assert.Equal(t, domain.MessagePlanApprovalResponse, last.Type)
	assert.Equal(t, "P1", last.RequestID)
	require.NotNil(t, last.Approved)
	assert.False(t, *last.Approved)
	assert.Equal(t, "needs work", last.Feedback)
}

func TestController_Answer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "worker")
	h.inject(t, "worker", domain.Message{Type: domain.MessagePlanApprovalRequest, RequestID: "P", PlanContent: "plan"})
	h.inject(t, "worker", domain.Message{Type: domain.MessagePermissionRequest, RequestID: "Q", ToolName: "Edit"})
	h.poll(t)
	require.Len(t, h.ctrl.PendingApprovals(), 2)

	require.NoError(t, h.ctrl.Answer(ctx, "P", true, ""))
	assert.Equal(t, domain.MessagePlanApprovalResponse, h.lastMessage(t, "worker").Type)
	require.NoError(t, h.ctrl.Answer(ctx, "Q", false, ""))
	assert.Equal(t, domain.MessagePermissionResponse, h.lastMessage(t, "worker").Type)

	assert.Empty(t, h.ctrl.PendingApprovals())
	assert.ErrorIs(t, h.ctrl.Answer(ctx, "Q", true, ""), domain.ErrNotFound)
}

func TestController_AskTimeout(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	_, err := a.Ask(context.Background(), "are you there?", 50*time.Millisecond)
	require.Error(t, err)

	var timeoutErr *domain.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Contains(t, err.Error(), "50ms")

	entries := h.entries(t, "worker")
	require.Len(t, entries, 1)
	assert.Equal(t, "are you there?", entries[0].Text)
	assert.Equal(t, domain.ControllerName, entries[0].From)
}

func TestController_AskRoundTrip(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	res := askAsync(a, "what is 2+2?", 0)
	h.waitForEntries(t, "worker", 1)

	h.injectText(t, "worker", "4")
	h.poll(t)

	got := receive(t, res)
	require.NoError(t, got.err)
	assert.Equal(t, "4", got.text)

	msgs := h.events.ofType(domain.EventMessage)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Claimed)
}

func TestController_AskMatchesByRequestID(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	first := askAsync(a, "first?", 0)
	h.waitForEntries(t, "worker", 1)
	second := askAsync(a, "second?", 0)
	h.waitForEntries(t, "worker", 2)

	h.inject(t, "worker", domain.Message{Type: domain.MessagePlainText, RequestID: "req-2", Text: "answer two"})
	h.poll(t)
	got := receive(t, second)
	require.NoError(t, got.err)
	assert.Equal(t, "answer two", got.text)

	h.injectText(t, "worker", "answer one")
	h.poll(t)
	got = receive(t, first)
	require.NoError(t, got.err)
	assert.Equal(t, "answer one", got.text)
}

func TestController_ConcurrentAsksAnsweredInOrder(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	first := askAsync(a, "one?", 0)
	h.waitForEntries(t, "worker", 1)
	second := askAsync(a, "two?", 0)
	h.waitForEntries(t, "worker", 2)

	h.injectText(t, "worker", "reply A")
	h.injectText(t, "worker", "reply B")
	h.poll(t)

	got1, got2 := receive(t, first), receive(t, second)
	require.NoError(t, got1.err)
	require.NoError(t, got2.err)
	assert.Equal(t, "reply A", got1.text)
	assert.Equal(t, "reply B", got2.text)
}

func TestController_IdleDoesNotAnswerAsk(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	res := askAsync(a, "status?", 0)
	h.waitForEntries(t, "worker", 1)

	h.inject(t, "worker", domain.Message{Type: domain.MessageIdleNotification, IdleReason: "available"})
	h.poll(t)
	require.Len(t, h.events.ofType(domain.EventAgentIdle), 1)

	select {
	case <-res:
		t.Fatal("idle notification must not answer an ask")
	case <-time.After(50 * time.Millisecond):
	}

	h.injectText(t, "worker", "done")
	h.poll(t)
	got := receive(t, res)
	require.NoError(t, got.err)
	assert.Equal(t, "done", got.text)
}

func TestController_KillCancelsPendingAsk(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	res := askAsync(a, "long question", 10*time.Second)
	h.waitForEntries(t, "worker", 1)

	start := time.Now()
	require.NoError(t, a.Kill(context.Background()))
	got := receive(t, res)

	assert.ErrorIs(t, got.err, domain.ErrCancelled)
	var cancelled *domain.CancelledError
	require.True(t, errors.As(got.err, &cancelled))
	assert.Equal(t, "worker", cancelled.Agent)
	assert.Less(t, time.Since(start), time.Second)
}

func TestController_AskStoppedAgent(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")
	require.NoError(t, h.sup.Exit("worker", 0))

	_, err := a.Ask(context.Background(), "hello?", 0)
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestController_AskContextCancelled(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Ask(ctx, "hello?", 0)
		done <- err
	}()
	h.waitForEntries(t, "worker", 1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ask ignored context cancellation")
	}
	assert.Zero(t, h.ctrl.corr.openRequests())
}

func TestController_RequestShutdown(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	done := make(chan error, 1)
	go func() { done <- a.RequestShutdown(context.Background(), "all done", 0) }()
	h.waitForEntries(t, "worker", 1)

	req := h.lastMessage(t, "worker")
	assert.Equal(t, domain.MessageShutdownRequest, req.Type)
	assert.Equal(t, "all done", req.Reason)
	require.NotEmpty(t, req.RequestID)

	h.inject(t, "worker", domain.Message{Type: domain.MessageShutdownApproved, RequestID: req.RequestID})
	h.poll(t)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown request not resolved")
	}
	assert.Len(t, h.events.ofType(domain.EventShutdownApproved), 1)
}

func TestController_SendShutdownRequest(t *testing.T) {
	h := newHarness(t)
	h.spawn(t, "worker")

	id, err := h.ctrl.SendShutdownRequest(context.Background(), "worker", "bye")
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)

	msg := h.lastMessage(t, "worker")
	assert.Equal(t, domain.MessageShutdownRequest, msg.Type)
	assert.Equal(t, id, msg.RequestID)
}

func TestController_Receive(t *testing.T) {
	h := newHarness(t)
	a := h.spawn(t, "worker")

	done := make(chan askResult, 1)
	go func() {
		text, err := a.Receive(context.Background(), time.Second)
		done <- askResult{text: text, err: err}
	}()
	// Give Receive time to start watching.
	time.Sleep(20 * time.Millisecond)
	h.injectText(t, "worker", "progress update")
	h.poll(t)

	got := receive(t, done)
	require.NoError(t, got.err)
	assert.Equal(t, "progress update", got.text)

	_, err := a.Receive(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestController_PlainAndMalformedMessages(t *testing.T) {
	h := newHarness(t)
	h.injectText(t, "worker", "just text")
	h.injectText(t, "worker", `{"type":"mystery","from":"worker"}`)
	h.injectText(t, "worker", `{"type":"permission_request"}`)
	h.injectText(t, "worker", `{broken`)
	h.poll(t)

	msgs := h.events.ofType(domain.EventMessage)
	require.Len(t, msgs, 4)
	for _, ev := range msgs {
		assert.Equal(t, domain.MessagePlainText, ev.Message.Type)
		assert.Equal(t, "worker", ev.Agent)
	}
	assert.Equal(t, "just text", msgs[0].Message.Text)
	assert.Equal(t, `{broken`, msgs[3].Message.Text)
	assert.Empty(t, h.events.ofType(domain.EventPermissionRequest))
}

func TestController_EventsPreserveMailboxOrder(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"a", "b", "c"} {
		h.injectText(t, "worker", text)
	}
	h.poll(t)

	msgs := h.events.ofType(domain.EventMessage)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].Message.Text)
	assert.Equal(t, "b", msgs[1].Message.Text)
	assert.Equal(t, "c", msgs[2].Message.Text)
}

func TestController_PeerMessages(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.WatchAgentMailboxes = true })
	ctx := context.Background()
	h.spawn(t, "alice")
	h.spawn(t, "bob")

	require.NoError(t, h.ctrl.Send(ctx, "bob", "from the controller"))
	require.NoError(t, h.mailbox.Write(ctx, "bob", domain.MailboxEntry{From: "alice", Text: "hi bob"}))
	h.poll(t)

	peers := h.events.ofType(domain.EventPeerMessage)
	require.Len(t, peers, 1)
	assert.Equal(t, "alice", peers[0].Agent)
	assert.Equal(t, "bob", peers[0].Recipient)
	assert.Equal(t, "hi bob", peers[0].Message.Text)
}

func TestController_SendAndBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "alice")
	h.spawn(t, "bob")

	assert.ErrorIs(t, h.ctrl.Send(ctx, "alice", "   "), domain.ErrEmptyMessage)
	assert.ErrorIs(t, h.ctrl.Send(ctx, "../etc", "x"), domain.ErrInvalidAgentName)

	sent, err := h.ctrl.Broadcast(ctx, "stand-up in five minutes")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, sent)
	for _, name := range sent {
		entries := h.entries(t, name)
		require.Len(t, entries, 1)
		assert.Equal(t, "stand-up in five minutes", entries[0].Text)
		assert.Equal(t, "stand-up in five minutes", entries[0].Summary)
	}
}

func TestController_Tasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "worker")

	first, err := h.ctrl.CreateTask(ctx, domain.NewTaskInput{Subject: "Write parser"})
	require.NoError(t, err)
	assert.Equal(t, "1", first.ID)
	second, err := h.ctrl.CreateTask(ctx, domain.NewTaskInput{Subject: "Review parser"})
	require.NoError(t, err)
	assert.Equal(t, "2", second.ID)

	status := domain.TaskCompleted
	_, err = h.ctrl.UpdateTask(ctx, "1", domain.TaskUpdate{Status: &status})
	require.NoError(t, err)
	got, err := h.ctrl.Task(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, got.Status)

	assigned, err := h.ctrl.AssignTask(ctx, "2", "worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", assigned.Owner)

	msg := h.lastMessage(t, "worker")
	assert.Equal(t, domain.MessageTaskAssignment, msg.Type)
	assert.Equal(t, "2", msg.TaskID)
	assert.Equal(t, "Review parser", msg.Subject)

	tasks, err := h.ctrl.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestController_VerifyCompatibility(t *testing.T) {
	tests := []struct {
		name       string
		out        string
		err        error
		compatible bool
		version    string
	}{
		{name: "supported", out: "2.1.34 (Claude Code)", compatible: true, version: "2.1.34"},
		{name: "too old", out: "1.0.9 (Claude Code)", version: "1.0.9"},
		{name: "unparsable", out: "unknown"},
		{name: "probe fails", err: errors.New("exec: not found")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.sup.VersionOut = tt.out
			h.sup.VersionErr = tt.err

			res := h.ctrl.VerifyCompatibility(context.Background())
			assert.Equal(t, tt.compatible, res.Compatible)
			assert.Equal(t, tt.version, res.Version)
			assert.Equal(t, domain.DefaultMinVersion, res.MinVersion)
			if !tt.compatible {
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestController_Shutdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.spawn(t, "worker")
	_, err := h.ctrl.CreateTask(ctx, domain.NewTaskInput{Subject: "t"})
	require.NoError(t, err)

	res := askAsync(a, "still there?", 10*time.Second)
	h.waitForEntries(t, "worker", 1)

	require.NoError(t, h.ctrl.Shutdown(ctx))

	got := receive(t, res)
	assert.ErrorIs(t, got.err, domain.ErrCancelled)
	assert.Empty(t, h.ctrl.RunningAgents())
	assert.Equal(t, []string{"worker"}, h.sup.Killed)

	_, err = h.ctrl.Team(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.ctrl.Task(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	tasks, err := h.ctrl.Tasks(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, tasks)
	assert.NoDirExists(t, domain.TeamDir(h.root, "alpha"))

	// No dispatch once shut down.
	before := len(h.events.ofType(domain.EventMessage))
	require.NoError(t, h.mailbox.Write(ctx, domain.ControllerName, domain.MailboxEntry{From: "worker", Text: "late"}))
	require.NoError(t, h.ctrl.PollOnce(ctx))
	assert.Len(t, h.events.ofType(domain.EventMessage), before)

	assert.ErrorIs(t, h.ctrl.Shutdown(ctx), domain.ErrNotInitialized)
	assert.ErrorIs(t, h.ctrl.Init(ctx), domain.ErrAlreadyInitialized)
}

func TestController_NoStateAfterShutdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.spawn(t, "worker")
	_, err := h.ctrl.CreateTask(ctx, domain.NewTaskInput{Subject: "t"})
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Shutdown(ctx))

	calls := map[string]func() error{
		"Send": func() error { return h.ctrl.Send(ctx, "worker", "hello") },
		"Broadcast": func() error {
			_, err := h.ctrl.Broadcast(ctx, "hello")
			return err
		},
		"SendShutdownRequest": func() error {
			_, err := h.ctrl.SendShutdownRequest(ctx, "worker", "done")
			return err
		},
		"SendPermissionResponse": func() error { return h.ctrl.SendPermissionResponse(ctx, "worker", "r1", true) },
		"SendPlanApproval":       func() error { return h.ctrl.SendPlanApproval(ctx, "worker", "p1", true, "") },
		"Answer":                 func() error { return h.ctrl.Answer(ctx, "r1", true, "") },
		"CreateTask": func() error {
			_, err := h.ctrl.CreateTask(ctx, domain.NewTaskInput{Subject: "late"})
			return err
		},
		"UpdateTask": func() error {
			status := domain.TaskCompleted
			_, err := h.ctrl.UpdateTask(ctx, "1", domain.TaskUpdate{Status: &status})
			return err
		},
		"AssignTask": func() error {
			_, err := h.ctrl.AssignTask(ctx, "1", "worker")
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			assert.ErrorIs(t, err, domain.ErrSessionClosed)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}

	assert.NoDirExists(t, domain.TeamDir(h.root, "alpha"))
	assert.NoDirExists(t, domain.InboxDir(h.root, "alpha"))
	assert.NoDirExists(t, domain.TasksDir(h.root, "alpha"))
}

// removeRecorder records which mailboxes were removed.
type removeRecorder struct {
	domain.MailboxStore
	removed []string
	mu      sync.Mutex
}

func (r *removeRecorder) Remove(ctx context.Context, participant string) error {
	r.mu.Lock()
	r.removed = append(r.removed, participant)
	r.mu.Unlock()
	return r.MailboxStore.Remove(ctx, participant)
}

func TestController_ShutdownRemovesMailboxes(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	store := &removeRecorder{MailboxStore: mailbox.New(domain.InboxDir(root, "alpha"))}
	ctrl := New(Settings{Team: "alpha", PollInterval: time.Hour}, Dependencies{
		Mailbox:    store,
		Supervisor: testutil.NewMockSupervisor(),
		Team:       teamstore.New(root, "alpha", nil),
		Tasks:      taskstore.New(domain.TasksDir(root, "alpha"), nil),
	})
	require.NoError(t, ctrl.Init(ctx))
	for _, name := range []string{"writer", "reviewer"} {
		_, err := ctrl.SpawnAgent(ctx, domain.SpawnOptions{Name: name})
		require.NoError(t, err)
	}

	require.NoError(t, ctrl.Shutdown(ctx))
	assert.Equal(t, []string{domain.ControllerName, "reviewer", "writer"}, store.removed)
}

func TestController_ExitDuringSpawnIsOrdered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sup.ExitDuringSpawn = true

	_, err := h.ctrl.SpawnAgent(ctx, domain.SpawnOptions{Name: "worker"})
	require.NoError(t, err)

	h.events.mu.Lock()
	var order []domain.EventType
	for _, ev := range h.events.events {
		if ev.Agent == "worker" {
			order = append(order, ev.Type)
		}
	}
	h.events.mu.Unlock()
	assert.Equal(t, []domain.EventType{domain.EventAgentSpawned, domain.EventAgentExited}, order)
	assert.False(t, h.ctrl.IsAgentRunning("worker"))

	team, err := h.ctrl.Team(ctx)
	require.NoError(t, err)
	m, ok := team.Member("worker")
	require.True(t, ok)
	assert.False(t, m.IsActive)
}

func TestController_ShutdownToleratesKillFailure(t *testing.T) {
	h := newHarness(t)
	h.spawn(t, "worker")
	h.sup.KillErr = errors.New("permission denied")

	require.NoError(t, h.ctrl.Shutdown(context.Background()))
	_, err := h.ctrl.Team(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestController_BackgroundPolling(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.PollInterval = 10 * time.Millisecond })
	w := h.ctrl.Watch(func(ev domain.Event) bool { return ev.Type == domain.EventMessage })
	defer w.Close()

	h.injectText(t, "worker", "picked up by the ticker")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "picked up by the ticker", ev.Message.Text)
}
