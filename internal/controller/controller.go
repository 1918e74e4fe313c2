// Package controller coordinates a team of agent processes that talk to
// the controller through file mailboxes.
//
// A Controller owns one team session: it provisions the on-disk team
// state, spawns and supervises agents, polls the mailboxes, correlates
// replies with outstanding requests and publishes everything it observes
// as a single stream of domain.Event values.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/runoshun/crewteam/internal/domain"
)

type sessionState int

const (
	stateNew sessionState = iota
	stateRunning
	stateClosing
	stateClosed
)

// Settings configures a Controller.
// Fields are ordered to minimize memory padding.
type Settings struct {
	Team        string
	Description string
	MinVersion  string
	// DefaultCwd is the working directory of agents spawned without one.
	DefaultCwd   string
	PollInterval time.Duration
	AskTimeout   time.Duration
	// WatchAgentMailboxes also scans agent mailboxes and reports
	// agent-to-agent traffic as message:peer events.
	WatchAgentMailboxes bool
}

// Dependencies are the adapters a Controller drives.
type Dependencies struct {
	Mailbox    domain.MailboxStore
	Supervisor domain.ProcessSupervisor
	Team       domain.TeamRepository
	Tasks      domain.TaskRepository
}

// Option customizes controller construction.
type Option func(*Controller)

// WithLogger overrides the default discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock domain.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDGenerator overrides the request ID source.
func WithIDGenerator(ids domain.IDGenerator) Option {
	return func(c *Controller) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// Controller is the facade over one team session.
// Fields are ordered to minimize memory padding.
type Controller struct {
	deps     Dependencies
	clock    domain.Clock
	ids      domain.IDGenerator
	logger   *slog.Logger
	bus      *Bus
	corr     *Correlator
	poller   *Poller
	handles  map[string]*AgentHandle
	// spawning holds agents whose SpawnAgent has not finished yet. An exit
	// reported meanwhile is parked here and replayed after agent:spawned.
	spawning map[string]*domain.Agent
	settings Settings
	mu       sync.Mutex
	state    sessionState
}

// New creates a Controller. Call Init before using it.
func New(settings Settings, deps Dependencies, opts ...Option) *Controller {
	if settings.PollInterval <= 0 {
		settings.PollInterval = domain.DefaultPollInterval
	}
	if settings.AskTimeout <= 0 {
		settings.AskTimeout = domain.DefaultAskTimeout
	}
	if settings.MinVersion == "" {
		settings.MinVersion = domain.DefaultMinVersion
	}

	c := &Controller{
		settings: settings,
		deps:     deps,
		clock:    domain.RealClock{},
		ids:      uuidGenerator{},
		logger:   slog.New(slog.DiscardHandler),
		handles:  make(map[string]*AgentHandle),
		spawning: make(map[string]*domain.Agent),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("team", settings.Team)
	c.bus = NewBus(c.logger)
	c.corr = NewCorrelator(c.clock)
	c.poller = NewPoller(deps.Mailbox, settings.PollInterval, c.pollTargets, c.handleEntry, c.logger)
	return c
}

// Init provisions the team session and starts polling.
// It fails with domain.ErrAlreadyInitialized when called twice.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateNew {
		return domain.ErrAlreadyInitialized
	}

	if _, err := c.deps.Team.Create(ctx, c.settings.Team, c.settings.Description); err != nil {
		return fmt.Errorf("create team %q: %w", c.settings.Team, err)
	}
	c.deps.Supervisor.SetExitHandler(c.onAgentExit)
	c.poller.Start(context.WithoutCancel(ctx))
	c.state = stateRunning

	c.logger.Info("session initialized", "poll_interval", c.settings.PollInterval)
	return nil
}

// Shutdown stops polling, kills the remaining agents and removes the
// session's on-disk state, in that order. Kill failures are logged and
// do not stop the cleanup. Afterwards every operation touching session
// state fails with domain.ErrSessionClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return domain.ErrNotInitialized
	}
	c.state = stateClosing
	c.mu.Unlock()

	c.poller.Stop()

	for _, name := range c.deps.Supervisor.Running() {
		if err := c.deps.Supervisor.Kill(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("kill agent during shutdown", "agent", name, "error", err)
		}
	}
	if n := c.corr.cancelAll("session shut down"); n > 0 {
		c.logger.Debug("cancelled open requests", "count", n)
	}

	var errs []error
	for _, participant := range c.mailboxes() {
		if err := c.deps.Mailbox.Remove(ctx, participant); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.deps.Tasks.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.deps.Team.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.state = stateClosed
	c.handles = make(map[string]*AgentHandle)
	c.mu.Unlock()

	c.logger.Info("session shut down")
	return errors.Join(errs...)
}

// requireRunning fails before Init with ErrNotInitialized and once
// Shutdown has begun with ErrSessionClosed.
func (c *Controller) requireRunning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateRunning:
		return nil
	case stateNew:
		return domain.ErrNotInitialized
	default:
		return domain.ErrSessionClosed
	}
}

// mailboxes returns the controller's mailbox and every spawned agent's.
func (c *Controller) mailboxes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := []string{domain.ControllerName}
	for name := range c.handles {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// SpawnAgent starts an agent process and returns its handle.
func (c *Controller) SpawnAgent(ctx context.Context, opts domain.SpawnOptions) (*AgentHandle, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	if opts.Cwd == "" {
		opts.Cwd = c.settings.DefaultCwd
	}

	c.mu.Lock()
	if _, busy := c.spawning[opts.Name]; busy {
		c.mu.Unlock()
		return nil, &domain.SpawnError{Name: opts.Name, Err: domain.ErrAgentRunning}
	}
	c.spawning[opts.Name] = nil
	c.mu.Unlock()

	agent, err := c.deps.Supervisor.Spawn(ctx, opts)
	if err != nil {
		c.mu.Lock()
		delete(c.spawning, opts.Name)
		c.mu.Unlock()
		return nil, err
	}

	member := domain.TeamMember{
		AgentID:        domain.AgentID(agent.Name, c.settings.Team),
		Name:           agent.Name,
		AgentType:      opts.Type,
		Model:          opts.Model,
		Cwd:            opts.Cwd,
		PermissionMode: opts.PermissionMode,
		JoinedAt:       c.clock.Now(),
		IsActive:       true,
	}
	if err := c.deps.Team.AddMember(ctx, member); err != nil {
		c.logger.Warn("record team member", "agent", agent.Name, "error", err)
	}

	h := &AgentHandle{c: c, name: agent.Name}
	c.mu.Lock()
	c.handles[agent.Name] = h
	c.mu.Unlock()

	c.publish(domain.Event{Type: domain.EventAgentSpawned, Agent: agent.Name, AgentInfo: &agent})

	c.mu.Lock()
	exited := c.spawning[agent.Name]
	delete(c.spawning, agent.Name)
	c.mu.Unlock()
	if exited != nil {
		c.agentExited(*exited)
	}
	return h, nil
}

// KillAgent terminates a running agent.
// It fails with domain.ErrAgentNotFound if the agent is not running.
func (c *Controller) KillAgent(ctx context.Context, name string) error {
	return c.deps.Supervisor.Kill(ctx, name)
}

// onAgentExit runs once per agent process exit. Exits racing with
// SpawnAgent are deferred until the agent has been recorded.
func (c *Controller) onAgentExit(agent domain.Agent) {
	c.mu.Lock()
	if _, ok := c.spawning[agent.Name]; ok {
		c.spawning[agent.Name] = &agent
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.agentExited(agent)
}

func (c *Controller) agentExited(agent domain.Agent) {
	reason := "agent exited"
	if agent.ExitReason == domain.ExitKilled {
		reason = "agent killed"
	}
	if n := c.corr.cancelAgent(agent.Name, reason); n > 0 {
		c.logger.Debug("cancelled open requests", "agent", agent.Name, "count", n)
	}
	if err := c.deps.Team.SetMemberActive(context.Background(), agent.Name, false); err != nil {
		c.logger.Debug("mark member inactive", "agent", agent.Name, "error", err)
	}
	c.publish(domain.Event{Type: domain.EventAgentExited, Agent: agent.Name, AgentInfo: &agent})
}

// Agent returns the handle of a spawned agent.
func (c *Controller) Agent(name string) (*AgentHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrAgentNotFound, name)
	}
	return h, nil
}

// Agents returns a snapshot of every agent spawned in this session.
func (c *Controller) Agents() []domain.Agent {
	return c.deps.Supervisor.List()
}

// IsAgentRunning reports whether name is a live agent.
func (c *Controller) IsAgentRunning(name string) bool {
	return c.deps.Supervisor.IsRunning(name)
}

// RunningAgents returns the names of live agents, sorted.
func (c *Controller) RunningAgents() []string {
	return c.deps.Supervisor.Running()
}

// Send writes a plain-text message from the controller to agent's mailbox.
func (c *Controller) Send(ctx context.Context, agent, text string) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyMessage
	}
	return c.write(ctx, agent, text, summarize(text))
}

// Broadcast sends text to every running agent and returns the recipients.
func (c *Controller) Broadcast(ctx context.Context, text string) ([]string, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyMessage
	}
	var (
		sent []string
		errs []error
	)
	for _, name := range c.deps.Supervisor.Running() {
		if err := c.write(ctx, name, text, summarize(text)); err != nil {
			errs = append(errs, fmt.Errorf("send to %q: %w", name, err))
			continue
		}
		sent = append(sent, name)
	}
	return sent, errors.Join(errs...)
}

// SendShutdownRequest asks agent to finish and exit, without waiting.
// It returns the request ID the agent will echo in shutdown_approved.
func (c *Controller) SendShutdownRequest(ctx context.Context, agent, reason string) (string, error) {
	if err := c.requireRunning(); err != nil {
		return "", err
	}
	id := c.ids.NewID()
	msg := domain.NewShutdownRequest(domain.ControllerName, id, reason, c.clock.Now())
	if err := c.writeMessage(ctx, agent, msg); err != nil {
		return "", err
	}
	return id, nil
}

// SendPermissionResponse answers a permission_request. Repeated calls
// for the same request append new responses; the last one wins.
func (c *Controller) SendPermissionResponse(ctx context.Context, agent, requestID string, approved bool) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	msg := domain.NewPermissionResponse(domain.ControllerName, requestID, approved, c.clock.Now())
	if err := c.writeMessage(ctx, agent, msg); err != nil {
		return err
	}
	c.corr.answerApproval(requestID)
	return nil
}

// SendPlanApproval answers a plan_approval_request.
func (c *Controller) SendPlanApproval(ctx context.Context, agent, requestID string, approved bool, feedback string) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	msg := domain.NewPlanApprovalResponse(domain.ControllerName, requestID, approved, feedback, c.clock.Now())
	if err := c.writeMessage(ctx, agent, msg); err != nil {
		return err
	}
	c.corr.answerApproval(requestID)
	return nil
}

// Answer approves or rejects a pending inbound request by ID, picking
// the response type from the request.
func (c *Controller) Answer(ctx context.Context, requestID string, approved bool, feedback string) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	for _, a := range c.corr.pendingApprovals() {
		if a.RequestID != requestID {
			continue
		}
		if a.IsPlan() {
			return c.SendPlanApproval(ctx, a.Agent, requestID, approved, feedback)
		}
		return c.SendPermissionResponse(ctx, a.Agent, requestID, approved)
	}
	return fmt.Errorf("request %q: %w", requestID, domain.ErrNotFound)
}

// PendingApprovals returns inbound permission and plan requests that
// have not been answered yet, oldest first.
func (c *Controller) PendingApprovals() []domain.Approval {
	return c.corr.pendingApprovals()
}

// VerifyCompatibility checks the worker binary's version. Failures are
// reported in the result, never as an error.
func (c *Controller) VerifyCompatibility(ctx context.Context) domain.Compatibility {
	out, err := c.deps.Supervisor.Version(ctx)
	if err != nil {
		return domain.Compatibility{MinVersion: c.settings.MinVersion, Error: err.Error()}
	}
	return domain.CheckCompatibility(out, c.settings.MinVersion)
}

// Team returns the session's team config.
// It fails with an error matching domain.ErrTeamNotFound after Shutdown.
func (c *Controller) Team(ctx context.Context) (*domain.TeamConfig, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	return c.deps.Team.Config(ctx)
}

// CreateTask adds a task to the team's task list.
func (c *Controller) CreateTask(ctx context.Context, in domain.NewTaskInput) (*domain.Task, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	return c.deps.Tasks.Create(ctx, in)
}

// Task returns one task.
func (c *Controller) Task(ctx context.Context, id string) (*domain.Task, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	return c.deps.Tasks.Get(ctx, id)
}

// Tasks lists the team's tasks.
func (c *Controller) Tasks(ctx context.Context) ([]*domain.Task, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	return c.deps.Tasks.List(ctx)
}

// UpdateTask changes task fields.
func (c *Controller) UpdateTask(ctx context.Context, id string, u domain.TaskUpdate) (*domain.Task, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	return c.deps.Tasks.Update(ctx, id, u)
}

// AssignTask makes agent the owner of task id and notifies it.
func (c *Controller) AssignTask(ctx context.Context, id, agent string) (*domain.Task, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	if err := domain.ValidateAgentName(agent); err != nil {
		return nil, err
	}
	task, err := c.deps.Tasks.Update(ctx, id, domain.TaskUpdate{Owner: &agent})
	if err != nil {
		return nil, err
	}
	msg := domain.NewTaskAssignment(domain.ControllerName, task, c.clock.Now())
	if err := c.writeMessage(ctx, agent, msg); err != nil {
		return nil, err
	}
	return task, nil
}

// Subscribe registers fn for every event and returns its unsubscribe function.
func (c *Controller) Subscribe(fn Handler) func() {
	return c.bus.Subscribe(fn)
}

// Events returns a buffered event channel and its close function.
func (c *Controller) Events(buffer int) (<-chan domain.Event, func()) {
	return c.bus.Channel(buffer)
}

// Watch captures events matching match from now on.
func (c *Controller) Watch(match func(domain.Event) bool) *Watcher {
	return c.bus.Watch(match)
}

// PollOnce runs one mailbox polling cycle immediately.
func (c *Controller) PollOnce(ctx context.Context) error {
	return c.poller.PollOnce(ctx)
}

// pollTargets lists the mailboxes scanned by each cycle.
func (c *Controller) pollTargets() []string {
	targets := []string{domain.ControllerName}
	if !c.settings.WatchAgentMailboxes {
		return targets
	}
	c.mu.Lock()
	names := make([]string, 0, len(c.handles))
	for name := range c.handles {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)
	return append(targets, names...)
}

// handleEntry turns one mailbox entry into an event.
func (c *Controller) handleEntry(participant string, entry domain.MailboxEntry) {
	msg, err := domain.ParseMessage(entry)
	if err != nil {
		c.logger.Debug("undecodable message treated as text", "from", entry.From, "error", err)
	}

	if participant != domain.ControllerName {
		if msg.From == domain.ControllerName {
			return
		}
		c.publish(domain.Event{Type: domain.EventPeerMessage, Agent: msg.From, Recipient: participant, Message: msg})
		return
	}

	claimed := false
	switch msg.Type {
	case domain.MessagePermissionRequest, domain.MessagePlanApprovalRequest:
		if !c.corr.firstSighting(msg.RequestID) {
			c.logger.Debug("duplicate request ignored", "from", msg.From, "request_id", msg.RequestID)
			return
		}
		c.corr.trackApproval(domain.NewApproval(msg, c.clock.Now()))
	case domain.MessagePlainText, domain.MessageShutdownApproved:
		claimed = c.corr.resolve(msg)
	}

	c.publish(domain.Event{Type: domain.EventTypeFor(msg.Type), Agent: msg.From, Message: msg, Claimed: claimed})
}

func (c *Controller) publish(ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = c.clock.Now()
	}
	c.bus.Publish(ev)
}

func (c *Controller) write(ctx context.Context, participant, text, summary string) error {
	if participant != domain.ControllerName {
		if err := domain.ValidateAgentName(participant); err != nil {
			return err
		}
	}
	return c.deps.Mailbox.Write(ctx, participant, domain.MailboxEntry{
		From:      domain.ControllerName,
		Text:      text,
		Summary:   summary,
		Timestamp: domain.FormatTimestamp(c.clock.Now()),
	})
}

func (c *Controller) writeMessage(ctx context.Context, participant string, msg domain.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.write(ctx, participant, body, "")
}

const summaryLength = 60

// summarize returns the first line of text, shortened for previews.
func summarize(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if r := []rune(line); len(r) > summaryLength {
		return string(r[:summaryLength-1]) + "…"
	}
	return line
}
