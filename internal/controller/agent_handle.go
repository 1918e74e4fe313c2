package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/runoshun/crewteam/internal/domain"
)

// AgentHandle is the per-agent view of a Controller.
type AgentHandle struct {
	c    *Controller
	name string
}

// Name returns the agent name.
func (h *AgentHandle) Name() string {
	return h.name
}

// Info returns the agent's last known process state.
func (h *AgentHandle) Info() domain.Agent {
	a, _ := h.c.deps.Supervisor.Get(h.name)
	return a
}

// PID returns the agent's process ID.
func (h *AgentHandle) PID() int {
	return h.Info().PID
}

// IsRunning reports whether the agent process is alive.
func (h *AgentHandle) IsRunning() bool {
	return h.c.deps.Supervisor.IsRunning(h.name)
}

// Send writes a plain-text message to the agent.
func (h *AgentHandle) Send(ctx context.Context, text string) error {
	return h.c.Send(ctx, h.name, text)
}

// Kill terminates the agent.
func (h *AgentHandle) Kill(ctx context.Context) error {
	return h.c.KillAgent(ctx, h.name)
}

// Ask sends prompt and waits for the agent's reply text.
// A zero timeout uses the controller's default. On timeout it fails with
// a *domain.TimeoutError and the prompt stays in the agent's mailbox.
// If the agent exits first it fails with a *domain.CancelledError.
func (h *AgentHandle) Ask(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	msg, err := h.roundTrip(ctx, pendingAsk, timeout, func(id string) error {
		return h.c.Send(ctx, h.name, prompt)
	})
	if err != nil {
		return "", err
	}
	return msg.Text, nil
}

// RequestShutdown asks the agent to exit and waits for its shutdown_approved.
func (h *AgentHandle) RequestShutdown(ctx context.Context, reason string, timeout time.Duration) error {
	_, err := h.roundTrip(ctx, pendingShutdown, timeout, func(id string) error {
		msg := domain.NewShutdownRequest(domain.ControllerName, id, reason, h.c.clock.Now())
		return h.c.writeMessage(ctx, h.name, msg)
	})
	return err
}

// Receive waits for the next plain-text message from the agent that is
// not claimed by an Ask.
func (h *AgentHandle) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = h.c.settings.AskTimeout
	}
	w := h.c.Watch(func(ev domain.Event) bool {
		return ev.Type == domain.EventMessage && ev.Agent == h.name && !ev.Claimed
	})
	defer w.Close()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ev, err := w.Wait(waitCtx)
	if err != nil {
		if ctx.Err() == nil {
			return "", &domain.TimeoutError{Op: "receive", Agent: h.name, Timeout: timeout}
		}
		return "", err
	}
	return ev.Message.Text, nil
}

// roundTrip registers a waiter, sends the request and waits for the reply.
// The waiter exists before the request is written so a fast reply cannot be missed.
func (h *AgentHandle) roundTrip(ctx context.Context, kind pendingKind, timeout time.Duration, send func(id string) error) (domain.Message, error) {
	if err := h.c.requireRunning(); err != nil {
		return domain.Message{}, err
	}
	if !h.IsRunning() {
		return domain.Message{}, fmt.Errorf("%w: %q", domain.ErrAgentNotFound, h.name)
	}
	if timeout <= 0 {
		timeout = h.c.settings.AskTimeout
	}

	id := h.c.ids.NewID()
	p := h.c.corr.register(h.name, kind, id, timeout)

	// The agent may have exited between the check above and registration.
	if !h.IsRunning() {
		h.c.corr.finish(p, result{err: &domain.CancelledError{Agent: h.name, Reason: "agent exited"}})
	} else if err := send(id); err != nil {
		h.c.corr.finish(p, result{err: err})
	}
	return h.c.corr.wait(ctx, p)
}
