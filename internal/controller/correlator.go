package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runoshun/crewteam/internal/domain"
)

// dedupCapacity bounds the set of inbound request IDs remembered per session.
const dedupCapacity = 4096

type pendingKind string

const (
	pendingAsk      pendingKind = "ask"
	pendingShutdown pendingKind = "shutdown"
)

type result struct {
	err error
	msg domain.Message
}

// pending is one outbound request waiting for its reply.
// Its channel receives exactly one result.
type pending struct {
	createdAt time.Time
	timer     *time.Timer
	ch        chan result
	id        string
	agent     string
	kind      pendingKind
	timeout   time.Duration
}

// Correlator matches inbound replies to outbound requests.
//
// Waiters are keyed by request ID. A reply that carries no request ID is
// matched to the oldest open waiter of the right kind for that agent, so
// concurrent asks to one agent are answered in registration order.
// Fields are ordered to minimize memory padding.
type Correlator struct {
	clock     domain.Clock
	byID      map[string]*pending
	approvals map[string]domain.Approval
	seen      *seenSet
	order     []*pending
	mu        sync.Mutex
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator(clock domain.Clock) *Correlator {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Correlator{
		clock:     clock,
		byID:      make(map[string]*pending),
		approvals: make(map[string]domain.Approval),
		seen:      newSeenSet(dedupCapacity),
	}
}

// register opens a waiter that fails with a TimeoutError after timeout.
func (c *Correlator) register(agent string, kind pendingKind, id string, timeout time.Duration) *pending {
	p := &pending{
		id:        id,
		agent:     agent,
		kind:      kind,
		timeout:   timeout,
		createdAt: c.clock.Now(),
		ch:        make(chan result, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[id] = p
	c.order = append(c.order, p)
	// Armed under the lock so the callback never sees a half-built waiter.
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			c.finish(p, result{err: &domain.TimeoutError{Op: string(kind), Agent: agent, Timeout: timeout}})
		})
	}
	return p
}

// finish closes p with res. It reports false if p was already closed.
func (c *Correlator) finish(p *pending, res result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLocked(p, res)
}

func (c *Correlator) finishLocked(p *pending, res result) bool {
	if c.byID[p.id] != p {
		return false
	}
	delete(c.byID, p.id)
	for i, q := range c.order {
		if q == p {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- res
	return true
}

// wait blocks until p is closed or ctx is done.
func (c *Correlator) wait(ctx context.Context, p *pending) (domain.Message, error) {
	select {
	case res := <-p.ch:
		return res.msg, res.err
	case <-ctx.Done():
		c.finish(p, result{err: ctx.Err()})
		res := <-p.ch
		return res.msg, res.err
	}
}

// resolve hands msg to the waiter it answers, if any.
func (c *Correlator) resolve(msg domain.Message) bool {
	var kind pendingKind
	switch msg.Type {
	case domain.MessagePlainText:
		kind = pendingAsk
	case domain.MessageShutdownApproved:
		kind = pendingShutdown
	default:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.RequestID != "" {
		if p, ok := c.byID[msg.RequestID]; ok && p.kind == kind && p.agent == msg.From {
			return c.finishLocked(p, result{msg: msg})
		}
	}
	for _, p := range c.order {
		if p.kind == kind && p.agent == msg.From {
			return c.finishLocked(p, result{msg: msg})
		}
	}
	return false
}

// cancelAgent fails every waiter for agent with a CancelledError.
func (c *Correlator) cancelAgent(agent, reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var victims []*pending
	for _, p := range c.order {
		if p.agent == agent {
			victims = append(victims, p)
		}
	}
	for _, p := range victims {
		c.finishLocked(p, result{err: &domain.CancelledError{Agent: agent, Reason: reason}})
	}
	for id, a := range c.approvals {
		if a.Agent == agent {
			delete(c.approvals, id)
		}
	}
	return len(victims)
}

// cancelAll fails every open waiter.
func (c *Correlator) cancelAll(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	victims := append([]*pending(nil), c.order...)
	for _, p := range victims {
		c.finishLocked(p, result{err: &domain.CancelledError{Agent: p.agent, Reason: reason}})
	}
	clear(c.approvals)
	return len(victims)
}

// firstSighting reports whether an inbound request ID has not been seen
// before, and remembers it.
func (c *Correlator) firstSighting(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen.add(requestID)
}

func (c *Correlator) trackApproval(a domain.Approval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[a.RequestID] = a
}

// answerApproval forgets an inbound request once it has been answered.
func (c *Correlator) answerApproval(requestID string) (domain.Approval, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.approvals[requestID]
	delete(c.approvals, requestID)
	return a, ok
}

// pendingApprovals returns unanswered inbound requests, oldest first.
func (c *Correlator) pendingApprovals() []domain.Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Approval, 0, len(c.approvals))
	for _, a := range c.approvals {
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// openRequests returns the number of open waiters.
func (c *Correlator) openRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// seenSet is a bounded set that forgets its oldest member when full.
type seenSet struct {
	members map[string]struct{}
	ring    []string
	next    int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		members: make(map[string]struct{}, capacity),
		ring:    make([]string, capacity),
	}
}

// add inserts key and reports whether it was new.
func (s *seenSet) add(key string) bool {
	if _, ok := s.members[key]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.members, old)
	}
	s.ring[s.next] = key
	s.next = (s.next + 1) % len(s.ring)
	s.members[key] = struct{}{}
	return true
}
