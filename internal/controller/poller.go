package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/runoshun/crewteam/internal/domain"
)

// EntryHandler processes one unread mailbox entry of participant.
type EntryHandler func(participant string, entry domain.MailboxEntry)

// Poller periodically drains unread mailbox entries and hands them to a
// handler. Cycles never overlap, and nothing is dispatched after Stop returns.
// Fields are ordered to minimize memory padding.
type Poller struct {
	store        domain.MailboxStore
	participants func() []string
	handle       EntryHandler
	logger       *slog.Logger
	cancel       context.CancelFunc
	done         chan struct{}
	interval     time.Duration
	mu           sync.Mutex // held for a whole cycle
	stateMu      sync.Mutex
	stopped      bool
}

// NewPoller creates a Poller over the mailboxes returned by participants.
func NewPoller(store domain.MailboxStore, interval time.Duration, participants func() []string, handle EntryHandler, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = domain.DefaultPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		store:        store,
		interval:     interval,
		participants: participants,
		handle:       handle,
		logger:       logger,
	}
}

// Start launches the polling goroutine. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.cancel != nil || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("mailbox poll failed, retrying next tick", "error", err)
			}
		}
	}
}

// Stop ends polling and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.stateMu.Lock()
	cancel, done := p.cancel, p.done
	p.stopped = true
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	// Wait out a PollOnce running outside the loop.
	p.mu.Lock()
	defer p.mu.Unlock()
}

// PollOnce runs one cycle: every participant's unread entries are
// dispatched in append order. Read errors are collected and returned
// after the remaining mailboxes were processed.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stateMu.Lock()
	stopped := p.stopped
	p.stateMu.Unlock()
	if stopped {
		return nil
	}

	var errs []error
	for _, participant := range p.participants() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := p.store.ReadUnread(ctx, participant)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries {
			p.handle(participant, entry)
		}
	}
	return errors.Join(errs...)
}
