package domain

import "context"

// ControllerName is the participant name of the controller's own mailbox.
// No agent may use it.
const ControllerName = "controller"

// MailboxEntry is one record of a participant's append-only mailbox log.
// Read is not persisted; it reflects the store's in-memory cursor.
type MailboxEntry struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Summary   string `json:"summary,omitempty"`
	Read      bool   `json:"-"`
}

// MailboxStore is the file-backed message log shared with agents.
type MailboxStore interface {
	// Write appends an entry to the participant's mailbox.
	Write(ctx context.Context, participant string, entry MailboxEntry) error

	// ReadAll returns every entry, oldest first, without side effects.
	ReadAll(ctx context.Context, participant string) ([]MailboxEntry, error)

	// ReadUnread returns the entries past the read cursor and marks them read.
	ReadUnread(ctx context.Context, participant string) ([]MailboxEntry, error)

	// Remove deletes a participant's mailbox and forgets its cursor.
	Remove(ctx context.Context, participant string) error
}
