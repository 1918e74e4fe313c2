package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType is the tag of a structured mailbox message.
type MessageType string

// Structured message types.
const (
	MessageTaskAssignment       MessageType = "task_assignment"
	MessageShutdownRequest      MessageType = "shutdown_request"
	MessageShutdownApproved     MessageType = "shutdown_approved"
	MessageIdleNotification     MessageType = "idle_notification"
	MessagePlanApprovalRequest  MessageType = "plan_approval_request"
	MessagePlanApprovalResponse MessageType = "plan_approval_response"
	MessagePermissionRequest    MessageType = "permission_request"
	MessagePermissionResponse   MessageType = "permission_response"
	MessagePlainText            MessageType = "plain_text"
)

// IsValid reports whether t is one of the known message types.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTaskAssignment, MessageShutdownRequest, MessageShutdownApproved,
		MessageIdleNotification, MessagePlanApprovalRequest, MessagePlanApprovalResponse,
		MessagePermissionRequest, MessagePermissionResponse, MessagePlainText:
		return true
	}
	return false
}

// requiresRequestID reports whether messages of this type are meaningless
// without a request identifier.
func (t MessageType) requiresRequestID() bool {
	switch t {
	case MessagePlanApprovalRequest, MessagePlanApprovalResponse,
		MessagePermissionRequest, MessagePermissionResponse:
		return true
	}
	return false
}

// Message is a structured message decoded from a mailbox entry's text.
// The Type field selects which of the optional fields are meaningful.
// Fields are ordered to minimize memory padding.
type Message struct {
	Approved    *bool           `json:"approved,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Type        MessageType     `json:"type"`
	From        string          `json:"from,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	Description string          `json:"description,omitempty"`
	PlanContent string          `json:"planContent,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
	Text        string          `json:"text,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	IdleReason  string          `json:"idleReason,omitempty"`
	TaskID      string          `json:"taskId,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	AssignedBy  string          `json:"assignedBy,omitempty"`
}

// IsApproved returns the approved flag, treating a missing flag as false.
func (m Message) IsApproved() bool {
	return m.Approved != nil && *m.Approved
}

// Encode serializes the message into the JSON body stored in a mailbox entry.
func (m Message) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return string(data), nil
}

// ParseMessage decodes the text of a mailbox entry.
// It never fails to produce a message: bodies that are not JSON objects,
// do not decode, carry an unknown type, or lack a required request ID
// degrade to a plain_text message holding the raw text. In the latter
// three cases the returned error wraps ErrProtocolDecode so callers can
// log it.
func ParseMessage(entry MailboxEntry) (Message, error) {
	plain := Message{
		Type:      MessagePlainText,
		From:      entry.From,
		Timestamp: entry.Timestamp,
		Text:      entry.Text,
	}

	trimmed := strings.TrimSpace(entry.Text)
	if !strings.HasPrefix(trimmed, "{") {
		return plain, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return plain, fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}
	if msg.Type == "" || !msg.Type.IsValid() {
		return plain, fmt.Errorf("%w: unknown message type %q", ErrProtocolDecode, msg.Type)
	}
	if msg.Type.requiresRequestID() && msg.RequestID == "" {
		return plain, fmt.Errorf("%w: %s without requestId", ErrProtocolDecode, msg.Type)
	}
	if msg.Type == MessagePlainText && msg.Text == "" {
		msg.Text = entry.Text
	}
	if msg.From == "" {
		msg.From = entry.From
	}
	if msg.Timestamp == "" {
		msg.Timestamp = entry.Timestamp
	}
	return msg, nil
}

// FormatTimestamp renders t in the mailbox timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolPtr(b bool) *bool { return &b }

// NewPermissionResponse builds the reply to a permission_request.
func NewPermissionResponse(from, requestID string, approved bool, now time.Time) Message {
	return Message{
		Type:      MessagePermissionResponse,
		From:      from,
		RequestID: requestID,
		Approved:  boolPtr(approved),
		Timestamp: FormatTimestamp(now),
	}
}

// NewPlanApprovalResponse builds the reply to a plan_approval_request.
func NewPlanApprovalResponse(from, requestID string, approved bool, feedback string, now time.Time) Message {
	return Message{
		Type:      MessagePlanApprovalResponse,
		From:      from,
		RequestID: requestID,
		Approved:  boolPtr(approved),
		Feedback:  feedback,
		Timestamp: FormatTimestamp(now),
	}
}

// NewShutdownRequest asks an agent to finish and exit.
func NewShutdownRequest(from, requestID, reason string, now time.Time) Message {
	return Message{
		Type:      MessageShutdownRequest,
		From:      from,
		RequestID: requestID,
		Reason:    reason,
		Timestamp: FormatTimestamp(now),
	}
}

// NewTaskAssignment tells an agent that it owns a task.
func NewTaskAssignment(from string, task *Task, now time.Time) Message {
	return Message{
		Type:        MessageTaskAssignment,
		From:        from,
		TaskID:      task.ID,
		Subject:     task.Subject,
		Description: task.Description,
		AssignedBy:  from,
		Timestamp:   FormatTimestamp(now),
	}
}
