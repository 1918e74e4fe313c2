package domain

import (
	"encoding/json"
	"time"
)

// Approval is an inbound permission or plan request still waiting for
// the controller's answer.
// Fields are ordered to minimize memory padding.
type Approval struct {
	ReceivedAt  time.Time
	Input       json.RawMessage
	Kind        MessageType
	Agent       string
	RequestID   string
	ToolName    string
	Description string
	PlanContent string
}

// NewApproval builds an Approval from a permission_request or
// plan_approval_request message.
func NewApproval(msg Message, at time.Time) Approval {
	return Approval{
		ReceivedAt:  at,
		Input:       msg.Input,
		Kind:        msg.Type,
		Agent:       msg.From,
		RequestID:   msg.RequestID,
		ToolName:    msg.ToolName,
		Description: msg.Description,
		PlanContent: msg.PlanContent,
	}
}

// IsPlan reports whether the approval is for a plan rather than a tool call.
func (a Approval) IsPlan() bool {
	return a.Kind == MessagePlanApprovalRequest
}
