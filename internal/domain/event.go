package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType names a controller event.
type EventType string

// Controller events. Mailbox-derived and process-derived events share one stream.
const (
	EventAgentSpawned         EventType = "agent:spawned"
	EventAgentExited          EventType = "agent:exited"
	EventAgentIdle            EventType = "agent:idle"
	EventMessage              EventType = "message"
	EventPeerMessage          EventType = "message:peer"
	EventPermissionRequest    EventType = "permission:request"
	EventPermissionResponse   EventType = "permission:response"
	EventPlanApprovalRequest  EventType = "plan:approval_request"
	EventPlanApprovalResponse EventType = "plan:approval_response"
	EventShutdownRequest      EventType = "shutdown:request"
	EventShutdownApproved     EventType = "shutdown:approved"
	EventTaskAssignment       EventType = "task:assignment"
)

// Event is one item of the controller's event stream.
// Message is set for mailbox-derived events, AgentInfo for process events.
// Fields are ordered to minimize memory padding.
type Event struct {
	Time      time.Time
	AgentInfo *Agent
	Message   Message
	Type      EventType
	Agent     string
	// Recipient is set for peer messages observed in another agent's mailbox.
	Recipient string
	// Claimed is set when the message answered an outstanding Ask or shutdown request.
	Claimed bool
}

// EventTypeFor maps a structured message type to the event it raises.
func EventTypeFor(t MessageType) EventType {
	switch t {
	case MessagePermissionRequest:
		return EventPermissionRequest
	case MessagePermissionResponse:
		return EventPermissionResponse
	case MessagePlanApprovalRequest:
		return EventPlanApprovalRequest
	case MessagePlanApprovalResponse:
		return EventPlanApprovalResponse
	case MessageIdleNotification:
		return EventAgentIdle
	case MessageShutdownRequest:
		return EventShutdownRequest
	case MessageShutdownApproved:
		return EventShutdownApproved
	case MessageTaskAssignment:
		return EventTaskAssignment
	default:
		return EventMessage
	}
}

// Summary renders the event as one human-readable line.
func (e Event) Summary() string {
	switch e.Type {
	case EventAgentSpawned:
		if e.AgentInfo != nil {
			return fmt.Sprintf("%s spawned (pid %d)", e.Agent, e.AgentInfo.PID)
		}
		return e.Agent + " spawned"
	case EventAgentExited:
		if e.AgentInfo != nil {
			return fmt.Sprintf("%s %s (code %d)", e.Agent, e.AgentInfo.ExitReason, e.AgentInfo.ExitCode)
		}
		return e.Agent + " exited"
	case EventAgentIdle:
		if e.Message.IdleReason != "" {
			return fmt.Sprintf("%s is idle: %s", e.Agent, e.Message.IdleReason)
		}
		return e.Agent + " is idle"
	case EventPermissionRequest:
		return fmt.Sprintf("%s asks to use %s [%s]: %s", e.Agent, e.Message.ToolName, e.Message.RequestID, oneLine(e.Message.Description))
	case EventPlanApprovalRequest:
		return fmt.Sprintf("%s submitted a plan [%s]: %s", e.Agent, e.Message.RequestID, oneLine(e.Message.PlanContent))
	case EventShutdownApproved:
		return e.Agent + " approved shutdown"
	case EventTaskAssignment:
		return fmt.Sprintf("%s assigned task %s: %s", e.Agent, e.Message.TaskID, e.Message.Subject)
	case EventPeerMessage:
		return fmt.Sprintf("%s -> %s: %s", e.Agent, e.Recipient, oneLine(e.Message.Text))
	case EventMessage:
		return fmt.Sprintf("%s: %s", e.Agent, oneLine(e.Message.Text))
	default:
		return fmt.Sprintf("%s %s", e.Agent, e.Type)
	}
}

func oneLine(s string) string {
	line, _, more := strings.Cut(strings.TrimSpace(s), "\n")
	if more {
		return line + " …"
	}
	return line
}
