package domain

import (
	"fmt"
	"time"
)

// AgentType identifies the concrete variant behind an agent id.
type AgentType string

const (
	AgentOrchestrator AgentType = "orchestrator"
	AgentCurator      AgentType = "curator"
	AgentAnalyzer     AgentType = "analyzer"
	AgentSummarizer   AgentType = "summarizer"
	AgentQuery        AgentType = "query"
)

// AgentState do ciclo de vida
type AgentState int

const (
	StateIdle AgentState = iota
	StateBusy
	StateError
	StateStopped
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s AgentState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AgentState) UnmarshalText(b []byte) error {
	state, err := ParseAgentState(string(b))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

func ParseAgentState(s string) (AgentState, error) {
	switch s {
	case "idle":
		return StateIdle, nil
	case "busy":
		return StateBusy, nil
	case "error":
		return StateError, nil
	case "stopped":
		return StateStopped, nil
	default:
		return StateIdle, fmt.Errorf("unknown agent state: %q", s)
	}
}

// AgentStatus is a point-in-time snapshot of one agent.
type AgentStatus struct {
	ID            string        `json:"id"`
	Type          AgentType     `json:"type"`
	State         AgentState    `json:"state"`
	QueueDepth    int           `json:"queue_depth"`
	QueueCapacity int           `json:"queue_capacity"`
	Processed     int64         `json:"messages_processed"`
	Errors        int64         `json:"errors"`
	AvgLatency    time.Duration `json:"avg_latency_ns"`
	LastError     string        `json:"last_error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
