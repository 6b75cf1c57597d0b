package domain

import (
	"encoding/json"
	"time"
)

// Step is one ordered stage of a workflow.
type Step string

const (
	StepIngest    Step = "ingest"
	StepAnalyze   Step = "analyze"
	StepSummarize Step = "summarize"
	StepIndex     Step = "index"
	StepDone      Step = "done"
)

var stepOrder = []Step{StepIngest, StepAnalyze, StepSummarize, StepIndex, StepDone}

// Index returns the position of s in the fixed step order, or -1.
func (s Step) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the step after s. StepDone is its own successor.
func (s Step) Next() Step {
	i := s.Index()
	if i < 0 || i+1 >= len(stepOrder) {
		return StepDone
	}
	return stepOrder[i+1]
}

// Before reports whether s comes strictly before other in the fixed order.
func (s Step) Before(other Step) bool {
	return s.Index() < other.Index()
}

// AgentType returns the agent type that owns the step.
func (s Step) AgentType() AgentType {
	switch s {
	case StepIngest:
		return AgentCurator
	case StepAnalyze:
		return AgentAnalyzer
	case StepSummarize:
		return AgentSummarizer
	case StepIndex:
		return AgentQuery
	default:
		return ""
	}
}

// RequestType is the message sent to dispatch the step.
func (s Step) RequestType() MessageType {
	switch s {
	case StepIngest:
		return MsgIngestRequest
	case StepAnalyze:
		return MsgAnalyzeRequest
	case StepSummarize:
		return MsgSummarizeRequest
	case StepIndex:
		return MsgIndexRequest
	default:
		return ""
	}
}

// ResultType is the message that completes the step.
func (s Step) ResultType() MessageType {
	switch s {
	case StepIngest:
		return MsgExtractResult
	case StepAnalyze:
		return MsgAnalyzeResult
	case StepSummarize:
		return MsgSummarizeResult
	case StepIndex:
		return MsgIndexResult
	default:
		return ""
	}
}

// Status is the workflow status while the step is in progress.
func (s Step) Status() WorkflowStatus {
	switch s {
	case StepIngest:
		return WorkflowIngesting
	case StepAnalyze:
		return WorkflowAnalyzing
	case StepSummarize:
		return WorkflowSummarizing
	case StepIndex:
		return WorkflowIndexing
	default:
		return WorkflowCompleted
	}
}

// StepForRequest maps a request message type back to its step.
func StepForRequest(t MessageType) (Step, bool) {
	for _, s := range stepOrder[:len(stepOrder)-1] {
		if s.RequestType() == t {
			return s, true
		}
	}
	return "", false
}

// StepForResult maps a result message type back to its step.
func StepForResult(t MessageType) (Step, bool) {
	for _, s := range stepOrder[:len(stepOrder)-1] {
		if s.ResultType() == t {
			return s, true
		}
	}
	return "", false
}

type WorkflowStatus string

const (
	WorkflowPending     WorkflowStatus = "pending"
	WorkflowIngesting   WorkflowStatus = "ingesting"
	WorkflowAnalyzing   WorkflowStatus = "analyzing"
	WorkflowSummarizing WorkflowStatus = "summarizing"
	WorkflowIndexing    WorkflowStatus = "indexing"
	WorkflowCompleted   WorkflowStatus = "completed"
	WorkflowFailed      WorkflowStatus = "failed"
)

func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// ErrorEntry records one failed attempt of a step.
type ErrorEntry struct {
	Agent       string    `json:"agent"`
	Step        Step      `json:"step"`
	Description string    `json:"description"`
	Attempt     int       `json:"attempt"`
	At          time.Time `json:"at"`
}

// Workflow is the per-document state machine record. Only the orchestrator
// mutates it; everyone else receives a Clone.
type Workflow struct {
	ID          string                   `json:"id"`
	DocumentID  string                   `json:"document_id"`
	Location    string                   `json:"location"`
	Status      WorkflowStatus           `json:"status"`
	CurrentStep Step                     `json:"current_step"`
	Results     map[Step]json.RawMessage `json:"results"`
	Errors      []ErrorEntry             `json:"errors"`
	Attempt     int                      `json:"attempt"`
	StartedAt   time.Time                `json:"started_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

func NewWorkflow(id, documentID, location string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:          id,
		DocumentID:  documentID,
		Location:    location,
		Status:      WorkflowPending,
		CurrentStep: StepIngest,
		Results:     make(map[Step]json.RawMessage),
		Errors:      make([]ErrorEntry, 0),
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// StepErrors counts the error entries recorded for step.
func (w *Workflow) StepErrors(step Step) int {
	n := 0
	for _, e := range w.Errors {
		if e.Step == step {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand out to readers.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Results = make(map[Step]json.RawMessage, len(w.Results))
	for k, v := range w.Results {
		out.Results[k] = append(json.RawMessage(nil), v...)
	}
	out.Errors = append([]ErrorEntry(nil), w.Errors...)
	if out.Errors == nil {
		out.Errors = make([]ErrorEntry, 0)
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
