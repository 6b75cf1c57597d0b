package domain

import "errors"

var (
	ErrDuplicateAgent      = errors.New("agent already registered")
	ErrUnknownRecipient    = errors.New("unknown recipient")
	ErrQueueFull           = errors.New("queue full")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrAgentStopped        = errors.New("agent stopped")
	ErrNoAgentForType      = errors.New("no agent registered for type")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrUnsupportedDocument = errors.New("unsupported document")
	ErrInvalidPayload      = errors.New("invalid payload")
)
