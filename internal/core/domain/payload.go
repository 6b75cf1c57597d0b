package domain

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StepRequest is the decoded body of an ingest/analyze/summarize/index request.
type StepRequest struct {
	WorkflowID string
	DocumentID string
	Location   string
	Attempt    int

	raw gjson.Result
}

// Previous returns the result an earlier step produced, as carried in previous_results.
func (r StepRequest) Previous(step Step) gjson.Result {
	return r.raw.Get("previous_results." + string(step))
}

func ParseStepRequest(payload Data) (StepRequest, error) {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return StepRequest{}, fmt.Errorf("%w: not a JSON object", ErrInvalidPayload)
	}
	raw := gjson.ParseBytes(payload)
	if !raw.IsObject() {
		return StepRequest{}, fmt.Errorf("%w: not a JSON object", ErrInvalidPayload)
	}
	req := StepRequest{
		WorkflowID: raw.Get("workflow_id").String(),
		DocumentID: raw.Get("document_id").String(),
		Location:   raw.Get("location").String(),
		Attempt:    int(raw.Get("attempt").Int()),
		raw:        raw,
	}
	if req.WorkflowID == "" {
		return StepRequest{}, fmt.Errorf("%w: missing workflow_id", ErrInvalidPayload)
	}
	return req, nil
}

// BuildStepRequest renders the request for the workflow's current step, carrying every
// result gathered so far.
func BuildStepRequest(w *Workflow) (Data, error) {
	out := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}
	set("workflow_id", w.ID)
	set("document_id", w.DocumentID)
	set("location", w.Location)
	set("attempt", w.Attempt)
	if err == nil {
		out, err = sjson.SetRawBytes(out, "previous_results", []byte(`{}`))
	}
	for _, step := range stepOrder {
		res, ok := w.Results[step]
		if !ok || err != nil {
			continue
		}
		out, err = sjson.SetRawBytes(out, "previous_results."+string(step), res)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s request for %s: %w", w.CurrentStep, w.ID, err)
	}
	return out, nil
}

// ParseErrorPayload reads an error-typed message body. Missing fields stay empty.
func ParseErrorPayload(payload Data) ErrorPayload {
	raw := gjson.ParseBytes(payload)
	return ErrorPayload{
		Error:             raw.Get("error").String(),
		OriginalMessageID: raw.Get("original_message_id").String(),
		OriginalType:      MessageType(raw.Get("original_type").String()),
		AgentID:           raw.Get("agent_id").String(),
	}
}
