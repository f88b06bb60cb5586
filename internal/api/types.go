package api

import (
	"encoding/json"
	"strconv"
)

// FlexID is an identifier the backend serializes either as a JSON string or
// as a bare number. It always decodes to its string form.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

func (f FlexID) String() string { return string(f) }

// Uint64 returns the numeric value when the id is decimal.
func (f FlexID) Uint64() (uint64, bool) {
	n, err := strconv.ParseUint(string(f), 10, 64)
	return n, err == nil
}

// CycleTriggerResponse is returned by the dialogue-event trigger endpoint.
type CycleTriggerResponse struct {
	CycleID        FlexID  `json:"cycle_id"`
	Status         string  `json:"status"`
	ManifestDigest *string `json:"manifest_digest,omitempty"`
}

// CycleOutcome summarizes one completed pass of a cycle.
type CycleOutcome struct {
	CycleID        FlexID  `json:"cycle_id"`
	Status         string  `json:"status"`
	ManifestDigest *string `json:"manifest_digest,omitempty"`
}

// CycleSchedule is the scheduling record inside a cycle snapshot. Fields the
// console only displays stay loosely typed.
type CycleSchedule struct {
	CycleID FlexID          `json:"cycle_id"`
	Lane    string          `json:"lane,omitempty"`
	Status  string          `json:"status,omitempty"`
	Budget  json.RawMessage `json:"budget,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CycleSnapshot is the authoritative state of one awareness cycle, read via
// the snapshot endpoint. outcomes[-1].status is the terminal status.
type CycleSnapshot struct {
	Schedule  CycleSchedule   `json:"schedule"`
	SyncPoint json.RawMessage `json:"sync_point,omitempty"`
	Outcomes  []CycleOutcome  `json:"outcomes,omitempty"`
	Outbox    []OutboxMessage `json:"outbox,omitempty"`
}

// TerminalStatus returns the status of the last outcome, falling back to
// the schedule status when no outcomes have been recorded.
func (s *CycleSnapshot) TerminalStatus() string {
	if n := len(s.Outcomes); n > 0 {
		return s.Outcomes[n-1].Status
	}
	return s.Schedule.Status
}

// OutboxMessage is one message produced by a completed cycle.
type OutboxMessage struct {
	MessageID FlexID          `json:"message_id"`
	Channel   string          `json:"channel,omitempty"`
	Content   string          `json:"content,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// TimelineQuery filters the dialogue timeline.
type TimelineQuery struct {
	SessionID string `json:"session_id,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
	Since     int64  `json:"since,omitempty"` // unix ms
	Limit     int    `json:"limit,omitempty"`
}

// TimelinePayload is a page of dialogue and awareness events.
type TimelinePayload struct {
	Items      []json.RawMessage `json:"items"`
	Awareness  []json.RawMessage `json:"awareness,omitempty"`
	NextCursor *string           `json:"next_cursor,omitempty"`
}

// ContextBundle is the assembled context for the active session. Rendering
// is out of scope, so the payload stays raw.
type ContextBundle struct {
	Manifest json.RawMessage `json:"context_manifest,omitempty"`
	Sections json.RawMessage `json:"sections,omitempty"`
	Digest   string          `json:"digest,omitempty"`
}

// ExplainIndices reports which indices served the current context.
type ExplainIndices struct {
	Indices []string        `json:"indices,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Meta carries envelope-level response metadata.
type Meta struct {
	TraceID    string
	DurationMs uint64
	Status     int
}

// envelope is the generic {success, data, error, trace_id} wrapper every
// backend response arrives in.
type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      *ErrorBody      `json:"error"`
	TraceID    *string         `json:"trace_id"`
	DurationMs *uint64         `json:"duration_ms"`
}
