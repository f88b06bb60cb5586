package cycle

import (
	"encoding/json"
	"strings"

	"github.com/soulseed/acectl/internal/sse"
)

// eventKind is the closed set of stream events the runner interprets.
// Everything the backend may add later lands in evOther and is ignored.
type eventKind int

const (
	evOther eventKind = iota
	evPending
	evComplete
	evTimeout
	evProgress
)

type streamEvent struct {
	kind eventKind
	name string
	data string
}

func classify(m sse.Message) streamEvent {
	name := strings.ToLower(strings.TrimSpace(m.Event))
	ev := streamEvent{name: name, data: m.Data}
	switch name {
	case "pending":
		ev.kind = evPending
	case "complete", "completed":
		ev.kind = evComplete
	case "timeout":
		ev.kind = evTimeout
	case "", "progress", "message":
		ev.kind = evProgress
	default:
		ev.kind = evOther
	}
	return ev
}

// completePayload is the slice of the complete-event body the runner needs:
// the recorded outcomes and the schedule status fallback.
type completePayload struct {
	Outcomes []struct {
		Status         string  `json:"status"`
		ManifestDigest *string `json:"manifest_digest"`
	} `json:"outcomes"`
	Schedule struct {
		Status string `json:"status"`
	} `json:"schedule"`
}

// terminalStatus extracts the final cycle status from a complete event
// payload: the last outcome's status, then the schedule status, then
// "completed" when the payload carries neither (or is not JSON at all).
func terminalStatus(data string) (string, *string) {
	var p completePayload
	if err := json.Unmarshal([]byte(data), &p); err == nil {
		if n := len(p.Outcomes); n > 0 && p.Outcomes[n-1].Status != "" {
			return p.Outcomes[n-1].Status, p.Outcomes[n-1].ManifestDigest
		}
		if p.Schedule.Status != "" {
			return p.Schedule.Status, nil
		}
	}
	return "completed", nil
}
