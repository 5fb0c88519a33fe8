package dashboard

import (
	"encoding/json"
	"time"

	"github.com/codex-switch/supervisor/internal/autoswitch"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

// EventKind tags the payload carried by an Event envelope.
type EventKind string

const (
	EventTick    EventKind = "tick_result"
	EventProfile EventKind = "profile_snapshot"
	EventPing    EventKind = "ping"
)

// Event is the single JSON shape pushed down every dashboard stream,
// one object per line (newline-delimited JSON, not length-prefixed —
// yamux streams are already framed at the transport level).
type Event struct {
	Kind     EventKind         `json:"kind"`
	At       time.Time         `json:"at"`
	Tick     *TickPayload      `json:"tick,omitempty"`
	Profiles *profilestore.Root `json:"profiles,omitempty"`
}

// TickPayload mirrors autoswitch.TickResult for wire transport,
// dropping nothing: the GUI renders Action/Message/SwitchedTo exactly
// as the scheduler produced them.
type TickPayload struct {
	Action        autoswitch.Action       `json:"action"`
	Message       string                  `json:"message,omitempty"`
	SwitchedTo    string                  `json:"switched_to,omitempty"`
	ReloadTrigger bool                    `json:"reload_trigger,omitempty"`
	PendingReason autoswitch.PendingReason `json:"pending_reason"`
}

func tickEvent(now time.Time, r autoswitch.TickResult) Event {
	return Event{
		Kind: EventTick,
		At:   now,
		Tick: &TickPayload{
			Action:        r.Action,
			Message:       r.Message,
			SwitchedTo:    r.SwitchedTo,
			ReloadTrigger: r.ReloadTrigger,
			PendingReason: r.PendingReason,
		},
	}
}

func profileEvent(now time.Time, root profilestore.Root) Event {
	return Event{Kind: EventProfile, At: now, Profiles: &root}
}

func pingEvent(now time.Time) Event {
	return Event{Kind: EventPing, At: now}
}

func encodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
