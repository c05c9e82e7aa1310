// Package haws is a client for the Home Assistant WebSocket API: a
// long-lived authenticated JSON session with request/response commands,
// server-pushed event subscriptions, and REST calls sharing the same
// credentials. The Client reconnects automatically and re-subscribes
// after a drop, so callers see one continuous stream of events.
package haws

import (
	"encoding/json"
	"strings"
)

// Command type strings defined by the server protocol. The set is open;
// callers may send any type the server understands.
const (
	TypeAuth             = "auth"
	TypeAuthRequired     = "auth_required"
	TypeAuthOK           = "auth_ok"
	TypeAuthInvalid      = "auth_invalid"
	TypeEvent            = "event"
	TypeResult           = "result"
	TypeSubscribeEvents  = "subscribe_events"
	TypeSubscribeTrigger = "subscribe_trigger"
	TypeUnsubscribe      = "unsubscribe_events"
	TypeGetStates        = "get_states"
	TypeGetConfig        = "get_config"
	TypeCallService      = "call_service"
	TypePing             = "ping"
	TypeRenderTemplate   = "render_template"
)

// Request is one command to be written to the wire. Payload keys are
// merged next to the id and type fields of the outgoing frame.
type Request struct {
	Type    string
	Payload map[string]any

	// Retry marks the request as safe to replay after a reconnect.
	// Subscriptions always replay; auth is managed by the session itself.
	Retry bool
}

// encode renders the outgoing frame for an assigned identifier.
func (r Request) encode(id uint64) ([]byte, error) {
	frame := make(map[string]any, len(r.Payload)+2)
	for k, v := range r.Payload {
		frame[k] = v
	}
	frame["id"] = id
	frame["type"] = r.Type
	return json.Marshal(frame)
}

// serverMessage is the decoded shape of one inbound frame. The type field
// selects which of the remaining fields are meaningful.
type serverMessage struct {
	ID        uint64          `json:"id"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success"`
	Result    json.RawMessage `json:"result"`
	Error     *CommandError   `json:"error"`
	Event     json.RawMessage `json:"event"`
	HAVersion string          `json:"ha_version"`
	Message   string          `json:"message"`
}

// containsAuthRequired is the raw-text fast path for handshake detection;
// the parsed type is checked as well and both routes transition at most
// once.
func containsAuthRequired(text string) bool {
	return strings.Contains(text, TypeAuthRequired)
}

// PhaseKind enumerates the coarse session states.
type PhaseKind int

const (
	// PhaseDisconnected means no usable transport. Err carries the cause;
	// ForReset distinguishes a plain reset from a failure transition.
	PhaseDisconnected PhaseKind = iota
	// PhaseAuthenticating means the server asked for credentials.
	PhaseAuthenticating
	// PhaseCommand means the handshake completed; commands may be sent.
	PhaseCommand
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Phase is the session state observed by callers. Outbound non-auth frames
// are permitted only in PhaseCommand.
type Phase struct {
	Kind PhaseKind

	// ServerVersion is set in PhaseCommand.
	ServerVersion string

	// Err and ForReset are set in PhaseDisconnected.
	Err      error
	ForReset bool
}

// Equal compares phases structurally; disconnect errors compare by kind
// and message rather than identity.
func (p Phase) Equal(other Phase) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case PhaseCommand:
		return p.ServerVersion == other.ServerVersion
	case PhaseDisconnected:
		return p.ForReset == other.ForReset && errorKind(p.Err) == errorKind(other.Err)
	default:
		return true
	}
}

func (p Phase) String() string {
	switch p.Kind {
	case PhaseCommand:
		return "command(" + p.ServerVersion + ")"
	case PhaseDisconnected:
		if p.Err != nil {
			return "disconnected(" + p.Err.Error() + ")"
		}
		return "disconnected"
	default:
		return p.Kind.String()
	}
}
