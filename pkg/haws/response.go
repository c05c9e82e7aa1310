package haws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hearthctl/hearth/pkg/haws/transport"
)

// responseDelegate receives classified traffic from the response
// controller. The controller holds no owning reference back to the
// orchestrator; it only ever calls through this interface, outside its
// own lock.
type responseDelegate interface {
	phaseChanged(Phase)
	dispatchEvent(id uint64, event json.RawMessage)
	dispatchResult(id uint64, result json.RawMessage, err error)
}

// responseController parses inbound frames, classifies them and owns the
// session phase. It is the single writer of Phase; everyone else reads.
type responseController struct {
	logger   *slog.Logger
	delegate responseDelegate

	mu    sync.Mutex
	phase Phase
}

func newResponseController(logger *slog.Logger, delegate responseDelegate) *responseController {
	return &responseController{
		logger:   logger.With("component", "response"),
		delegate: delegate,
		phase:    Phase{Kind: PhaseDisconnected, ForReset: true},
	}
}

// Phase returns the current session phase.
func (rc *responseController) Phase() Phase {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.phase
}

// setPhase applies a transition and notifies the delegate. Redundant
// transitions (structurally equal phases) are dropped, which also makes
// the dual auth_required detection routes collapse into one transition.
func (rc *responseController) setPhase(next Phase) {
	rc.mu.Lock()
	if rc.phase.Equal(next) {
		rc.mu.Unlock()
		return
	}
	rc.phase = next
	rc.mu.Unlock()

	rc.delegate.phaseChanged(next)
}

// Reset forces the phase back to a clean disconnected state.
func (rc *responseController) Reset() {
	rc.setPhase(Phase{Kind: PhaseDisconnected, ForReset: true})
}

// Disconnected records a failure transition that should not be treated as
// a plain reset.
func (rc *responseController) Disconnected(err error) {
	rc.setPhase(Phase{Kind: PhaseDisconnected, Err: err})
}

// OnMessage handles one inbound transport frame. Malformed frames are
// logged and dropped; the session continues.
func (rc *responseController) OnMessage(msg transport.Message) {
	if msg.Type == transport.BinaryMessage {
		rc.logger.Error("unexpected binary frame", "bytes", len(msg.Data))
		return
	}

	if containsAuthRequired(msg.Text) {
		rc.setPhase(Phase{Kind: PhaseAuthenticating})
	}

	var sm serverMessage
	if err := json.Unmarshal([]byte(msg.Text), &sm); err != nil {
		rc.logger.Error("undecodable frame dropped", "error", err, "text", truncate(msg.Text, 200))
		return
	}

	switch sm.Type {
	case TypeAuthRequired:
		rc.setPhase(Phase{Kind: PhaseAuthenticating})

	case TypeAuthOK:
		rc.setPhase(Phase{Kind: PhaseCommand, ServerVersion: sm.HAVersion})

	case TypeAuthInvalid:
		rc.setPhase(Phase{Kind: PhaseDisconnected, Err: &AuthError{Message: sm.Message}})

	case TypeEvent:
		rc.delegate.dispatchEvent(sm.ID, sm.Event)

	case TypeResult:
		if sm.Success != nil && !*sm.Success {
			cmdErr := sm.Error
			if cmdErr == nil {
				cmdErr = &CommandError{Code: "unknown", Message: "command failed"}
			}
			rc.delegate.dispatchResult(sm.ID, nil, cmdErr)
			return
		}
		rc.delegate.dispatchResult(sm.ID, sm.Result, nil)

	case "pong":
		rc.delegate.dispatchResult(sm.ID, nil, nil)

	default:
		rc.logger.Debug("unhandled frame type dropped", "type", sm.Type, "id", sm.ID)
	}
}

// OnHTTPResponse routes a REST reply through the same delivery pipeline
// as WebSocket results, keyed by the identifier assigned at submit.
func (rc *responseController) OnHTTPResponse(id uint64, status int, contentType string, body []byte, err error) {
	if err != nil {
		rc.delegate.dispatchResult(id, nil, fmt.Errorf("haws: rest: %w", err))
		return
	}

	if status >= 400 {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = "Unacceptable status code"
		}
		rc.delegate.dispatchResult(id, nil, &CommandError{
			Code:    strconv.Itoa(status),
			Message: message,
		})
		return
	}

	if isJSONContentType(contentType) {
		raw := json.RawMessage(body)
		if len(body) == 0 {
			raw = json.RawMessage("null")
		} else if !json.Valid(body) {
			rc.delegate.dispatchResult(id, nil, fmt.Errorf("haws: rest: invalid JSON body"))
			return
		}
		rc.delegate.dispatchResult(id, raw, nil)
		return
	}

	// Non-JSON success bodies are delivered as a string value.
	quoted, merr := json.Marshal(string(body))
	if merr != nil {
		rc.delegate.dispatchResult(id, nil, fmt.Errorf("haws: rest: encode body: %w", merr))
		return
	}
	rc.delegate.dispatchResult(id, quoted, nil)
}

// isJSONContentType treats an absent content type as JSON; servers often
// omit it on fragment responses.
func isJSONContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
