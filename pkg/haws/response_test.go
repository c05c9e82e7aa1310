package haws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/hearthctl/hearth/pkg/haws/transport"
)

// recordingDelegate captures everything the response controller emits.
type recordingDelegate struct {
	mu      sync.Mutex
	phases  []Phase
	events  []uint64
	results map[uint64]callResult
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{results: make(map[uint64]callResult)}
}

func (d *recordingDelegate) phaseChanged(p Phase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phases = append(d.phases, p)
}

func (d *recordingDelegate) dispatchEvent(id uint64, event json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, id)
}

func (d *recordingDelegate) dispatchResult(id uint64, result json.RawMessage, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[id] = callResult{result: result, err: err}
}

func textFrame(s string) transport.Message {
	return transport.Message{Type: transport.TextMessage, Text: s}
}

func newTestResponseController() (*responseController, *recordingDelegate) {
	d := newRecordingDelegate()
	return newResponseController(slog.Default(), d), d
}

func TestAuthHandshakePhases(t *testing.T) {
	rc, d := newTestResponseController()

	if p := rc.Phase(); p.Kind != PhaseDisconnected || !p.ForReset {
		t.Fatalf("initial phase = %v; want disconnected for reset", p)
	}

	rc.OnMessage(textFrame(`{"type":"auth_required","ha_version":"2024.1"}`))
	if p := rc.Phase(); p.Kind != PhaseAuthenticating {
		t.Fatalf("after auth_required: phase = %v; want authenticating", p)
	}

	rc.OnMessage(textFrame(`{"type":"auth_ok","ha_version":"2024.1"}`))
	p := rc.Phase()
	if p.Kind != PhaseCommand || p.ServerVersion != "2024.1" {
		t.Fatalf("after auth_ok: phase = %v; want command(2024.1)", p)
	}

	// Both detection routes (substring and parsed type) collapse into a
	// single authenticating transition.
	if len(d.phases) != 2 {
		t.Errorf("phase transitions = %d; want 2 (authenticating, command)", len(d.phases))
	}
}

func TestAuthInvalid(t *testing.T) {
	rc, _ := newTestResponseController()

	rc.OnMessage(textFrame(`{"type":"auth_required"}`))
	rc.OnMessage(textFrame(`{"type":"auth_invalid","message":"bad"}`))

	p := rc.Phase()
	if p.Kind != PhaseDisconnected || p.ForReset {
		t.Fatalf("after auth_invalid: phase = %v; want disconnected (not for reset)", p)
	}
	var authErr *AuthError
	if !errors.As(p.Err, &authErr) || authErr.Message != "bad" {
		t.Errorf("phase error = %v; want AuthError(bad)", p.Err)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	rc, d := newTestResponseController()

	rc.OnMessage(textFrame(`{not json`))
	rc.OnMessage(transport.Message{Type: transport.BinaryMessage, Data: []byte{1, 2, 3}})
	rc.OnMessage(textFrame(`{"type":"mystery"}`))

	if len(d.phases) != 0 || len(d.events) != 0 || len(d.results) != 0 {
		t.Error("malformed and unknown frames must be dropped without dispatch")
	}
	if p := rc.Phase(); p.Kind != PhaseDisconnected {
		t.Errorf("phase = %v; want unchanged disconnected", p)
	}
}

func TestSubstringAuthDetectionOnUnparsableFrame(t *testing.T) {
	rc, d := newTestResponseController()

	// The raw text fast path still fires when the frame fails to parse.
	rc.OnMessage(textFrame(`garbage auth_required garbage`))
	if p := rc.Phase(); p.Kind != PhaseAuthenticating {
		t.Fatalf("phase = %v; want authenticating via substring detection", p)
	}
	if len(d.phases) != 1 {
		t.Errorf("transitions = %d; want exactly 1", len(d.phases))
	}
}

func TestResultClassification(t *testing.T) {
	rc, d := newTestResponseController()

	rc.OnMessage(textFrame(`{"id":7,"type":"result","success":true,"result":[1,2]}`))
	res, ok := d.results[7]
	if !ok {
		t.Fatal("success result not dispatched")
	}
	if res.err != nil || string(res.result) != "[1,2]" {
		t.Errorf("result = %q err = %v; want [1,2], nil", res.result, res.err)
	}

	rc.OnMessage(textFrame(`{"id":8,"type":"result","success":false,"error":{"code":"not_found","message":"nope"}}`))
	res, ok = d.results[8]
	if !ok {
		t.Fatal("failure result not dispatched")
	}
	var cmdErr *CommandError
	if !errors.As(res.err, &cmdErr) || cmdErr.Code != "not_found" {
		t.Errorf("error = %v; want CommandError(not_found)", res.err)
	}

	rc.OnMessage(textFrame(`{"id":9,"type":"event","event":{"event_type":"state_changed"}}`))
	if len(d.events) != 1 || d.events[0] != 9 {
		t.Errorf("events = %v; want [9]", d.events)
	}
}

func TestHTTPResponseMapping(t *testing.T) {
	rc, d := newTestResponseController()

	// Status >= 400 maps to a command error carrying the status code.
	rc.OnHTTPResponse(1, 401, "text/plain", []byte("nope"), nil)
	res := d.results[1]
	var cmdErr *CommandError
	if !errors.As(res.err, &cmdErr) || cmdErr.Code != "401" || cmdErr.Message != "nope" {
		t.Errorf("401 result = %v; want CommandError(401, nope)", res.err)
	}

	rc.OnHTTPResponse(2, 500, "", nil, nil)
	res = d.results[2]
	if !errors.As(res.err, &cmdErr) || cmdErr.Message != "Unacceptable status code" {
		t.Errorf("empty body error = %v; want placeholder message", res.err)
	}

	// JSON success, including fragments.
	rc.OnHTTPResponse(3, 200, "application/json", []byte(`{"ok":true}`), nil)
	if res = d.results[3]; res.err != nil || string(res.result) != `{"ok":true}` {
		t.Errorf("json result = %q err = %v", res.result, res.err)
	}
	rc.OnHTTPResponse(4, 200, "", []byte(`5`), nil)
	if res = d.results[4]; res.err != nil || string(res.result) != `5` {
		t.Errorf("fragment result = %q err = %v", res.result, res.err)
	}

	// Non-JSON success delivers the body as a string value.
	rc.OnHTTPResponse(5, 200, "text/plain", []byte("hello"), nil)
	if res = d.results[5]; res.err != nil || string(res.result) != `"hello"` {
		t.Errorf("text result = %q err = %v", res.result, res.err)
	}

	// Transport failure wraps the underlying error.
	underlying := errors.New("connection refused")
	rc.OnHTTPResponse(6, 0, "", nil, underlying)
	if res = d.results[6]; !errors.Is(res.err, underlying) {
		t.Errorf("transport failure = %v; want wrapped %v", res.err, underlying)
	}
}

func TestPhaseEquality(t *testing.T) {
	authA := Phase{Kind: PhaseDisconnected, Err: &AuthError{Message: "bad"}}
	authB := Phase{Kind: PhaseDisconnected, Err: &AuthError{Message: "bad"}}
	if !authA.Equal(authB) {
		t.Error("structurally identical disconnect phases must compare equal")
	}

	authC := Phase{Kind: PhaseDisconnected, Err: &AuthError{Message: "other"}}
	if authA.Equal(authC) {
		t.Error("different auth messages must not compare equal")
	}

	reset := Phase{Kind: PhaseDisconnected, ForReset: true}
	if authA.Equal(reset) {
		t.Error("for-reset flag must participate in equality")
	}

	cmdA := Phase{Kind: PhaseCommand, ServerVersion: "1"}
	cmdB := Phase{Kind: PhaseCommand, ServerVersion: "2"}
	if cmdA.Equal(cmdB) {
		t.Error("server version must participate in equality")
	}
}

func TestResetDeduplicated(t *testing.T) {
	rc, d := newTestResponseController()

	rc.Reset()
	rc.Reset()
	if len(d.phases) != 0 {
		t.Errorf("redundant resets emitted %d transitions; want 0", len(d.phases))
	}

	rc.OnMessage(textFrame(`{"type":"auth_required"}`))
	rc.Reset()
	rc.Reset()
	if len(d.phases) != 2 {
		t.Errorf("transitions = %d; want 2 (authenticating, disconnected)", len(d.phases))
	}
}
