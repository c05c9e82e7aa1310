package haws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// frameRecorder implements commandWriter and remembers every frame.
type frameRecorder struct {
	mu     sync.Mutex
	frames []map[string]any
	err    error
}

func (w *frameRecorder) writeFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		return err
	}
	w.frames = append(w.frames, m)
	return nil
}

func (w *frameRecorder) ids(t *testing.T) []uint64 {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint64, 0, len(w.frames))
	for _, f := range w.frames {
		id, ok := f["id"].(float64)
		if !ok {
			t.Fatalf("frame without id: %v", f)
		}
		out = append(out, uint64(id))
	}
	return out
}

func (w *frameRecorder) types() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.frames))
	for _, f := range w.frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func newTestController() (*controller, *frameRecorder) {
	w := &frameRecorder{}
	return newController(slog.Default(), w), w
}

func waitResult(t *testing.T, ps *pendingSingle) callResult {
	t.Helper()
	select {
	case res := <-ps.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return callResult{}
	}
}

func TestUniqueMonotonicIDs(t *testing.T) {
	c, w := newTestController()
	c.prepare()

	for i := 0; i < 5; i++ {
		c.submitSingle(Request{Type: TypePing})
	}

	seen := make(map[uint64]bool)
	last := uint64(0)
	for _, id := range w.ids(t) {
		if seen[id] {
			t.Fatalf("identifier %d written twice", id)
		}
		seen[id] = true
		if id <= last {
			t.Fatalf("identifier %d not monotonic after %d", id, last)
		}
		last = id
	}
}

func TestQueuedUntilCommandPhase(t *testing.T) {
	c, w := newTestController()

	ps := c.submitSingle(Request{Type: TypeGetStates})
	if len(w.ids(t)) != 0 {
		t.Fatal("request written before command phase")
	}

	c.prepare()
	ids := w.ids(t)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("flushed ids = %v; want [1]", ids)
	}

	c.resolveResult(1, json.RawMessage(`[]`), nil)
	res := waitResult(t, ps)
	if res.err != nil || string(res.result) != "[]" {
		t.Errorf("result = %q err = %v; want [], nil", res.result, res.err)
	}
}

func TestAtMostOnceResolution(t *testing.T) {
	c, _ := newTestController()
	c.prepare()

	ps := c.submitSingle(Request{Type: TypePing})
	c.resolveResult(ps.id, json.RawMessage(`1`), nil)
	c.resolveResult(ps.id, json.RawMessage(`2`), nil)

	res := waitResult(t, ps)
	if string(res.result) != "1" {
		t.Errorf("first delivery = %q; want 1", res.result)
	}
	select {
	case extra := <-ps.ch:
		t.Errorf("second delivery observed: %q", extra.result)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResubscribeAfterReconnect(t *testing.T) {
	c, w := newTestController()
	c.prepare()

	var mu sync.Mutex
	var got []string
	sub := c.submitSubscription(Request{
		Type:    TypeSubscribeEvents,
		Payload: map[string]any{"event_type": "state_changed"},
	}, func(ev json.RawMessage) {
		mu.Lock()
		got = append(got, string(ev))
		mu.Unlock()
	})

	firstID := w.ids(t)[0]
	c.deliverEvent(firstID, json.RawMessage(`"one"`))

	// Transport drops and comes back.
	c.resetActive()
	c.prepare()

	ids := w.ids(t)
	if len(ids) != 2 {
		t.Fatalf("frames written = %d; want 2 (subscribe, resubscribe)", len(ids))
	}
	secondID := ids[1]
	if secondID <= firstID {
		t.Fatalf("resubscribe id %d not fresh after %d", secondID, firstID)
	}

	// Events for the old identifier are dropped; the new one reaches the
	// same sink.
	c.deliverEvent(firstID, json.RawMessage(`"stale"`))
	c.deliverEvent(secondID, json.RawMessage(`"two"`))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for events")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != `"one"` || got[1] != `"two"` {
		t.Errorf("events = %v; want [\"one\" \"two\"]", got)
	}
	select {
	case <-sub.Done():
		t.Error("subscription terminated by reconnect")
	default:
	}
}

func TestResetActiveFailsNonRetriableSingles(t *testing.T) {
	c, _ := newTestController()
	c.prepare()

	plain := c.submitSingle(Request{Type: TypeCallService})
	retriable := c.submitSingle(Request{Type: TypeGetStates, Retry: true})

	c.resetActive()

	res := waitResult(t, plain)
	if !errors.Is(res.err, ErrDisconnected) {
		t.Errorf("non-retriable single error = %v; want ErrDisconnected", res.err)
	}

	// The retriable single replays on the next prepare.
	c.prepare()
	c.resolveResult(retriable.id, json.RawMessage(`"ok"`), nil)
	res = waitResult(t, retriable)
	if res.err != nil || string(res.result) != `"ok"` {
		t.Errorf("retried single = %q err = %v", res.result, res.err)
	}
}

func TestRESTPendingSurvivesTransportDrop(t *testing.T) {
	c, _ := newTestController()
	c.prepare()

	ps := c.registerREST()
	c.resetActive()

	select {
	case res := <-ps.ch:
		t.Fatalf("REST pending failed by transport drop: %v", res.err)
	case <-time.After(50 * time.Millisecond):
	}

	c.resolveResult(ps.id, json.RawMessage(`"late"`), nil)
	if res := waitResult(t, ps); string(res.result) != `"late"` {
		t.Errorf("REST result = %q; want late", res.result)
	}
}

func TestCancelAll(t *testing.T) {
	c, _ := newTestController()

	queued := c.submitSingle(Request{Type: TypeGetStates})
	sub := c.submitSubscription(Request{Type: TypeSubscribeEvents}, func(json.RawMessage) {})
	c.prepare()
	inflight := c.submitSingle(Request{Type: TypePing})

	c.cancelAll()

	for _, ps := range []*pendingSingle{queued, inflight} {
		if res := waitResult(t, ps); !errors.Is(res.err, ErrCancelled) {
			t.Errorf("single error = %v; want ErrCancelled", res.err)
		}
	}

	select {
	case <-sub.Done():
		if !errors.Is(sub.Err(), ErrCancelled) {
			t.Errorf("subscription error = %v; want ErrCancelled", sub.Err())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated by cancelAll")
	}
}

func TestCancelSubscriptionSendsUnsubscribe(t *testing.T) {
	c, w := newTestController()
	c.prepare()

	sub := c.submitSubscription(Request{Type: TypeSubscribeEvents}, func(json.RawMessage) {})
	subID := w.ids(t)[0]

	sub.Cancel()

	types := w.types()
	if len(types) != 2 || types[1] != TypeUnsubscribe {
		t.Fatalf("frames = %v; want subscribe then unsubscribe", types)
	}
	w.mu.Lock()
	target := w.frames[1]["subscription"].(float64)
	w.mu.Unlock()
	if uint64(target) != subID {
		t.Errorf("unsubscribe targets %v; want %d", target, subID)
	}

	if !errors.Is(sub.Err(), ErrCancelled) {
		t.Errorf("cancelled subscription error = %v; want ErrCancelled", sub.Err())
	}

	// Events after cancel are discarded.
	c.deliverEvent(subID, json.RawMessage(`"late"`))
}

func TestCancelDormantSubscriptionSkipsUnsubscribe(t *testing.T) {
	c, w := newTestController()

	sub := c.submitSubscription(Request{Type: TypeSubscribeEvents}, func(json.RawMessage) {})
	sub.Cancel()

	c.prepare()
	if n := len(w.ids(t)); n != 0 {
		t.Errorf("frames after cancelling dormant subscription = %d; want 0", n)
	}
}

func TestAbandonedSingleDropsLateResult(t *testing.T) {
	c, _ := newTestController()
	c.prepare()

	ps := c.submitSingle(Request{Type: TypePing})
	c.abandon(ps)
	c.resolveResult(ps.id, json.RawMessage(`"late"`), nil)

	select {
	case res := <-ps.ch:
		t.Errorf("late delivery observed: %q", res.result)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIdentifierSpaceResetsPerSession(t *testing.T) {
	c, w := newTestController()
	c.prepare()
	c.submitSingle(Request{Type: TypePing})
	c.resetActive()

	c.reset()
	c.prepare()
	c.submitSingle(Request{Type: TypePing})

	ids := w.ids(t)
	if ids[len(ids)-1] != 1 {
		t.Errorf("first id of new session = %d; want 1", ids[len(ids)-1])
	}
}
