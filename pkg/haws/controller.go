package haws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// EventHandler receives subscription event payloads, in wire order, on a
// dispatch goroutine owned by the subscription. It must not block forever.
type EventHandler func(event json.RawMessage)

// commandWriter is how the controller hands encoded frames to whoever owns
// the transport. Implemented by Client.
type commandWriter interface {
	writeFrame(frame []byte) error
}

// callResult is the one-shot outcome of a single.
type callResult struct {
	result json.RawMessage
	err    error
}

type singleKind int

const (
	singleWS singleKind = iota
	// singleREST pendings are transport-independent: a WebSocket drop must
	// not fail them, only a permanent disconnect does.
	singleREST
)

// pendingSingle owns one identifier until its single result is delivered.
type pendingSingle struct {
	id    uint64
	req   Request
	kind  singleKind
	ch    chan callResult // buffered 1; written exactly once
	dead  bool            // guarded by controller.mu; set once delivered or abandoned
	retry bool
}

// deliver resolves the single. Callers must have removed it from the maps
// under the controller lock first; dead guards the exactly-once contract.
func (p *pendingSingle) deliver(res callResult) {
	p.ch <- res
}

// Subscription is a long-lived server push registration. It survives
// reconnects under fresh identifiers while keeping the same handler, and
// ends on Cancel, on a terminal server result, or on permanent disconnect.
type Subscription struct {
	ctrl    *controller
	req     Request
	handler EventHandler

	events chan json.RawMessage

	completeOnce sync.Once
	done         chan struct{}
	err          error

	mu        sync.Mutex
	cancelled bool

	// id is the current wire identifier; 0 while dormant. Guarded by ctrl.mu.
	id uint64
}

// Done is closed when the subscription has terminated.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error after Done is closed. Nil means the
// server completed the subscription cleanly.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Cancel drops the subscription. Event delivery stops immediately; the
// unsubscribe command is sent best-effort when the session is connected.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()

	s.ctrl.cancelSubscription(s)
	s.complete(ErrCancelled)
}

func (s *Subscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Subscription) complete(err error) {
	s.completeOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// dispatch invokes the handler for queued events, preserving wire order.
// It never runs under controller locks.
func (s *Subscription) dispatch() {
	for {
		select {
		case ev := <-s.events:
			if s.isCancelled() {
				return
			}
			s.handler(ev)
		case <-s.done:
			return
		}
	}
}

// push enqueues one event, giving up if the subscription terminates while
// the buffer is full.
func (s *Subscription) push(ev json.RawMessage) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// controller allocates identifiers and tracks every in-flight single and
// subscription. Each identifier written to the wire has exactly one owner
// here; each owner is resolved at most once.
type controller struct {
	logger *slog.Logger
	writer commandWriter

	mu      sync.Mutex
	nextID  uint64
	active  bool // command phase reached; gate for submissions
	pending map[uint64]*pendingSingle
	subs    map[uint64]*Subscription
	dormant []*Subscription // registered but not currently on the wire
	queued  []*pendingSingle
}

func newController(logger *slog.Logger, writer commandWriter) *controller {
	return &controller{
		logger:  logger.With("component", "controller"),
		writer:  writer,
		pending: make(map[uint64]*pendingSingle),
		subs:    make(map[uint64]*Subscription),
	}
}

// reset starts a fresh identifier space at session start. Identifiers
// still owned (REST calls in flight) are skipped so none is reused.
func (c *controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID = 0
	for id := range c.pending {
		if id > c.nextID {
			c.nextID = id
		}
	}
}

// allocate returns the next identifier. Monotonic; never reused within a
// session.
func (c *controller) allocate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocateLocked()
}

func (c *controller) allocateLocked() uint64 {
	c.nextID++
	return c.nextID
}

// submitSingle registers a single-result command. In the command phase it
// is written immediately; otherwise it queues until prepare.
func (c *controller) submitSingle(req Request) *pendingSingle {
	ps := &pendingSingle{
		req:   req,
		kind:  singleWS,
		ch:    make(chan callResult, 1),
		retry: req.Retry,
	}

	c.mu.Lock()
	if !c.active {
		c.queued = append(c.queued, ps)
		c.mu.Unlock()
		return ps
	}
	ps.id = c.allocateLocked()
	c.pending[ps.id] = ps
	c.mu.Unlock()

	c.writeSingle(ps)
	return ps
}

// registerREST reserves an identifier for a REST call so its reply can be
// routed through the shared delivery pipeline.
func (c *controller) registerREST() *pendingSingle {
	ps := &pendingSingle{
		kind: singleREST,
		ch:   make(chan callResult, 1),
	}

	c.mu.Lock()
	ps.id = c.allocateLocked()
	c.pending[ps.id] = ps
	c.mu.Unlock()
	return ps
}

// submitSubscription registers a subscription and, in the command phase,
// writes it immediately.
func (c *controller) submitSubscription(req Request, handler EventHandler) *Subscription {
	sub := &Subscription{
		ctrl:    c,
		req:     req,
		handler: handler,
		events:  make(chan json.RawMessage, 128),
		done:    make(chan struct{}),
	}
	go sub.dispatch()

	c.mu.Lock()
	if !c.active {
		c.dormant = append(c.dormant, sub)
		c.mu.Unlock()
		return sub
	}
	sub.id = c.allocateLocked()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.writeSubscribe(sub, sub.id)
	return sub
}

// resolveResult delivers a result to its owner: singles resolve and die;
// for subscriptions the result is terminal (success means unsubscribed).
func (c *controller) resolveResult(id uint64, result json.RawMessage, err error) {
	c.mu.Lock()
	if ps, ok := c.pending[id]; ok {
		delete(c.pending, id)
		ps.dead = true
		c.mu.Unlock()
		ps.deliver(callResult{result: result, err: err})
		return
	}
	if sub, ok := c.subs[id]; ok {
		delete(c.subs, id)
		sub.id = 0
		c.mu.Unlock()
		sub.complete(err)
		return
	}
	c.mu.Unlock()
	c.logger.Debug("result for unknown id dropped", "id", id)
}

// deliverEvent routes an event payload to its subscription. Events for
// unknown identifiers (stale after a reconnect, or cancelled) are dropped.
func (c *controller) deliverEvent(id uint64, event json.RawMessage) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("event for unknown id dropped", "id", id)
		return
	}
	if sub.isCancelled() {
		return
	}
	sub.push(event)
}

// prepare flushes queued singles and re-submits every registered
// subscription under freshly allocated identifiers. Invoked on entering
// the command phase, before any further frame is read, so no event can
// arrive for an identifier that is not yet registered.
func (c *controller) prepare() {
	c.mu.Lock()
	c.active = true

	flush := c.queued
	c.queued = nil
	for _, ps := range flush {
		ps.id = c.allocateLocked()
		c.pending[ps.id] = ps
	}

	resub := make([]*Subscription, 0, len(c.subs)+len(c.dormant))
	for id, sub := range c.subs {
		delete(c.subs, id)
		resub = append(resub, sub)
	}
	resub = append(resub, c.dormant...)
	c.dormant = nil

	type wireSub struct {
		sub *Subscription
		id  uint64
	}
	wired := make([]wireSub, 0, len(resub))
	for _, sub := range resub {
		if sub.isCancelled() {
			continue
		}
		id := c.allocateLocked()
		sub.id = id
		c.subs[id] = sub
		wired = append(wired, wireSub{sub: sub, id: id})
	}
	c.mu.Unlock()

	for _, ps := range flush {
		c.writeSingle(ps)
	}
	for _, w := range wired {
		c.writeSubscribe(w.sub, w.id)
	}
}

// resetActive is invoked on leaving the command phase. Retriable singles
// go back to the queue; the rest fail with ErrDisconnected. Subscriptions
// stay registered, their wire identifiers invalidated, awaiting prepare.
// REST pendings are untouched: their replies do not ride the transport.
func (c *controller) resetActive() {
	c.mu.Lock()
	c.active = false

	var failed []*pendingSingle
	for id, ps := range c.pending {
		if ps.kind == singleREST {
			continue
		}
		delete(c.pending, id)
		if ps.retry {
			ps.id = 0
			c.queued = append(c.queued, ps)
			continue
		}
		ps.dead = true
		failed = append(failed, ps)
	}

	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.id = 0
		c.dormant = append(c.dormant, sub)
	}
	c.mu.Unlock()

	for _, ps := range failed {
		ps.deliver(callResult{err: ErrDisconnected})
	}
}

// cancelAll fails every owner with ErrCancelled. Invoked on permanent
// disconnect.
func (c *controller) cancelAll() {
	c.mu.Lock()
	c.active = false

	var singles []*pendingSingle
	for id, ps := range c.pending {
		delete(c.pending, id)
		ps.dead = true
		singles = append(singles, ps)
	}
	for _, ps := range c.queued {
		ps.dead = true
		singles = append(singles, ps)
	}
	c.queued = nil

	var subs []*Subscription
	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.id = 0
		subs = append(subs, sub)
	}
	subs = append(subs, c.dormant...)
	c.dormant = nil
	c.mu.Unlock()

	for _, ps := range singles {
		ps.deliver(callResult{err: ErrCancelled})
	}
	for _, sub := range subs {
		sub.complete(ErrCancelled)
	}
}

// abandon withdraws a single whose caller stopped waiting. Late results
// for its identifier are dropped as unknown.
func (c *controller) abandon(ps *pendingSingle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ps.dead {
		return
	}
	ps.dead = true
	if ps.id != 0 {
		delete(c.pending, ps.id)
		return
	}
	for i, q := range c.queued {
		if q == ps {
			c.queued = append(c.queued[:i], c.queued[i+1:]...)
			return
		}
	}
}

// cancelSubscription drops the registration and emits a best-effort
// unsubscribe when connected.
func (c *controller) cancelSubscription(sub *Subscription) {
	c.mu.Lock()
	wireID := sub.id
	if wireID != 0 {
		delete(c.subs, wireID)
		sub.id = 0
	} else {
		for i, d := range c.dormant {
			if d == sub {
				c.dormant = append(c.dormant[:i], c.dormant[i+1:]...)
				break
			}
		}
	}
	connected := c.active
	var unsubID uint64
	if connected && wireID != 0 {
		unsubID = c.allocateLocked()
		// Own the identifier so a late server result is accounted for.
		c.pending[unsubID] = &pendingSingle{
			id:   unsubID,
			kind: singleWS,
			ch:   make(chan callResult, 1),
		}
	}
	c.mu.Unlock()

	if unsubID != 0 {
		frame, err := Request{
			Type:    TypeUnsubscribe,
			Payload: map[string]any{"subscription": wireID},
		}.encode(unsubID)
		if err == nil {
			if werr := c.writer.writeFrame(frame); werr != nil {
				c.logger.Debug("unsubscribe write failed", "id", unsubID, "error", werr)
			}
		}
	}
}

func (c *controller) writeSingle(ps *pendingSingle) {
	frame, err := ps.req.encode(ps.id)
	if err != nil {
		c.resolveResult(ps.id, nil, err)
		return
	}
	if werr := c.writer.writeFrame(frame); werr != nil {
		c.logger.Warn("command write failed", "id", ps.id, "type", ps.req.Type, "error", werr)
	}
}

func (c *controller) writeSubscribe(sub *Subscription, id uint64) {
	frame, err := sub.req.encode(id)
	if err != nil {
		c.resolveResult(id, nil, err)
		return
	}
	if werr := c.writer.writeFrame(frame); werr != nil {
		c.logger.Warn("subscribe write failed", "id", id, "type", sub.req.Type, "error", werr)
	}
}
