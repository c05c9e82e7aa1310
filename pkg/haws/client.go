package haws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hearthctl/hearth/pkg/haws/endpoint"
	"github.com/hearthctl/hearth/pkg/haws/reconnect"
	"github.com/hearthctl/hearth/pkg/haws/transport"
)

// TokenProvider supplies the access token for the auth handshake and for
// REST calls. Fetches may suspend (keychain, OAuth refresh).
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to a TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// AccessToken implements TokenProvider.
func (f TokenProviderFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken returns a provider that always hands out the same token.
func StaticToken(token string) TokenProvider {
	return TokenProviderFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer replaces the transport dialer. Tests inject fakes here.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReconnectManager replaces the reconnect policy.
func WithReconnectManager(m *reconnect.Manager) Option {
	return func(c *Client) { c.backoff = m }
}

// Client is the connection orchestrator: it owns the transport, drives the
// phase machine through reconnects, and exposes the command, subscription
// and REST operations.
type Client struct {
	logger     *slog.Logger
	tokens     TokenProvider
	dialer     transport.Dialer
	httpClient *http.Client
	backoff    *reconnect.Manager

	ctrl *controller
	resp *responseController

	mu        sync.Mutex
	ep        *endpoint.Endpoint
	tr        transport.Transport
	running   bool
	permanent bool
	runGen    uint64
	runCancel context.CancelFunc

	subMu       sync.Mutex
	phaseChans  []chan Phase
	phaseClosed bool
}

// NewClient creates a client for the given endpoint. The client is idle
// until Connect.
func NewClient(ep *endpoint.Endpoint, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		tokens:     tokens,
		ep:         ep,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    reconnect.NewManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "haws")
	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer(c.logger)
	}

	c.ctrl = newController(c.logger, c)
	c.resp = newResponseController(c.logger, c)
	return c
}

// Endpoint returns the currently configured endpoint.
func (c *Client) Endpoint() *endpoint.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep
}

// Reconfigure replaces the endpoint. When the normalized base differs from
// the current connection's, the transport is torn down and the session
// takes over at the new address.
func (c *Client) Reconfigure(ep *endpoint.Endpoint) {
	c.mu.Lock()
	replace := ep.ShouldReplace(c.ep)
	c.ep = ep
	tr := c.tr
	c.mu.Unlock()

	if replace && tr != nil {
		c.logger.Info("endpoint changed, replacing transport", "endpoint", ep.String())
		tr.Cancel(nil)
	}
}

// Connect starts the session. Idempotent: with a live transport and an
// unchanged endpoint it is a no-op; after a permanent disconnect it
// restarts the connect loop with a fresh identifier space.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.permanent = false
	c.backoff.SetPermanent(false)

	if c.running {
		return
	}
	c.running = true
	c.runGen++
	c.ctrl.reset()

	ctx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	go c.run(ctx, c.runGen)
}

// Disconnect closes the transport. With permanent=true no reconnect is
// attempted until Connect, and every in-flight operation resolves with
// ErrCancelled; otherwise the normal backoff schedule applies.
func (c *Client) Disconnect(permanent bool) {
	c.mu.Lock()
	tr := c.tr
	cancel := c.runCancel
	if permanent {
		c.permanent = true
		c.running = false
		c.runCancel = nil
	}
	c.mu.Unlock()

	if permanent {
		c.backoff.SetPermanent(true)
		if cancel != nil {
			cancel()
		}
	}
	if tr != nil {
		tr.Cancel(nil)
	}
	if permanent {
		c.ctrl.cancelAll()
		c.resp.Reset()
	}
}

// Close permanently disconnects and releases phase subscribers.
func (c *Client) Close() {
	c.Disconnect(true)

	c.subMu.Lock()
	chans := c.phaseChans
	c.phaseChans = nil
	c.phaseClosed = true
	c.subMu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

// CurrentPhase returns the phase as last observed.
func (c *Client) CurrentPhase() Phase {
	return c.resp.Phase()
}

// Phases registers a phase listener. The channel is buffered; transitions
// are dropped rather than block the session when a consumer stalls.
func (c *Client) Phases() <-chan Phase {
	ch := make(chan Phase, 16)

	c.subMu.Lock()
	if c.phaseClosed {
		c.subMu.Unlock()
		close(ch)
		return ch
	}
	c.phaseChans = append(c.phaseChans, ch)
	c.subMu.Unlock()
	return ch
}

// run is the connect loop: dial, pump inbound frames, and on loss consult
// the backoff schedule before trying again.
func (c *Client) run(ctx context.Context, gen uint64) {
	defer func() {
		c.mu.Lock()
		if c.runGen == gen {
			c.running = false
		}
		c.mu.Unlock()
	}()

	for {
		if !c.backoff.ShouldAttempt() {
			return
		}

		c.mu.Lock()
		ep := c.ep
		c.mu.Unlock()
		wsURL := ep.WebSocketURL().String()

		tr, err := c.dialer.Dial(ctx, wsURL, nil)
		if err != nil {
			c.logger.Warn("connect failed", "url", wsURL, "error", err)
			c.resp.Disconnected(err)
			if !c.waitRetry(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.permanent {
			c.mu.Unlock()
			tr.Cancel(nil)
			return
		}
		c.tr = tr
		c.mu.Unlock()

		c.logger.Info("transport connected", "url", wsURL, "transport", tr.ID())

		// The pump: every inbound frame flows through the response
		// controller. Phase transitions and dispatches happen before the
		// next frame is parsed.
		for msg := range tr.Inbound() {
			c.resp.OnMessage(msg)
		}

		c.mu.Lock()
		if c.tr == tr {
			c.tr = nil
		}
		stopped := c.permanent
		c.mu.Unlock()

		terr := tr.Err()
		if terr != nil {
			c.logger.Warn("transport lost", "transport", tr.ID(), "error", terr)
		} else {
			c.logger.Info("transport closed", "transport", tr.ID())
		}

		if stopped || ctx.Err() != nil {
			return
		}

		// An auth rejection parks the session; everything else retries.
		if phase := c.resp.Phase(); phase.Kind == PhaseDisconnected && isAuthFailure(phase.Err) {
			return
		}
		c.resp.Disconnected(terr)

		if !c.waitRetry(ctx) {
			return
		}
	}
}

// waitRetry sleeps for the next backoff delay; false means the session is
// shutting down.
func (c *Client) waitRetry(ctx context.Context) bool {
	if !c.backoff.ShouldAttempt() {
		return false
	}
	delay := c.backoff.Next()
	c.logger.Debug("reconnect scheduled", "delay", delay, "attempt", c.backoff.Attempts())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func isAuthFailure(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// --- responseDelegate ---

// phaseChanged reacts to transitions from the response controller and
// fans the new phase out to listeners.
func (c *Client) phaseChanged(p Phase) {
	switch p.Kind {
	case PhaseAuthenticating:
		c.mu.Lock()
		tr := c.tr
		c.mu.Unlock()
		if tr != nil {
			go c.authenticate(tr)
		}

	case PhaseCommand:
		c.logger.Info("session ready", "server_version", p.ServerVersion)
		c.backoff.Succeeded()
		// Registers every replayed identifier before the pump reads the
		// next frame off this transport.
		c.ctrl.prepare()

	case PhaseDisconnected:
		if isAuthFailure(p.Err) {
			c.logger.Error("authentication rejected", "error", p.Err)
			c.backoff.SetPermanent(true)
			c.mu.Lock()
			tr := c.tr
			c.mu.Unlock()
			if tr != nil {
				tr.Cancel(p.Err)
			}
		}
		c.ctrl.resetActive()
	}

	c.emitPhase(p)
}

func (c *Client) emitPhase(p Phase) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.phaseClosed {
		return
	}
	for _, ch := range c.phaseChans {
		select {
		case ch <- p:
		default:
			c.logger.Warn("phase listener full, dropping transition", "phase", p.String())
		}
	}
}

// authenticate fetches a token and answers the handshake with a raw auth
// frame, bypassing identifier gating. A stale transport is left alone.
func (c *Client) authenticate(tr transport.Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		c.logger.Error("token fetch failed", "error", err)
		tr.Cancel(&TokenError{Err: err})
		return
	}

	c.mu.Lock()
	stale := c.tr == nil || c.tr.ID() != tr.ID()
	c.mu.Unlock()
	if stale {
		c.logger.Debug("dropping auth for stale transport", "transport", tr.ID())
		return
	}

	frame, err := json.Marshal(map[string]string{
		"type":         TypeAuth,
		"access_token": token,
	})
	if err != nil {
		tr.Cancel(err)
		return
	}
	if err := tr.SendText(ctx, string(frame)); err != nil {
		c.logger.Warn("auth write failed", "error", err)
		tr.Cancel(err)
	}
}

func (c *Client) dispatchEvent(id uint64, event json.RawMessage) {
	c.ctrl.deliverEvent(id, event)
}

func (c *Client) dispatchResult(id uint64, result json.RawMessage, err error) {
	c.ctrl.resolveResult(id, result, err)
}

// --- commandWriter ---

// writeFrame sends one encoded command over the current transport.
func (c *Client) writeFrame(frame []byte) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tr.SendText(ctx, string(frame))
}

// --- public operations ---

// Send submits a single-result command and waits for its reply. Before
// the command phase the request queues; Retry controls whether it
// survives a reconnect in between.
func (c *Client) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	c.mu.Lock()
	stopped := c.permanent
	c.mu.Unlock()
	if stopped {
		return nil, ErrCancelled
	}

	ps := c.ctrl.submitSingle(req)
	select {
	case res := <-ps.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.ctrl.abandon(ps)
		return nil, ctx.Err()
	}
}

// Subscribe opens a server push subscription. The handler sees events in
// wire order until the subscription terminates; it is resurrected
// transparently across reconnects.
func (c *Client) Subscribe(req Request, handler EventHandler) (*Subscription, error) {
	c.mu.Lock()
	stopped := c.permanent
	c.mu.Unlock()
	if stopped {
		return nil, ErrCancelled
	}
	req.Retry = true
	return c.ctrl.submitSubscription(req, handler), nil
}

// Result decodes a raw result into out.
func Result[T any](raw json.RawMessage, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if uerr := json.Unmarshal(raw, &out); uerr != nil {
		return out, fmt.Errorf("haws: decode result: %w", uerr)
	}
	return out, nil
}
