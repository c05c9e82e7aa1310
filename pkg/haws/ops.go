package haws

import (
	"context"
	"encoding/json"
	"time"
)

// State is one entity state as reported by get_states and state_changed
// events.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute, falling back to the
// entity id.
func (s State) FriendlyName() string {
	if v, ok := s.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return s.EntityID
}

// Event is the envelope of a pushed event.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChange is the data payload of a state_changed event.
type StateChange struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// ServiceTarget selects the entities a service call applies to.
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
	DeviceID []string `json:"device_id,omitempty"`
	AreaID   []string `json:"area_id,omitempty"`
}

// GetStates fetches the state of every entity.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	return Result[[]State](c.Send(ctx, Request{Type: TypeGetStates, Retry: true}))
}

// GetConfig fetches the server configuration object.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	return Result[map[string]any](c.Send(ctx, Request{Type: TypeGetConfig, Retry: true}))
}

// CallService invokes a service such as light.turn_on. The returned data
// is whatever the service reports, often null.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any, target *ServiceTarget) (json.RawMessage, error) {
	payload := map[string]any{
		"domain":  domain,
		"service": service,
	}
	if len(data) > 0 {
		payload["service_data"] = data
	}
	if target != nil {
		payload["target"] = target
	}
	// Service calls are not idempotent; they never replay after a drop.
	return c.Send(ctx, Request{Type: TypeCallService, Payload: payload})
}

// Ping round-trips a heartbeat through the server.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Send(ctx, Request{Type: TypePing})
	return err
}

// RenderTemplate renders a server-side template once and returns the
// resulting string.
func (c *Client) RenderTemplate(ctx context.Context, template string) (string, error) {
	return Result[string](c.Send(ctx, Request{
		Type:    TypeRenderTemplate,
		Payload: map[string]any{"template": template},
	}))
}

// SubscribeEvents subscribes to pushed events, optionally filtered by
// event type (empty subscribes to everything).
func (c *Client) SubscribeEvents(eventType string, handler func(Event)) (*Subscription, error) {
	payload := map[string]any{}
	if eventType != "" {
		payload["event_type"] = eventType
	}
	return c.Subscribe(Request{Type: TypeSubscribeEvents, Payload: payload}, func(raw json.RawMessage) {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.logger.Error("undecodable event dropped", "error", err)
			return
		}
		handler(ev)
	})
}

// SubscribeStateChanges subscribes to state_changed events, decoding the
// payload into StateChange.
func (c *Client) SubscribeStateChanges(handler func(StateChange)) (*Subscription, error) {
	return c.SubscribeEvents("state_changed", func(ev Event) {
		var sc StateChange
		if err := json.Unmarshal(ev.Data, &sc); err != nil {
			c.logger.Error("undecodable state_changed dropped", "error", err)
			return
		}
		handler(sc)
	})
}

// SubscribeTrigger subscribes to a trigger definition, delivering the
// trigger variables on each firing.
func (c *Client) SubscribeTrigger(trigger map[string]any, handler EventHandler) (*Subscription, error) {
	return c.Subscribe(Request{
		Type:    TypeSubscribeTrigger,
		Payload: map[string]any{"trigger": trigger},
	}, handler)
}
