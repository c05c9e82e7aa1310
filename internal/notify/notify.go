// Package notify forwards selected state changes to messaging channels.
// A dispatcher subscribes to state_changed events and fans matching
// transitions out to the configured notifiers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/pkg/haws"
)

// Notifier delivers one formatted message to a channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Matcher selects entities by glob patterns like "light.*" or
// "sensor.temp_*". An empty pattern list matches nothing.
type Matcher struct {
	patterns []string
}

// NewMatcher creates a matcher from patterns; blank entries are dropped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// Match reports whether the entity id matches any pattern.
func (m *Matcher) Match(entityID string) bool {
	if entityID == "" {
		return false
	}
	for _, p := range m.patterns {
		if ok, err := path.Match(p, entityID); err == nil && ok {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return len(m.patterns) == 0
}

// Dispatcher routes state changes to notifiers.
type Dispatcher struct {
	logger    *slog.Logger
	matcher   *Matcher
	notifiers []Notifier
}

// NewDispatcher builds a dispatcher from configuration; notifiers without
// credentials are skipped.
func NewDispatcher(cfg *config.NotifyConfig, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		logger:  logger.With("component", "notify"),
		matcher: NewMatcher(cfg.Entities),
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := NewTelegramNotifier(&cfg.Telegram, logger)
		if err != nil {
			d.logger.Error("telegram notifier unavailable", "error", err)
		} else {
			d.notifiers = append(d.notifiers, tg)
		}
	}
	if cfg.Feishu.AppID != "" && cfg.Feishu.AppSecret != "" {
		d.notifiers = append(d.notifiers, NewFeishuNotifier(&cfg.Feishu, logger))
	}
	return d
}

// Active reports whether dispatching can do anything at all.
func (d *Dispatcher) Active() bool {
	return len(d.notifiers) > 0 && !d.matcher.Empty()
}

// HandleStateChange forwards one matching transition to every notifier.
func (d *Dispatcher) HandleStateChange(ctx context.Context, sc haws.StateChange) {
	if !d.matcher.Match(sc.EntityID) {
		return
	}
	text := FormatStateChange(sc)
	for _, n := range d.notifiers {
		if err := n.Send(ctx, text); err != nil {
			d.logger.Error("notify failed", "channel", n.Name(), "entity", sc.EntityID, "error", err)
		}
	}
}

// FormatStateChange renders a transition as a short human-readable line.
func FormatStateChange(sc haws.StateChange) string {
	name := sc.EntityID
	if sc.NewState != nil {
		name = sc.NewState.FriendlyName()
	}

	from := "unknown"
	if sc.OldState != nil {
		from = sc.OldState.State
	}
	to := "unavailable"
	if sc.NewState != nil {
		to = sc.NewState.State
	}
	return fmt.Sprintf("%s: %s -> %s", name, from, to)
}
