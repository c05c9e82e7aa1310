package cli

import (
	"encoding/json"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/internal/tui"
	"github.com/hearthctl/hearth/pkg/haws"
	"github.com/hearthctl/hearth/pkg/haws/endpoint"
)

var watchCmd = &cobra.Command{
	Use:   "watch [event-type]",
	Short: "Watch the live event stream (default: state_changed)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := "state_changed"
		if len(args) == 1 {
			eventType = args[0]
		}

		logger := newLogger()
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config load warning, using defaults", "error", err)
			cfg = config.Default()
		}
		if cfg.Server.URL == "" || cfg.Server.Token == "" {
			return fmt.Errorf("no server configured; run `hearth init` first")
		}

		ep, err := endpoint.New(cfg.Server.URL, endpoint.WithUserAgent(cfg.Server.UserAgent))
		if err != nil {
			return err
		}
		client := haws.NewClient(ep, haws.StaticToken(cfg.Server.Token), haws.WithLogger(logger))
		defer client.Close()

		events := make(chan tui.EventMsg, 64)
		phases := make(chan tui.PhaseMsg, 16)

		go func() {
			for p := range client.Phases() {
				phases <- tui.PhaseMsg{Phase: p}
			}
		}()

		// The subscription is registered before connecting; it goes out on
		// the wire as soon as the session reaches the command phase.
		sub, err := client.SubscribeEvents(eventType, func(ev haws.Event) {
			events <- tui.EventMsg{
				Received:  time.Now(),
				EventType: ev.EventType,
				Summary:   summarizeEvent(ev),
			}
		})
		if err != nil {
			return err
		}
		defer sub.Cancel()

		client.Connect()

		model := tui.NewModel(eventType, events, phases)
		_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
		return err
	},
}

// summarizeEvent renders a one-line description of an event payload.
func summarizeEvent(ev haws.Event) string {
	if ev.EventType == "state_changed" {
		var sc haws.StateChange
		if err := json.Unmarshal(ev.Data, &sc); err == nil {
			from := "?"
			if sc.OldState != nil {
				from = sc.OldState.State
			}
			to := "?"
			if sc.NewState != nil {
				to = sc.NewState.State
			}
			return fmt.Sprintf("%s %s -> %s", sc.EntityID, from, to)
		}
	}

	data := string(ev.Data)
	if len(data) > 100 {
		data = data[:100] + "..."
	}
	return data
}
