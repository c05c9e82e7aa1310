package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/config"
)

var (
	statesJSON   bool
	statesFilter string
)

var entityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#60a5fa"))
var stateOnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
var stateOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))

var statesCmd = &cobra.Command{
	Use:   "states [entity-id]",
	Short: "List entity states, or show one entity",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config load warning, using defaults", "error", err)
			cfg = config.Default()
		}

		ctx := cmd.Context()
		client, err := openSession(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		states, err := client.GetStates(ctx)
		if err != nil {
			return fmt.Errorf("get states: %w", err)
		}

		if len(args) == 1 {
			for _, s := range states {
				if s.EntityID == args[0] {
					data, _ := json.MarshalIndent(s, "", "  ")
					fmt.Println(string(data))
					return nil
				}
			}
			return fmt.Errorf("entity not found: %s", args[0])
		}

		sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })

		if statesJSON {
			data, _ := json.MarshalIndent(states, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		for _, s := range states {
			if statesFilter != "" && !strings.HasPrefix(s.EntityID, statesFilter) {
				continue
			}
			style := stateOffStyle
			if s.State == "on" || s.State == "home" || s.State == "open" {
				style = stateOnStyle
			}
			fmt.Printf("%s  %s\n", entityStyle.Render(fmt.Sprintf("%-40s", s.EntityID)), style.Render(s.State))
		}
		return nil
	},
}

func init() {
	statesCmd.Flags().BoolVar(&statesJSON, "json", false, "Output raw JSON")
	statesCmd.Flags().StringVar(&statesFilter, "domain", "", "Filter by entity id prefix (e.g. light.)")
}
