package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/pkg/haws"
)

var (
	callData     string
	callEntities []string
)

var callCmd = &cobra.Command{
	Use:   "call <domain.service>",
	Short: "Call a service (e.g. light.turn_on)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, service, ok := strings.Cut(args[0], ".")
		if !ok || domain == "" || service == "" {
			return fmt.Errorf("service must be domain.service, got %q", args[0])
		}

		var data map[string]any
		if callData != "" {
			if err := json.Unmarshal([]byte(callData), &data); err != nil {
				return fmt.Errorf("invalid --data JSON: %w", err)
			}
		}
		var target *haws.ServiceTarget
		if len(callEntities) > 0 {
			target = &haws.ServiceTarget{EntityID: callEntities}
		}

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

		result, err := client.CallService(ctx, domain, service, data, target)
		if err != nil {
			return fmt.Errorf("call %s.%s: %w", domain, service, err)
		}

		if len(result) > 0 && string(result) != "null" {
			pretty, _ := json.MarshalIndent(json.RawMessage(result), "", "  ")
			fmt.Println(string(pretty))
		} else {
			fmt.Printf("ok: %s.%s\n", domain, service)
		}
		return nil
	},
}

func init() {
	callCmd.Flags().StringVar(&callData, "data", "", "Service data as JSON")
	callCmd.Flags().StringSliceVar(&callEntities, "entity", nil, "Target entity id (repeatable)")
}
