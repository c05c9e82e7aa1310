package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/config"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity and measure the round trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config load warning, using defaults", "error", err)
			cfg = config.Default()
		}

		ctx := cmd.Context()
		start := time.Now()
		client, err := openSession(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		connected := time.Since(start)

		start = time.Now()
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		phase := client.CurrentPhase()
		fmt.Printf("connected to %s (%s)\n", client.Endpoint(), phase.ServerVersion)
		fmt.Printf("  handshake: %v\n", connected.Round(time.Millisecond))
		fmt.Printf("  roundtrip: %v\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}
