package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/pkg/haws/endpoint"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup: server URL, token, and extras",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			cfg = config.Default()
		}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Server URL").
					Description("e.g. https://hass.example:8123 — /api tails are fine").
					Value(&cfg.Server.URL).
					Validate(func(s string) error {
						_, err := endpoint.New(s)
						return err
					}),
				huh.NewInput().
					Title("Long-lived access token").
					Description("Create one under your Home Assistant profile").
					EchoMode(huh.EchoModePassword).
					Value(&cfg.Server.Token),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Record events to a local history database?").
					Value(&cfg.Record.Enabled),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", config.ConfigPath())
		fmt.Println("try: hearth ping")
		return nil
	},
}
