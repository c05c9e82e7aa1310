package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/config"
)

var restQuery []string

var restCmd = &cobra.Command{
	Use:   "rest <path>",
	Short: "Perform a raw REST GET against the server (e.g. api/config)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		for _, q := range restQuery {
			k, v, ok := strings.Cut(q, "=")
			if !ok {
				return fmt.Errorf("query item must be key=value, got %q", q)
			}
			query.Add(k, v)
		}

		logger := newLogger()
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config load warning, using defaults", "error", err)
			cfg = config.Default()
		}

		// REST shares the session's credentials but needs no WebSocket, so
		// the client stays unconnected.
		client, err := newRESTClient(cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		raw, err := client.REST(cmd.Context(), http.MethodGet, args[0], query, nil)
		if err != nil {
			return err
		}

		pretty, perr := json.MarshalIndent(json.RawMessage(raw), "", "  ")
		if perr != nil {
			fmt.Println(string(raw))
			return nil
		}
		fmt.Println(string(pretty))
		return nil
	},
}

func init() {
	restCmd.Flags().StringArrayVar(&restQuery, "query", nil, "Query item key=value (repeatable)")
}
