package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/pkg/haws"
	"github.com/hearthctl/hearth/pkg/haws/endpoint"
)

// newRESTClient builds a client from configuration without opening the
// WebSocket; only the REST path is usable.
func newRESTClient(cfg *config.Config, logger *slog.Logger) (*haws.Client, error) {
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("no server configured; run `hearth init` or set HEARTH_URL")
	}
	if cfg.Server.Token == "" {
		return nil, fmt.Errorf("no token configured; run `hearth init` or set HEARTH_TOKEN")
	}

	ep, err := endpoint.New(cfg.Server.URL, endpoint.WithUserAgent(cfg.Server.UserAgent))
	if err != nil {
		return nil, err
	}
	return haws.NewClient(ep, haws.StaticToken(cfg.Server.Token), haws.WithLogger(logger)), nil
}

// openSession builds a client from configuration and connects it, waiting
// until the session reaches the command phase or fails.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*haws.Client, error) {
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("no server configured; run `hearth init` or set HEARTH_URL")
	}
	if cfg.Server.Token == "" {
		return nil, fmt.Errorf("no token configured; run `hearth init` or set HEARTH_TOKEN")
	}

	ep, err := endpoint.New(cfg.Server.URL, endpoint.WithUserAgent(cfg.Server.UserAgent))
	if err != nil {
		return nil, err
	}

	client := haws.NewClient(ep, haws.StaticToken(cfg.Server.Token), haws.WithLogger(logger))
	phases := client.Phases()
	client.Connect()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for {
		select {
		case p := <-phases:
			switch p.Kind {
			case haws.PhaseCommand:
				return client, nil
			case haws.PhaseDisconnected:
				if p.Err != nil {
					client.Close()
					return nil, p.Err
				}
			}
		case <-waitCtx.Done():
			client.Close()
			return nil, fmt.Errorf("timed out connecting to %s", ep)
		}
	}
}
