package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"manifest-extractor-go/internal/app"
	"manifest-extractor-go/pkg/appctx"
	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/handlers/api"
	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/types"
)

// root returns the root CLI command. Without a subcommand it serves HTTP.
func root() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "manifest-extractor",
		Usage:   "Resolve video player pages to their .m3u8 manifest URL",
		Version: appctx.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to configuration file (defaults to $CONFIG_FILE)",
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.Load(configPath)
			if err != nil {
				return ctx, err
			}
			if cmd.Bool("debug") {
				cfg.LogLevel = "debug"
			}
			cmd.Metadata["config"] = cfg
			return ctx, nil
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			extractCommand(),
		},
		Metadata: map[string]any{},
	}
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cli.Command) (*config.Config, error) {
	cfg, ok := cmd.Root().Metadata["config"].(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func newApp(cmd *cli.Command) (*app.App, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, os.Stderr)
	a, err := app.NewWithConfig(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return a, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	return a.Run(ctx)
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Print the manifest URL of each page as JSON",
		ArgsUsage: "<url>...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Pages extracted in parallel",
				Value: 4,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			urls := cmd.Args().Slice()
			if len(urls) == 0 {
				return errors.New("at least one url is required")
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			results := extractAll(ctx, a.Engine, urls, int(cmd.Int("concurrency")))
			return printResults(os.Stdout, results)
		},
	}
}

// extractAll runs the engine over urls with at most limit extractions in
// flight. Results keep the order of urls.
func extractAll(ctx context.Context, e interfaces.Extractor, urls []string, limit int) []api.Response {
	results := make([]api.Response, len(urls))

	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	for i, u := range urls {
		req := types.ExtractionRequest{PlayerURL: u}
		if err := req.Validate(); err != nil {
			results[i] = api.Response{Error: api.ValidationMessage(err)}
			continue
		}
		g.Go(func() error {
			res, err := e.Extract(ctx, req.PlayerURL)
			_, results[i] = api.NewResponse(res, err)
			return nil
		})
	}
	g.Wait()

	return results
}

// printResults writes one JSON object per line and reports whether any
// extraction failed.
func printResults(w io.Writer, results []api.Response) error {
	enc := json.NewEncoder(w)
	failed := 0
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d urls failed", failed, len(results))
	}
	return nil
}
