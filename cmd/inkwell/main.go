package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/inkwell/internal"
	pkgconfig "github.com/starford/inkwell/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func listPosts(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.ListPosts(ctx, opts...)
}

func deletePosts(ctx context.Context, cmd *cli.Command) error {
	slugs := cmd.Args().Slice()
	if len(slugs) == 0 {
		return fmt.Errorf("usage: inkwell posts delete <slug>...")
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.DeletePosts(ctx, slugs, opts...)
}

func listImages(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.ListImages(ctx, opts...)
}

func reconcile(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Reconcile(ctx, cmd.Bool("heal"), opts...)
}

func export(ctx context.Context, cmd *cli.Command) error {
	kind := cmd.Args().First()
	if kind == "" {
		return fmt.Errorf("usage: inkwell export rss|sitemap [--publish]")
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Export(ctx, kind, cmd.Bool("publish"), opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "inkwell",
		Usage:   "Markdown blog editor backed by a GitHub repository",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the editor API server (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:  "posts",
				Usage: "Inspect and delete posts",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List posts from the index",
						Action: listPosts,
					},
					{
						Name:      "delete",
						Usage:     "Delete posts and their index records",
						ArgsUsage: "<slug>...",
						Action:    deletePosts,
					},
				},
			},
			{
				Name:  "images",
				Usage: "Inspect uploaded images",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List uploaded images",
						Action: listImages,
					},
				},
			},
			{
				Name:   "reconcile",
				Usage:  "Compare post files with the index",
				Action: reconcile,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "heal",
						Usage: "Add missing records and drop dangling ones",
					},
				},
			},
			{
				Name:      "export",
				Usage:     "Render the RSS feed or the sitemap",
				ArgsUsage: "rss|sitemap",
				Action:    export,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "publish",
						Usage: "Commit the document to the repository instead of printing it",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
