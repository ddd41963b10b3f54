package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tickerd/tickerd/internal/app"
	"github.com/tickerd/tickerd/internal/config"
	"github.com/tickerd/tickerd/internal/migrator"
	"github.com/tickerd/tickerd/internal/version"
	"github.com/urfave/cli/v3"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to configuration file (.yaml or .env)",
	}
}

func parseConfig(c *cli.Command) (*config.Config, error) {
	return config.Parse(config.Flags{Config: c.String("config")})
}

func main() {
	cmd := &cli.Command{
		Name:    "tickerd",
		Usage:   "Tickerd - periodic per-database tick worker host",
		Version: version.Version(),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the tickerd host",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := parseConfig(c)
					if err != nil {
						return err
					}
					return app.New(cfg).Run(ctx)
				},
			},
			{
				Name:  "migrate",
				Usage: "Schema migration tools",
				Commands: []*cli.Command{
					{
						Name:  "up",
						Usage: "Apply all pending migrations",
						Flags: []cli.Flag{configFlag()},
						Action: func(ctx context.Context, c *cli.Command) error {
							return withMigrator(c, func(m *migrator.Migrator) error {
								version, applied, err := m.Up(ctx, -1)
								if err != nil {
									return err
								}
								fmt.Printf("schema at version %d (%d applied)\n", version, applied)
								return nil
							})
						},
					},
					{
						Name:  "down",
						Usage: "Roll back migrations",
						Flags: []cli.Flag{
							configFlag(),
							&cli.IntFlag{
								Name:  "steps",
								Usage: "number of migrations to roll back",
								Value: 1,
							},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							return withMigrator(c, func(m *migrator.Migrator) error {
								version, rolledBack, err := m.Down(ctx, int(c.Int("steps")))
								if err != nil {
									return err
								}
								fmt.Printf("schema at version %d (%d rolled back)\n", version, rolledBack)
								return nil
							})
						},
					},
					{
						Name:  "version",
						Usage: "Print the current schema version",
						Flags: []cli.Flag{configFlag()},
						Action: func(ctx context.Context, c *cli.Command) error {
							return withMigrator(c, func(m *migrator.Migrator) error {
								version, err := m.Version(ctx)
								if err != nil {
									return err
								}
								fmt.Printf("schema at version %d\n", version)
								return nil
							})
						},
					},
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func withMigrator(c *cli.Command, fn func(m *migrator.Migrator) error) error {
	cfg, err := parseConfig(c)
	if err != nil {
		return err
	}
	m, err := migrator.New(migrator.MigrationOpts{URL: cfg.PostgresURL})
	if err != nil {
		return err
	}
	defer m.Close(context.Background())
	return fn(m)
}
