package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/repository"
)

func migrateCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the interactions table in PostgreSQL",
		Flags: repositoryFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if cfg.databaseURL == "" {
				return goerr.New("DATABASE_URL is required for migrate")
			}

			repo, err := repository.NewPostgres(ctx, cfg.databaseURL)
			if err != nil {
				return err
			}
			defer repo.Close()

			return repo.Migrate(ctx)
		},
	}
}
