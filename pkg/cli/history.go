package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Browse stored interactions",
		Commands: []*cli.Command{
			historyListCommand(),
			historyShowCommand(),
		},
	}
}

func historyListCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Number of interactions to skip",
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Number of interactions to show",
			Value:       ask.DefaultListLimit,
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List interactions, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			items, err := ask.New(repo, nil).List(ctx, ask.ListOptions{Offset: int(offset), Limit: int(limit)})
			if err != nil {
				return goerr.Wrap(err, "failed to list interactions")
			}

			table := tablewriter.NewWriter(c.Root().Writer)
			table.SetHeader([]string{"ID", "Created", "Query", "Response"})
			table.SetAutoWrapText(false)
			table.SetAutoFormatHeaders(false)
			for _, x := range items {
				table.Append([]string{
					x.ID.String(),
					x.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					oneLine(x.Query, 60),
					oneLine(x.Response, 60),
				})
			}
			table.Render()
			return nil
		},
	}
}

func historyShowCommand() *cli.Command {
	var (
		cfg         config
		fromArchive bool
		jsonOutput  bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "archive",
			Usage:       "Read from the trace archive bucket instead of the repository",
			Destination: &fromArchive,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print as JSON",
			Destination: &jsonOutput,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show one interaction with its trace",
		ArgsUsage: "<interaction-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("interaction ID is required")
			}
			id := model.InteractionID(c.Args().First())

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			var opts []ask.Option
			if fromArchive {
				storage, err := cfg.newStorage(ctx)
				if err != nil {
					return err
				}
				if storage != nil {
					opts = append(opts, ask.WithStorage(storage))
				}
			}
			uc := ask.New(repo, nil, opts...)

			var x *model.Interaction
			if fromArchive {
				x, err = uc.Archived(ctx, id)
			} else {
				x, err = uc.Show(ctx, id)
			}
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(x)
			}

			fmt.Fprintf(w, "ID:       %s\n", x.ID)
			fmt.Fprintf(w, "Created:  %s\n", x.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Query:    %s\n\n", x.Query)
			fmt.Fprintf(w, "%s\n", x.Response)
			writeTrace(w, x.Trace)
			return nil
		},
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
