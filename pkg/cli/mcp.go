package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/service/mcp"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
)

func mcpCommand() *cli.Command {
	var cfg config
	queryTool := lakequery.New()

	flags := datalakeFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, queryTool.Flags()...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve datalake_query and ask_datalake over MCP on stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt := newRuntime(&cfg, queryTool)
			uc, cleanup, err := cfg.newUseCase(ctx, rt)
			if err != nil {
				return err
			}
			defer cleanup()

			return mcp.ServeStdio(ctx, mcp.NewServer(Version, &lazyQuerier{rt: rt}, uc))
		},
	}
}
