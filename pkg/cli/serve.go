package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/server"
	"github.com/m-mizutani/lakeagent/pkg/service/mcp"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

func serveCommand() *cli.Command {
	var (
		cfg          config
		port         int64
		authUser     string
		authPassword string
		enableMCP    bool
	)
	queryTool := lakequery.New()

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Usage:       "HTTP port",
			Value:       5000,
			Sources:     cli.EnvVars("PORT"),
			Destination: &port,
		},
		&cli.StringFlag{
			Name:        "auth-user",
			Usage:       "Basic auth user. Auth is disabled when empty",
			Sources:     cli.EnvVars("LAKEAGENT_AUTH_USER"),
			Destination: &authUser,
		},
		&cli.StringFlag{
			Name:        "auth-password",
			Usage:       "Basic auth password",
			Sources:     cli.EnvVars("LAKEAGENT_AUTH_PASSWORD"),
			Destination: &authPassword,
		},
		&cli.BoolFlag{
			Name:        "mcp",
			Usage:       "Serve the MCP endpoint on /mcp",
			Value:       true,
			Sources:     cli.EnvVars("LAKEAGENT_MCP"),
			Destination: &enableMCP,
		},
	}
	flags = append(flags, datalakeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, queryTool.Flags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and dashboard",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.From(ctx)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt := newRuntime(&cfg, queryTool)
			uc, cleanup, err := cfg.newUseCase(ctx, rt)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := []server.Option{server.WithBasicAuth(authUser, authPassword)}
			if authUser == "" {
				logger.Warn("basic auth is disabled, set LAKEAGENT_AUTH_USER to enable it")
			}
			if enableMCP {
				opts = append(opts, server.WithMCP(mcp.NewHTTPHandler(
					mcp.NewServer(Version, &lazyQuerier{rt: rt}, uc),
				)))
			}

			return server.New(uc, opts...).ListenAndServe(ctx, fmt.Sprintf(":%d", port))
		},
	}
}

// lazyQuerier opens the data lake on the first SQL call.
type lazyQuerier struct {
	rt *runtime
}

func (q *lazyQuerier) Invoke(ctx context.Context, sqlText string) string {
	t, err := q.rt.queryTool(ctx)
	if err != nil {
		return "Error executing query: " + err.Error()
	}
	return t.Invoke(ctx, sqlText)
}
