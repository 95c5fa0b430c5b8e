package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/metrics"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

// Version is overwritten at build time.
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// .env is optional; flags read their env sources at parse time
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Default().Warn("failed to load .env", "error", err)
	}

	var (
		logLevel  string
		logFormat string
	)

	cmd := &cli.Command{
		Name:    "lakeagent",
		Usage:   "Ask questions about a GRAX Salesforce data lake in plain language",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("LAKEAGENT_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("LAKEAGENT_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger := logging.NewWithFormat(logLevel, logging.Format(logFormat), os.Stderr)
			logging.SetDefault(logger)
			metrics.BuildInfo.WithLabelValues(Version).Set(1)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			queryCommand(),
			sqlCommand(),
			chatCommand(),
			historyCommand(),
			migrateCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
