package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		showTrace bool
	)
	queryTool := lakequery.New()

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "trace",
			Aliases:     []string{"t"},
			Usage:       "Print the trace after each answer",
			Destination: &showTrace,
		},
	}
	flags = append(flags, datalakeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, queryTool.Flags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Ask questions interactively. Each line is answered independently",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt := newRuntime(&cfg, queryTool)
			uc, cleanup, err := cfg.newUseCase(ctx, rt)
			if err != nil {
				return err
			}
			defer cleanup()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFilePath(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start prompt")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session started. Type 'exit' to quit.\n")

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = " querying the data lake..."
				sp.Start()
				answer, err := uc.RunQuery(ctx, line)
				sp.Stop()

				if answer == nil {
					fmt.Fprintf(w, "%v\n", err)
					continue
				}
				fmt.Fprintf(w, "%s\n\n", answer.Response)
				if showTrace {
					writeTrace(w, answer.Trace)
				}
				if errors.Is(err, agent.ErrConfiguration) {
					return err
				}
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

func historyFilePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "lakeagent")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}
