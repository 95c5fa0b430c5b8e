package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
)

func queryCommand() *cli.Command {
	var (
		cfg        config
		showTrace  bool
		jsonOutput bool
	)
	queryTool := lakequery.New()

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "trace",
			Aliases:     []string{"t"},
			Usage:       "Print the trace after the answer",
			Destination: &showTrace,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the answer and trace as JSON",
			Destination: &jsonOutput,
		},
	}
	flags = append(flags, datalakeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, queryTool.Flags()...)

	return &cli.Command{
		Name:      "query",
		Usage:     "Answer one question",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(question) == "" {
				return goerr.New("question is required")
			}

			rt := newRuntime(&cfg, queryTool)
			uc, cleanup, err := cfg.newUseCase(ctx, rt)
			if err != nil {
				return err
			}
			defer cleanup()

			w := c.Root().Writer
			answer, err := uc.RunQuery(ctx, question)
			if answer != nil {
				if jsonOutput {
					if encErr := writeAnswerJSON(w, answer); encErr != nil {
						return encErr
					}
				} else {
					fmt.Fprintln(w, answer.Response)
					if showTrace {
						writeTrace(w, answer.Trace)
					}
				}
			}
			return err
		},
	}
}

func sqlCommand() *cli.Command {
	var cfg config
	queryTool := lakequery.New()

	flags := datalakeFlags(&cfg)
	flags = append(flags, queryTool.Flags()...)

	return &cli.Command{
		Name:      "sql",
		Usage:     "Run one SQL statement through the datalake_query tool",
		ArgsUsage: "<statement>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			stmt := strings.Join(c.Args().Slice(), " ")

			rt := newRuntime(&cfg, queryTool)
			defer rt.Close()

			t, err := rt.queryTool(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, t.Invoke(ctx, stmt))
			return nil
		},
	}
}

func writeAnswerJSON(w io.Writer, answer *ask.Answer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(answer); err != nil {
		return goerr.Wrap(err, "failed to encode answer")
	}
	return nil
}

func writeTrace(w io.Writer, tr trace.Trace) {
	fmt.Fprintln(w, "\n--- trace ---")
	for _, ev := range tr {
		fmt.Fprintf(w, "[%d] %s %s\n", ev.Seq, ev.Kind, trace.Render(ev.Payload))
	}
}
