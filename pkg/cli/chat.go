package cli

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/agent"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// spinnerProgress shows a spinner on the terminal while a query runs
type spinnerProgress struct {
	s *spinner.Spinner
}

func newSpinnerProgress(w io.Writer) *spinnerProgress {
	return &spinnerProgress{
		s: spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)),
	}
}

func (p *spinnerProgress) Start(message string) {
	p.s.Suffix = " " + message
	p.s.Start()
}

func (p *spinnerProgress) Stop() {
	p.s.Stop()
}

func chatCommand() *cli.Command {
	var (
		cfg         config
		historyFile string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File keeping the input history across sessions",
			Sources:     cli.EnvVars("FINAGENT_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, queryFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Ask questions about the ledger interactively",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			ag, err := cfg.newAgent(ctx,
				agent.WithOutput(rl.Stdout()),
				agent.WithProgress(newSpinnerProgress(os.Stderr)),
			)
			if err != nil {
				return err
			}

			return agent.NewREPL(ag, rl, rl.Stdout()).Run(ctx)
		},
	}
}

func askCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, queryFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one question about the ledger and exit",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.Wrap(model.ErrInvalidConfig, "question is required")
			}

			ag, err := cfg.newAgent(ctx,
				agent.WithOutput(c.Root().ErrWriter),
				agent.WithProgress(newSpinnerProgress(c.Root().ErrWriter)),
			)
			if err != nil {
				return err
			}

			session, err := ag.Ask(ctx, question)
			if err != nil {
				return err
			}
			agent.PrintResponse(c.Root().Writer, session)
			return nil
		},
	}
}
