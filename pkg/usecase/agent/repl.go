package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// LineReader reads one line of user input. readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
}

// Asker runs one question turn
type Asker interface {
	Ask(ctx context.Context, question string) (*model.QuerySession, error)
}

// IsExitCommand reports whether the input ends the loop
func IsExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "quit", "exit":
		return true
	default:
		return false
	}
}

// REPL is the interactive question loop
type REPL struct {
	asker  Asker
	reader LineReader
	output io.Writer
}

func NewREPL(asker Asker, reader LineReader, output io.Writer) *REPL {
	return &REPL{asker: asker, reader: reader, output: output}
}

// Run reads questions until quit/exit or end of input. A turn that fails is
// reported and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	logger := logging.From(ctx)
	fmt.Fprintln(r.output, "Agent is online! (Type 'quit' to exit)")

	for {
		line, err := r.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		question := strings.TrimSpace(line)
		if question == "" {
			continue
		}
		if IsExitCommand(question) {
			return nil
		}

		session, err := r.asker.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("failed to answer question", logging.ErrAttr(err), "question", question)
			fmt.Fprintf(r.output, "Error: %v\n", err)
			continue
		}

		PrintResponse(r.output, session)
	}
}

// PrintResponse writes the explanation of a finished turn
func PrintResponse(w io.Writer, session *model.QuerySession) {
	fmt.Fprintf(w, "\nAGENT RESPONSE:\n%s\n%s\n", session.Explanation, strings.Repeat("-", 50))
}
