package cli

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	if err := newApp().Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", logging.ErrAttr(err))
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func newApp() *cli.Command {
	var (
		logLevel  string
		logFormat string
		envFile   string
	)

	return &cli.Command{
		Name:  "finagent",
		Usage: "Synthetic ledger generator, Parquet conversion worker and natural language query agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("FINAGENT_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console or json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("FINAGENT_LOG_FORMAT"),
				Destination: &logFormat,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "Dotenv file loaded before running a command",
				Value:       ".env",
				Sources:     cli.EnvVars("FINAGENT_ENV_FILE"),
				Destination: &envFile,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return ctx, goerr.Wrap(err, "failed to load env file", goerr.V("path", envFile))
			}

			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return ctx, err
			}

			logger := logging.New(logLevel, format, c.Root().ErrWriter)
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			generateCommand(),
			convertCommand(),
			serveCommand(),
			inspectCommand(),
			chatCommand(),
			askCommand(),
		},
	}
}
