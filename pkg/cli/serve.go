package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/finagent/pkg/server"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address of the trigger endpoint",
			Value:       ":8080",
			Sources:     cli.EnvVars("FINAGENT_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, destinationFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the conversion worker behind an HTTP trigger endpoint",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			converter, err := cfg.newConverter(ctx)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(addr, converter, logging.From(ctx))
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shut down server")
			}
			return <-errCh
		},
	}
}
