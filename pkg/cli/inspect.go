package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/convert"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func inspectCommand() *cli.Command {
	var (
		cfg  config
		head int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "head",
			Usage:       "Number of rows to preview",
			Value:       5,
			Destination: &head,
		},
	}
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show row count, columns, types and first rows of a Parquet file",
		ArgsUsage: "<file.parquet | bucket/key>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return goerr.Wrap(model.ErrInvalidConfig, "exactly one Parquet file or bucket/key is required")
			}
			target := c.Args().First()

			r, err := openParquet(ctx, &cfg, target)
			if err != nil {
				return err
			}
			defer r.Close()

			summary, err := convert.Inspect(ctx, r, int(head))
			if err != nil {
				return goerr.Wrap(err, "failed to inspect Parquet file", goerr.V("target", target))
			}
			summary.Print(c.Root().Writer)
			return nil
		},
	}
}

// openParquet prefers a local file and falls back to bucket/key in the object store
func openParquet(ctx context.Context, cfg *config, target string) (io.ReadCloser, error) {
	if _, err := os.Stat(target); err == nil {
		f, err := os.Open(target)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open file", goerr.V("path", target))
		}
		return f, nil
	}

	bucket, key, ok := strings.Cut(target, "/")
	if !ok || bucket == "" || key == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "target is neither a local file nor bucket/key",
			goerr.V("target", target))
	}

	store, err := cfg.newObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, bucket, key)
}
