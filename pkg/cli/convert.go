package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/convert"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func convertCommand() *cli.Command {
	var (
		cfg       config
		bucket    string
		key       string
		eventPath string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Aliases:     []string{"b"},
			Usage:       "Source bucket of the uploaded CSV",
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "key",
			Aliases:     []string{"k"},
			Usage:       "Object key of the uploaded CSV",
			Destination: &key,
		},
		&cli.StringFlag{
			Name:        "event",
			Aliases:     []string{"e"},
			Usage:       "JSON file with an S3 or GCS trigger event to replay",
			Destination: &eventPath,
		},
	}
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, destinationFlags(&cfg)...)

	return &cli.Command{
		Name:  "convert",
		Usage: "Convert an uploaded CSV ledger into Parquet",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			var refs []convert.ObjectRef
			switch {
			case eventPath != "":
				data, err := os.ReadFile(eventPath)
				if err != nil {
					return goerr.Wrap(err, "failed to read event file", goerr.V("path", eventPath))
				}
				parsed, err := convert.ParseEvent(data)
				if err != nil {
					return err
				}
				refs = parsed

			case bucket != "" && key != "":
				refs = []convert.ObjectRef{{Bucket: bucket, Key: key}}

			default:
				return goerr.Wrap(model.ErrInvalidConfig, "either --event or both --bucket and --key are required")
			}

			converter, err := cfg.newConverter(ctx)
			if err != nil {
				return err
			}

			results, handleErr := converter.HandleEvent(ctx, refs)

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return goerr.Wrap(err, "failed to write results")
			}
			return handleErr
		},
	}
}
