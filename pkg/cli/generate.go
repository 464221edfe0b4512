package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/generate"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
)

const (
	stdoutPath     = "-"
	summaryRows    = 5
	csvContentType = "text/csv"
)

func generateCommand() *cli.Command {
	var (
		cfg          config
		rows         int64
		startDate    time.Time
		balance      string
		seed         uint64
		catalogPath  string
		outputPath   string
		uploadBucket string
		uploadKey    string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "rows",
			Aliases:     []string{"n"},
			Usage:       "Number of transactions to generate",
			Value:       200,
			Sources:     cli.EnvVars("FINAGENT_ROWS"),
			Destination: &rows,
		},
		&cli.TimestampFlag{
			Name:        "start-date",
			Usage:       "Date the ledger starts from (YYYY-MM-DD)",
			Value:       generate.DefaultStartDate,
			Config:      cli.TimestampConfig{Layouts: []string{time.DateOnly}, Timezone: time.UTC},
			Destination: &startDate,
		},
		&cli.StringFlag{
			Name:        "starting-balance",
			Usage:       "Balance before the first transaction",
			Value:       generate.DefaultStartingBalance.StringFixed(2),
			Destination: &balance,
		},
		&cli.UintFlag{
			Name:        "seed",
			Usage:       "Random seed, 0 picks one and logs it",
			Sources:     cli.EnvVars("FINAGENT_SEED"),
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "catalog",
			Usage:       "YAML file overriding categories, merchants and locations",
			Destination: &catalogPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "CSV output path, '-' for stdout",
			Value:       filepath.Join("data", "transactions.csv"),
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "upload-bucket",
			Usage:       "Upload the CSV to this bucket after writing it",
			Sources:     cli.EnvVars("FINAGENT_UPLOAD_BUCKET"),
			Destination: &uploadBucket,
		},
		&cli.StringFlag{
			Name:        "upload-key",
			Usage:       "Object key of the upload, defaults to the output file name",
			Destination: &uploadKey,
		},
	}
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a synthetic transaction ledger as CSV",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.From(ctx)

			catalog := generate.DefaultCatalog()
			if catalogPath != "" {
				loaded, err := generate.LoadCatalog(catalogPath)
				if err != nil {
					return err
				}
				catalog = loaded
			}

			startingBalance, err := decimal.NewFromString(balance)
			if err != nil {
				return goerr.Wrap(model.ErrInvalidConfig, "invalid starting balance",
					goerr.V("value", balance), goerr.V("error", err.Error()))
			}

			gen, err := generate.New(catalog,
				generate.WithSeed(seed),
				generate.WithStartDate(startDate),
				generate.WithStartingBalance(startingBalance),
			)
			if err != nil {
				return err
			}

			// Resolve the upload target before writing anything
			var upload func(ctx context.Context, data []byte) error
			if uploadBucket != "" {
				store, err := cfg.newObjectStore(ctx)
				if err != nil {
					return err
				}
				key := uploadKey
				if key == "" {
					if outputPath == stdoutPath {
						return goerr.Wrap(model.ErrInvalidConfig, "upload-key is required when writing to stdout")
					}
					key = filepath.Base(outputPath)
				}
				upload = func(ctx context.Context, data []byte) error {
					if err := store.Put(ctx, uploadBucket, key, bytes.NewReader(data), csvContentType); err != nil {
						return err
					}
					logger.Info("uploaded ledger", "bucket", uploadBucket, "key", key)
					return nil
				}
			}

			logger.Info("generating ledger", "rows", rows, "seed", gen.Seed(), "start_date", startDate.Format(time.DateOnly))
			txns, err := gen.Generate(int(rows))
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := generate.WriteCSV(&buf, txns); err != nil {
				return err
			}

			summaryOut := c.Root().Writer
			if outputPath == stdoutPath {
				if _, err := c.Root().Writer.Write(buf.Bytes()); err != nil {
					return goerr.Wrap(err, "failed to write ledger to stdout")
				}
				summaryOut = c.Root().ErrWriter
			} else {
				if err := writeFile(outputPath, buf.Bytes()); err != nil {
					return err
				}
			}

			if upload != nil {
				if err := upload(ctx, buf.Bytes()); err != nil {
					return err
				}
			}

			generate.PrintSummary(summaryOut, txns, outputPath, summaryRows)
			return nil
		},
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return goerr.Wrap(err, "failed to create output directory", goerr.V("dir", dir))
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return goerr.Wrap(err, "failed to write output file", goerr.V("path", path))
	}
	return nil
}
