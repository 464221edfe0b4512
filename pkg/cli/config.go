package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/agent"
	"github.com/m-mizutani/finagent/pkg/usecase/convert"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	queryBackendAthena   = "athena"
	queryBackendBigQuery = "bigquery"

	storageBackendS3    = "s3"
	storageBackendGCS   = "gcs"
	storageBackendLocal = "local"
)

// config holds configuration values
type config struct {
	// LLM
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	model          string

	// Query service
	queryBackend     string
	database         string
	table            string
	outputLocation   string
	athenaWorkGroup  string
	bigqueryProject  string
	bigqueryLocation string
	scanLimitMB      int64

	// Polling and guard
	pollInterval    time.Duration
	pollMaxInterval time.Duration
	queryTimeout    time.Duration
	queryPolicy     string
	allowAnySQL     bool

	// Object store
	storageBackend string
	s3Region       string
	s3Endpoint     string
	s3AccessKey    string
	s3SecretKey    string
	localRoot      string

	// Conversion destination
	processedBucket string
	processedPrefix string
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key (takes precedence over Vertex AI)",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Gemini model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("FINAGENT_MODEL"),
			Destination: &cfg.model,
		},
	}
}

// queryFlags returns flags selecting and configuring the managed query service
func queryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "query-backend",
			Usage:       "Query service (athena or bigquery)",
			Value:       queryBackendAthena,
			Sources:     cli.EnvVars("FINAGENT_QUERY_BACKEND"),
			Destination: &cfg.queryBackend,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Catalog database (BigQuery dataset) holding the ledger table",
			Value:       "finance_db",
			Sources:     cli.EnvVars("FINAGENT_DATABASE"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "table",
			Usage:       "Ledger table name",
			Value:       "transactions",
			Sources:     cli.EnvVars("FINAGENT_TABLE"),
			Destination: &cfg.table,
		},
		&cli.StringFlag{
			Name:        "output-location",
			Usage:       "Athena query result location (s3://bucket/prefix/)",
			Sources:     cli.EnvVars("FINAGENT_OUTPUT_LOCATION"),
			Destination: &cfg.outputLocation,
		},
		&cli.StringFlag{
			Name:        "athena-workgroup",
			Usage:       "Athena workgroup",
			Sources:     cli.EnvVars("FINAGENT_ATHENA_WORKGROUP"),
			Destination: &cfg.athenaWorkGroup,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID running BigQuery jobs",
			Sources:     cli.EnvVars("FINAGENT_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-location",
			Usage:       "BigQuery job location",
			Sources:     cli.EnvVars("FINAGENT_BIGQUERY_LOCATION"),
			Destination: &cfg.bigqueryLocation,
		},
		&cli.IntFlag{
			Name:        "bigquery-scan-limit-mb",
			Usage:       "Reject BigQuery queries that would scan more than this many MB (0 disables)",
			Value:       1024,
			Sources:     cli.EnvVars("FINAGENT_BIGQUERY_SCAN_LIMIT_MB"),
			Destination: &cfg.scanLimitMB,
		},
		&cli.DurationFlag{
			Name:        "poll-interval",
			Usage:       "First wait between query status checks",
			Value:       agent.DefaultPollInterval,
			Sources:     cli.EnvVars("FINAGENT_POLL_INTERVAL"),
			Destination: &cfg.pollInterval,
		},
		&cli.DurationFlag{
			Name:        "poll-max-interval",
			Usage:       "Upper bound of the wait between query status checks",
			Value:       agent.DefaultPollMaxInterval,
			Sources:     cli.EnvVars("FINAGENT_POLL_MAX_INTERVAL"),
			Destination: &cfg.pollMaxInterval,
		},
		&cli.DurationFlag{
			Name:        "query-timeout",
			Usage:       "Maximum time to wait for a query to finish",
			Value:       agent.DefaultQueryTimeout,
			Sources:     cli.EnvVars("FINAGENT_QUERY_TIMEOUT"),
			Destination: &cfg.queryTimeout,
		},
		&cli.StringFlag{
			Name:        "query-policy",
			Usage:       "Rego policy file checked before a query is submitted",
			Sources:     cli.EnvVars("FINAGENT_QUERY_POLICY"),
			Destination: &cfg.queryPolicy,
		},
		&cli.BoolFlag{
			Name:        "allow-any-sql",
			Usage:       "Submit generated SQL without the policy check",
			Sources:     cli.EnvVars("FINAGENT_ALLOW_ANY_SQL"),
			Destination: &cfg.allowAnySQL,
		},
	}
}

// storageFlags returns flags for the object store backend
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-backend",
			Usage:       "Object store (s3, gcs or local)",
			Value:       storageBackendS3,
			Sources:     cli.EnvVars("FINAGENT_STORAGE_BACKEND"),
			Destination: &cfg.storageBackend,
		},
		&cli.StringFlag{
			Name:        "s3-region",
			Usage:       "AWS region for S3, defaults to the AWS configuration chain",
			Sources:     cli.EnvVars("FINAGENT_S3_REGION"),
			Destination: &cfg.s3Region,
		},
		&cli.StringFlag{
			Name:        "s3-endpoint",
			Usage:       "Custom S3 endpoint such as a MinIO server",
			Sources:     cli.EnvVars("FINAGENT_S3_ENDPOINT"),
			Destination: &cfg.s3Endpoint,
		},
		&cli.StringFlag{
			Name:        "s3-access-key-id",
			Usage:       "Static access key for the custom S3 endpoint",
			Sources:     cli.EnvVars("FINAGENT_S3_ACCESS_KEY_ID"),
			Destination: &cfg.s3AccessKey,
		},
		&cli.StringFlag{
			Name:        "s3-secret-access-key",
			Usage:       "Static secret key for the custom S3 endpoint",
			Sources:     cli.EnvVars("FINAGENT_S3_SECRET_ACCESS_KEY"),
			Destination: &cfg.s3SecretKey,
		},
		&cli.StringFlag{
			Name:        "local-root",
			Usage:       "Directory holding one subdirectory per bucket for the local backend",
			Value:       "data/buckets",
			Sources:     cli.EnvVars("FINAGENT_LOCAL_ROOT"),
			Destination: &cfg.localRoot,
		},
	}
}

// destinationFlags returns flags for the converted output location
func destinationFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "processed-bucket",
			Usage:       "Bucket receiving converted Parquet files",
			Sources:     cli.EnvVars("PROCESSED_BUCKET_NAME"),
			Destination: &cfg.processedBucket,
		},
		&cli.StringFlag{
			Name:        "processed-prefix",
			Usage:       "Key prefix of converted Parquet files",
			Sources:     cli.EnvVars("FINAGENT_PROCESSED_PREFIX"),
			Destination: &cfg.processedPrefix,
		},
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	opts := []adapter.GeminiOption{adapter.WithGenerativeModel(cfg.model)}

	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
	}
	if cfg.geminiProject == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "gemini-api-key or gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newQueryService creates the selected query service and the schema the
// model writes SQL against
func (cfg *config) newQueryService(ctx context.Context) (adapter.QueryService, *agent.Schema, error) {
	if cfg.database == "" {
		return nil, nil, goerr.Wrap(model.ErrInvalidConfig, "database is required")
	}
	if cfg.table == "" {
		return nil, nil, goerr.Wrap(model.ErrInvalidConfig, "table is required")
	}
	table := cfg.database + "." + cfg.table

	switch cfg.queryBackend {
	case queryBackendAthena:
		if cfg.outputLocation == "" {
			return nil, nil, goerr.Wrap(model.ErrInvalidConfig, "output-location is required for Athena")
		}
		var opts []adapter.AthenaOption
		if cfg.athenaWorkGroup != "" {
			opts = append(opts, adapter.WithWorkGroup(cfg.athenaWorkGroup))
		}
		svc, err := adapter.NewAthena(ctx, cfg.database, cfg.outputLocation, opts...)
		if err != nil {
			return nil, nil, err
		}
		return svc, agent.LedgerSchema(agent.DialectAthena, table), nil

	case queryBackendBigQuery:
		if cfg.bigqueryProject == "" {
			return nil, nil, goerr.Wrap(model.ErrInvalidConfig, "bigquery-project is required for BigQuery")
		}
		opts := []adapter.BigQueryOption{adapter.WithScanLimitMB(cfg.scanLimitMB)}
		if cfg.bigqueryLocation != "" {
			opts = append(opts, adapter.WithLocation(cfg.bigqueryLocation))
		}
		svc, err := adapter.NewBigQuery(ctx, cfg.bigqueryProject, cfg.database, opts...)
		if err != nil {
			return nil, nil, err
		}
		return svc, agent.LedgerSchema(agent.DialectBigQuery, table), nil

	default:
		return nil, nil, goerr.Wrap(model.ErrInvalidConfig, "unsupported query backend",
			goerr.V("backend", cfg.queryBackend))
	}
}

// newGuard returns nil when the policy check is disabled
func (cfg *config) newGuard(ctx context.Context) (*agent.Guard, error) {
	if cfg.allowAnySQL {
		return nil, nil
	}
	if cfg.queryPolicy != "" {
		return agent.NewGuardFromFile(ctx, cfg.queryPolicy)
	}
	return agent.NewGuard(ctx)
}

// newAgent wires the LLM, the query service and the guard into an Agent
func (cfg *config) newAgent(ctx context.Context, opts ...agent.Option) (*agent.Agent, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}

	svc, schema, err := cfg.newQueryService(ctx)
	if err != nil {
		return nil, err
	}

	executor, err := agent.NewExecutor(svc,
		agent.WithPollInterval(cfg.pollInterval),
		agent.WithPollMaxInterval(cfg.pollMaxInterval),
		agent.WithQueryTimeout(cfg.queryTimeout),
	)
	if err != nil {
		return nil, err
	}

	guard, err := cfg.newGuard(ctx)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		opts = append(opts, agent.WithGuard(guard))
	}

	return agent.New(gemini, executor, schema, opts...), nil
}

// newObjectStore creates the selected object store
func (cfg *config) newObjectStore(ctx context.Context) (adapter.ObjectStore, error) {
	switch cfg.storageBackend {
	case storageBackendS3:
		var opts []adapter.S3Option
		if cfg.s3Region != "" {
			opts = append(opts, adapter.WithS3Region(cfg.s3Region))
		}
		if cfg.s3Endpoint != "" {
			opts = append(opts, adapter.WithS3Endpoint(cfg.s3Endpoint))
		}
		if cfg.s3AccessKey != "" || cfg.s3SecretKey != "" {
			if cfg.s3AccessKey == "" || cfg.s3SecretKey == "" {
				return nil, goerr.Wrap(model.ErrInvalidConfig, "both s3-access-key-id and s3-secret-access-key are required")
			}
			opts = append(opts, adapter.WithS3StaticCredentials(cfg.s3AccessKey, cfg.s3SecretKey))
		}
		return adapter.NewS3(ctx, opts...)

	case storageBackendGCS:
		return adapter.NewStorage(ctx)

	case storageBackendLocal:
		if cfg.localRoot == "" {
			return nil, goerr.Wrap(model.ErrInvalidConfig, "local-root is required for the local backend")
		}
		return adapter.NewLocalStore(cfg.localRoot), nil

	default:
		return nil, goerr.Wrap(model.ErrInvalidConfig, "unsupported storage backend",
			goerr.V("backend", cfg.storageBackend))
	}
}

// newConverter creates the conversion worker writing into the processed bucket
func (cfg *config) newConverter(ctx context.Context) (*convert.Converter, error) {
	if cfg.processedBucket == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "processed-bucket is required")
	}

	store, err := cfg.newObjectStore(ctx)
	if err != nil {
		return nil, err
	}

	return convert.New(store, cfg.processedBucket, convert.WithPrefix(cfg.processedPrefix))
}
