package adapter

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// AthenaAPI is the subset of the Athena client used by the query service
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

type athenaClient struct {
	api            AthenaAPI
	database       string
	outputLocation string
	workGroup      string
}

// AthenaOption is a functional option for the Athena query service
type AthenaOption func(*athenaClient)

// WithWorkGroup runs queries in the given workgroup instead of the account default
func WithWorkGroup(workGroup string) AthenaOption {
	return func(c *athenaClient) {
		c.workGroup = workGroup
	}
}

// NewAthena creates an Athena query service with credentials from the AWS default chain
func NewAthena(ctx context.Context, database, outputLocation string, opts ...AthenaOption) (QueryService, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load AWS config")
	}
	return NewAthenaFromAPI(athena.NewFromConfig(cfg), database, outputLocation, opts...), nil
}

// NewAthenaFromAPI creates an Athena query service on top of an existing client
func NewAthenaFromAPI(api AthenaAPI, database, outputLocation string, opts ...AthenaOption) QueryService {
	c := &athenaClient{
		api:            api,
		database:       database,
		outputLocation: outputLocation,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *athenaClient) Submit(ctx context.Context, sql string) (string, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(c.database),
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(c.outputLocation),
		},
	}
	if c.workGroup != "" {
		input.WorkGroup = aws.String(c.workGroup)
	}

	out, err := c.api.StartQueryExecution(ctx, input)
	if err != nil {
		return "", goerr.Wrap(err, "failed to start query execution", goerr.V("database", c.database))
	}
	return aws.ToString(out.QueryExecutionId), nil
}

func (c *athenaClient) Status(ctx context.Context, executionID string) (*model.ExecutionStatus, error) {
	out, err := c.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get query execution", goerr.V("execution_id", executionID))
	}
	if out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return nil, goerr.New("query execution has no status", goerr.V("execution_id", executionID))
	}

	status := out.QueryExecution.Status
	result := &model.ExecutionStatus{
		State:  athenaState(status.State),
		Reason: aws.ToString(status.StateChangeReason),
	}
	if result.State == model.ExecutionStateFailed && result.Reason == "" && status.AthenaError != nil {
		result.Reason = aws.ToString(status.AthenaError.ErrorMessage)
	}
	return result, nil
}

func athenaState(state types.QueryExecutionState) model.ExecutionState {
	switch state {
	case types.QueryExecutionStateSucceeded:
		return model.ExecutionStateSucceeded
	case types.QueryExecutionStateFailed:
		return model.ExecutionStateFailed
	case types.QueryExecutionStateCancelled:
		return model.ExecutionStateCancelled
	default:
		// QUEUED and RUNNING
		return model.ExecutionStateRunning
	}
}

func (c *athenaClient) Fetch(ctx context.Context, executionID string) ([][]string, error) {
	paginator := athena.NewGetQueryResultsPaginator(c.api, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(executionID),
	})

	var rows [][]string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get query results", goerr.V("execution_id", executionID))
		}
		if page.ResultSet == nil {
			continue
		}

		for _, row := range page.ResultSet.Rows {
			cells := make([]string, len(row.Data))
			for i, datum := range row.Data {
				if datum.VarCharValue == nil {
					cells[i] = model.NullCell
					continue
				}
				cells[i] = *datum.VarCharValue
			}
			rows = append(rows, cells)
		}
	}

	return rows, nil
}

func (c *athenaClient) Cancel(ctx context.Context, executionID string) error {
	if _, err := c.api.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	}); err != nil {
		return goerr.Wrap(err, "failed to stop query execution", goerr.V("execution_id", executionID))
	}
	return nil
}
