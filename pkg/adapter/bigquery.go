package adapter

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

type bigqueryClient struct {
	client      *bigquery.Client
	projectID   string
	datasetID   string
	location    string
	scanLimitMB int64
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// WithLocation pins the jobs to a BigQuery location such as "US" or "asia-northeast1"
func WithLocation(location string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.location = location
	}
}

// WithScanLimitMB rejects queries whose dry run reports more than limit MB to
// scan. Zero disables the check.
func WithScanLimitMB(limit int64) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.scanLimitMB = limit
	}
}

// NewBigQuery creates a query service running jobs in projectID with datasetID as
// the default dataset for unqualified table names
func NewBigQuery(ctx context.Context, projectID, datasetID string, opts ...BigQueryOption) (QueryService, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	bq := &bigqueryClient{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}

	for _, opt := range opts {
		opt(bq)
	}
	if bq.location != "" {
		client.Location = bq.location
	}

	return bq, nil
}

func (bq *bigqueryClient) query(sql string) *bigquery.Query {
	q := bq.client.Query(sql)
	q.DefaultProjectID = bq.projectID
	q.DefaultDatasetID = bq.datasetID
	return q
}

// dryRun returns the number of bytes the query would scan
func (bq *bigqueryClient) dryRun(ctx context.Context, sql string) (int64, error) {
	q := bq.query(sql)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.New("no statistics available from dry-run")
	}

	return status.Statistics.TotalBytesProcessed, nil
}

func (bq *bigqueryClient) Submit(ctx context.Context, sql string) (string, error) {
	if bq.scanLimitMB > 0 {
		scanBytes, err := bq.dryRun(ctx, sql)
		if err != nil {
			return "", err
		}
		if err := checkScanLimit(scanBytes, bq.scanLimitMB); err != nil {
			return "", err
		}
	}

	job, err := bq.query(sql).Run(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to run query", goerr.V("dataset", bq.datasetID))
	}

	return job.ID(), nil
}

func (bq *bigqueryClient) job(ctx context.Context, jobID string) (*bigquery.Job, error) {
	var (
		job *bigquery.Job
		err error
	)
	if bq.location != "" {
		job, err = bq.client.JobFromIDLocation(ctx, jobID, bq.location)
	} else {
		job, err = bq.client.JobFromID(ctx, jobID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get job from ID", goerr.V("job_id", jobID))
	}
	return job, nil
}

func (bq *bigqueryClient) Status(ctx context.Context, jobID string) (*model.ExecutionStatus, error) {
	job, err := bq.job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status, err := job.Status(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get job status", goerr.V("job_id", jobID))
	}

	if !status.Done() {
		return &model.ExecutionStatus{State: model.ExecutionStateRunning}, nil
	}
	if status.Err() != nil {
		return &model.ExecutionStatus{
			State:  model.ExecutionStateFailed,
			Reason: status.Err().Error(),
		}, nil
	}
	return &model.ExecutionStatus{State: model.ExecutionStateSucceeded}, nil
}

func (bq *bigqueryClient) Fetch(ctx context.Context, jobID string) ([][]string, error) {
	job, err := bq.job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result", goerr.V("job_id", jobID))
	}

	var body [][]string
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result", goerr.V("job_id", jobID))
		}

		body = append(body, stringifyRow(values))
	}

	// BigQuery returns the column names in the schema, not as a row
	header := make([]string, len(it.Schema))
	for i, field := range it.Schema {
		header[i] = field.Name
	}

	return append([][]string{header}, body...), nil
}

func checkScanLimit(scanBytes, limitMB int64) error {
	if scanBytes <= limitMB*1024*1024 {
		return nil
	}
	return goerr.Wrap(model.ErrQueryRejected,
		fmt.Sprintf("query would scan %.2f MB, which exceeds the limit of %d MB",
			float64(scanBytes)/1024/1024, limitMB),
		goerr.V("scan_bytes", scanBytes))
}

func stringifyRow(values []bigquery.Value) []string {
	cells := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			cells[i] = model.NullCell
			continue
		}
		cells[i] = fmt.Sprint(v)
	}
	return cells
}

func (bq *bigqueryClient) Cancel(ctx context.Context, jobID string) error {
	job, err := bq.job(ctx, jobID)
	if err != nil {
		return err
	}
	if err := job.Cancel(ctx); err != nil {
		return goerr.Wrap(err, "failed to cancel job", goerr.V("job_id", jobID))
	}
	return nil
}
