package adapter

import (
	"context"

	"github.com/m-mizutani/finagent/pkg/model"
)

// QueryService is an asynchronous managed SQL service
type QueryService interface {
	// Submit starts the query and returns its execution ID
	Submit(ctx context.Context, sql string) (string, error)

	// Status returns the current state of the execution
	Status(ctx context.Context, executionID string) (*model.ExecutionStatus, error)

	// Fetch returns every result row of a succeeded execution, the header row first.
	// A missing value is rendered as model.NullCell.
	Fetch(ctx context.Context, executionID string) ([][]string, error)

	// Cancel stops a running execution
	Cancel(ctx context.Context, executionID string) error
}
