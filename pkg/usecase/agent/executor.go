package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultPollInterval    = time.Second
	DefaultPollMaxInterval = 10 * time.Second
	DefaultQueryTimeout    = 5 * time.Minute

	cancelTimeout = 10 * time.Second
)

// Executor submits SQL to the query service and waits for a terminal state,
// polling with exponential backoff
type Executor struct {
	svc             adapter.QueryService
	initialInterval time.Duration
	maxInterval     time.Duration
	timeout         time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// ExecutorOption is a functional option for Executor
type ExecutorOption func(*Executor)

// WithPollInterval sets the first wait between status checks
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.initialInterval = d
	}
}

// WithPollMaxInterval caps the wait between status checks
func WithPollMaxInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.maxInterval = d
	}
}

// WithQueryTimeout bounds the total wait for a terminal state
func WithQueryTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithClock replaces the wall clock and the sleep used between polls
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		e.now = now
		e.sleep = sleep
	}
}

// NewExecutor creates an Executor. Non-positive durations are rejected.
func NewExecutor(svc adapter.QueryService, opts ...ExecutorOption) (*Executor, error) {
	e := &Executor{
		svc:             svc,
		initialInterval: DefaultPollInterval,
		maxInterval:     DefaultPollMaxInterval,
		timeout:         DefaultQueryTimeout,
		now:             time.Now,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}

	if svc == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "query service is required")
	}
	if e.initialInterval <= 0 || e.maxInterval <= 0 || e.timeout <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "poll intervals and query timeout must be positive",
			goerr.V("interval", e.initialInterval), goerr.V("max_interval", e.maxInterval), goerr.V("timeout", e.timeout))
	}
	if e.maxInterval < e.initialInterval {
		e.maxInterval = e.initialInterval
	}
	return e, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes sql. A query that fails, is cancelled or outlives the timeout
// yields a result carrying the reason. An error is returned only when the
// service cannot be reached or ctx is cancelled.
func (e *Executor) Run(ctx context.Context, sql string) (*model.QueryResult, error) {
	logger := logging.From(ctx)

	id, err := e.svc.Submit(ctx, sql)
	if err != nil {
		if errors.Is(err, model.ErrQueryRejected) {
			logger.Warn("query rejected by the query service", logging.ErrAttr(err))
			return &model.QueryResult{Failure: err.Error()}, nil
		}
		return nil, err
	}
	logger.Debug("query submitted", "execution_id", id)

	deadline := e.now().Add(e.timeout)
	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	interval := e.initialInterval
	for {
		status, err := e.svc.Status(waitCtx, id)
		if err != nil {
			if ctx.Err() != nil {
				e.cancelExecution(ctx, id)
				return nil, goerr.Wrap(ctx.Err(), "interrupted while waiting for query", goerr.V("execution_id", id))
			}
			if waitCtx.Err() != nil {
				return e.abandon(ctx, id), nil
			}
			return nil, err
		}
		logger.Debug("query status", "execution_id", id, "state", status.State)

		if status.State.Terminal() {
			return e.collect(ctx, id, status)
		}

		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return e.abandon(ctx, id), nil
		}

		if err := e.sleep(waitCtx, min(interval, remaining)); err != nil {
			if ctx.Err() != nil {
				e.cancelExecution(ctx, id)
				return nil, goerr.Wrap(ctx.Err(), "interrupted while waiting for query", goerr.V("execution_id", id))
			}
			return e.abandon(ctx, id), nil
		}
		interval = min(interval*2, e.maxInterval)
	}
}

func (e *Executor) collect(ctx context.Context, id string, status *model.ExecutionStatus) (*model.QueryResult, error) {
	switch status.State {
	case model.ExecutionStateSucceeded:
		rows, err := e.svc.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		return &model.QueryResult{Rows: rows}, nil

	case model.ExecutionStateCancelled:
		reason := "query was cancelled"
		if status.Reason != "" {
			reason += ": " + status.Reason
		}
		return &model.QueryResult{Failure: reason}, nil

	default:
		reason := status.Reason
		if reason == "" {
			reason = "query failed without a reason"
		}
		return &model.QueryResult{Failure: reason}, nil
	}
}

// abandon gives up on an execution that outlived the timeout
func (e *Executor) abandon(ctx context.Context, id string) *model.QueryResult {
	logging.From(ctx).Warn("query timed out", "execution_id", id, "timeout", e.timeout)
	e.cancelExecution(ctx, id)
	return &model.QueryResult{Failure: fmt.Sprintf("query did not finish within %s", e.timeout)}
}

// cancelExecution asks the service to stop the query. It runs even when ctx is
// already cancelled; failures are only logged.
func (e *Executor) cancelExecution(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	if err := e.svc.Cancel(cctx, id); err != nil {
		logging.From(ctx).Warn("failed to cancel query", "execution_id", id, logging.ErrAttr(err))
	}
}
