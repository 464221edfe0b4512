package agent

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/sql.md
var sqlPromptRaw string

//go:embed prompt/explain.md
var explainPromptRaw string

var (
	sqlPromptTmpl     = template.Must(template.New("sql").Parse(sqlPromptRaw))
	explainPromptTmpl = template.Must(template.New("explain").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(explainPromptRaw))
)

// Progress is notified while a query is running on the service
type Progress interface {
	Start(message string)
	Stop()
}

// Agent answers a question about the ledger in one turn: it asks the model for
// SQL, runs it and asks the model to explain the outcome
type Agent struct {
	gemini   adapter.Gemini
	executor *Executor
	schema   *Schema
	guard    *Guard
	output   io.Writer
	progress Progress
}

// Option is a functional option for Agent
type Option func(*Agent)

// WithGuard checks generated SQL against a policy before running it
func WithGuard(guard *Guard) Option {
	return func(a *Agent) {
		a.guard = guard
	}
}

// WithOutput sets the output writer for status messages
func WithOutput(w io.Writer) Option {
	return func(a *Agent) {
		a.output = w
	}
}

// WithProgress sets the indicator shown while a query runs
func WithProgress(p Progress) Option {
	return func(a *Agent) {
		a.progress = p
	}
}

// New creates an Agent
func New(gemini adapter.Gemini, executor *Executor, schema *Schema, opts ...Option) *Agent {
	a := &Agent{
		gemini:   gemini,
		executor: executor,
		schema:   schema,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type sqlPromptData struct {
	Service  string
	Dialect  string
	Table    string
	Columns  []Column
	Question string
}

type explainPromptData struct {
	Question string
	SQL      string
	Rows     [][]string
	Failure  string
}

// Ask runs one turn for question. Failed, cancelled, timed out and rejected
// queries still produce an explanation; an error means the model or the query
// service could not be reached.
func (a *Agent) Ask(ctx context.Context, question string) (*model.QuerySession, error) {
	session := &model.QuerySession{Question: question}

	var prompt bytes.Buffer
	if err := sqlPromptTmpl.Execute(&prompt, sqlPromptData{
		Service:  a.schema.Dialect.Service,
		Dialect:  a.schema.Dialect.Name,
		Table:    a.schema.Table,
		Columns:  a.schema.Columns,
		Question: question,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render SQL prompt")
	}

	raw, err := a.generate(ctx, prompt.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate SQL", goerr.V("question", question))
	}
	session.SQL = ExtractSQL(raw)

	result, err := a.execute(ctx, session.SQL)
	if err != nil {
		return nil, err
	}
	session.Result = result

	prompt.Reset()
	if err := explainPromptTmpl.Execute(&prompt, explainPromptData{
		Question: question,
		SQL:      session.SQL,
		Rows:     result.Rows,
		Failure:  result.Failure,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render explanation prompt")
	}

	explanation, err := a.generate(ctx, prompt.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate explanation", goerr.V("question", question))
	}
	session.Explanation = strings.TrimSpace(explanation)

	return session, nil
}

func (a *Agent) execute(ctx context.Context, sql string) (*model.QueryResult, error) {
	logger := logging.From(ctx)

	if sql == "" {
		return &model.QueryResult{Failure: "the model did not produce a SQL query"}, nil
	}

	if a.guard != nil {
		verdict, err := a.guard.Check(ctx, sql)
		if err != nil {
			return nil, err
		}
		if !verdict.Allow {
			logger.Warn("query rejected by policy", "sql", sql, "reasons", verdict.Reasons)
			reason := "query rejected by policy"
			if len(verdict.Reasons) > 0 {
				reason += ": " + strings.Join(verdict.Reasons, "; ")
			}
			return &model.QueryResult{Failure: reason}, nil
		}
	}

	if a.output != nil {
		fmt.Fprintf(a.output, "Running SQL: %s\n", sql)
	}

	if a.progress != nil {
		a.progress.Start("waiting for query results")
		defer a.progress.Stop()
	}

	result, err := a.executor.Run(ctx, sql)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to execute query", goerr.V("sql", sql))
	}
	if result.Failed() {
		logger.Info("query did not succeed", "sql", sql, "reason", result.Failure)
	} else {
		logger.Debug("query succeeded", "sql", sql, "rows", len(result.Rows))
	}
	return result, nil
}

func (a *Agent) generate(ctx context.Context, prompt string) (string, error) {
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := a.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("empty response from Gemini")
	}

	var textParts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			textParts = append(textParts, part.Text)
		}
	}
	if len(textParts) == 0 {
		return "", goerr.New("no text in Gemini response")
	}
	return strings.Join(textParts, ""), nil
}
