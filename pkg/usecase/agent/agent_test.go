package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type mockGemini struct {
	adapter.Gemini
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generateFunc(ctx, contents, config)
}

type mockQueryService struct {
	adapter.QueryService
	submitFunc func(ctx context.Context, sql string) (string, error)
	statusFunc func(ctx context.Context, id string) (*model.ExecutionStatus, error)
	fetchFunc  func(ctx context.Context, id string) ([][]string, error)
	cancelFunc func(ctx context.Context, id string) error
}

func (m *mockQueryService) Submit(ctx context.Context, sql string) (string, error) {
	return m.submitFunc(ctx, sql)
}

func (m *mockQueryService) Status(ctx context.Context, id string) (*model.ExecutionStatus, error) {
	return m.statusFunc(ctx, id)
}

func (m *mockQueryService) Fetch(ctx context.Context, id string) ([][]string, error) {
	return m.fetchFunc(ctx, id)
}

func (m *mockQueryService) Cancel(ctx context.Context, id string) error {
	return m.cancelFunc(ctx, id)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role:  genai.RoleModel,
					Parts: []*genai.Part{{Text: text}},
				},
			},
		},
	}
}

func promptOf(contents []*genai.Content) string {
	var b strings.Builder
	for _, c := range contents {
		for _, p := range c.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// scriptedGemini answers the SQL prompt with sql and records the explanation prompt
func scriptedGemini(sql string, explainPrompt *string) *mockGemini {
	call := 0
	return &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			call++
			if call == 1 {
				return textResponse(sql), nil
			}
			*explainPrompt = promptOf(contents)
			return textResponse("  You spent $4.50 on coffee.  "), nil
		},
	}
}

// fakeClock advances only when the executor sleeps
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestExecutor(t *testing.T, svc adapter.QueryService, clock *fakeClock, opts ...ExecutorOption) *Executor {
	t.Helper()
	opts = append(opts, WithClock(clock.Now, clock.Sleep))
	e, err := NewExecutor(svc, opts...)
	gt.NoError(t, err)
	return e
}

func succeedingService(rows [][]string, runningPolls int) *mockQueryService {
	polls := 0
	return &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			return "exec-1", nil
		},
		statusFunc: func(ctx context.Context, id string) (*model.ExecutionStatus, error) {
			polls++
			if polls <= runningPolls {
				return &model.ExecutionStatus{State: model.ExecutionStateRunning}, nil
			}
			return &model.ExecutionStatus{State: model.ExecutionStateSucceeded}, nil
		},
		fetchFunc: func(ctx context.Context, id string) ([][]string, error) {
			return rows, nil
		},
	}
}

func TestExtractSQL(t *testing.T) {
	testCases := map[string]string{
		"```sql\nSELECT * FROM t\n```":             "SELECT * FROM t",
		"```\nSELECT 1\n```":                       "SELECT 1",
		"  SELECT category FROM t  \n":             "SELECT category FROM t",
		"SELECT 1":                                 "SELECT 1",
		"Here:\n```sql\nSELECT 2;\n```\nThanks!\n": "Here:\n\nSELECT 2;\n\nThanks!",
	}

	for in, want := range testCases {
		got := ExtractSQL(in)
		gt.Equal(t, got, want)
		gt.S(t, got).NotContains("```")
	}
}

func TestAgent_AskSucceeded(t *testing.T) {
	var explainPrompt string
	gemini := scriptedGemini("```sql\nSELECT SUM(amount) AS total FROM finance_db.transactions WHERE description LIKE '%Starbucks%'\n```", &explainPrompt)

	var submitted string
	svc := succeedingService([][]string{{"total"}, {"4.5"}}, 2)
	submit := svc.submitFunc
	svc.submitFunc = func(ctx context.Context, sql string) (string, error) {
		submitted = sql
		return submit(ctx, sql)
	}

	clock := &fakeClock{now: time.Now()}
	var out bytes.Buffer
	a := New(gemini, newTestExecutor(t, svc, clock), LedgerSchema(DialectAthena, "finance_db.transactions"), WithOutput(&out))

	session, err := a.Ask(context.Background(), "How much did I spend at Starbucks?")
	gt.NoError(t, err)
	gt.Equal(t, submitted, "SELECT SUM(amount) AS total FROM finance_db.transactions WHERE description LIKE '%Starbucks%'")
	gt.Equal(t, session.SQL, submitted)
	gt.Equal(t, session.Result.Rows, [][]string{{"total"}, {"4.5"}})
	gt.Equal(t, session.Explanation, "You spent $4.50 on coffee.")
	gt.S(t, out.String()).Contains("Running SQL: SELECT SUM(amount)")

	gt.S(t, explainPrompt).Contains("How much did I spend at Starbucks?")
	gt.S(t, explainPrompt).Contains(submitted)
	gt.S(t, explainPrompt).Contains("total")
	gt.S(t, explainPrompt).Contains("4.5")
}

func TestAgent_SQLPromptDescribesSchema(t *testing.T) {
	var sqlPrompt string
	gemini := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if sqlPrompt == "" {
				sqlPrompt = promptOf(contents)
				return textResponse("SELECT 1"), nil
			}
			return textResponse("ok"), nil
		},
	}
	clock := &fakeClock{now: time.Now()}
	a := New(gemini, newTestExecutor(t, succeedingService(nil, 0), clock),
		LedgerSchema(DialectBigQuery, "finance.transactions"))

	_, err := a.Ask(context.Background(), "What is my balance?")
	gt.NoError(t, err)
	gt.S(t, sqlPrompt).Contains("BigQuery table named `finance.transactions`")
	gt.S(t, sqlPrompt).Contains("GoogleSQL")
	gt.S(t, sqlPrompt).Contains("running_balance (FLOAT64)")
	gt.S(t, sqlPrompt).Contains("'Credit' (income) or 'Debit' (expense)")
	gt.S(t, sqlPrompt).Contains("Food & Drink")
	gt.S(t, sqlPrompt).Contains(`"What is my balance?"`)
}

func TestAgent_FailedQueryReachesExplanation(t *testing.T) {
	var explainPrompt string
	gemini := scriptedGemini("SELECT amt FROM finance_db.transactions", &explainPrompt)

	fetched := false
	svc := &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			return "exec-2", nil
		},
		statusFunc: func(ctx context.Context, id string) (*model.ExecutionStatus, error) {
			return &model.ExecutionStatus{
				State:  model.ExecutionStateFailed,
				Reason: "COLUMN_NOT_FOUND: Column 'amt' cannot be resolved",
			}, nil
		},
		fetchFunc: func(ctx context.Context, id string) ([][]string, error) {
			fetched = true
			return nil, nil
		},
	}

	clock := &fakeClock{now: time.Now()}
	a := New(gemini, newTestExecutor(t, svc, clock), LedgerSchema(DialectAthena, "finance_db.transactions"))

	session, err := a.Ask(context.Background(), "What did I spend?")
	gt.NoError(t, err)
	gt.False(t, fetched)
	gt.True(t, session.Result.Failed())
	gt.Equal(t, session.Result.Failure, "COLUMN_NOT_FOUND: Column 'amt' cannot be resolved")
	gt.S(t, explainPrompt).Contains("COLUMN_NOT_FOUND: Column 'amt' cannot be resolved")
	gt.S(t, explainPrompt).NotContains("Data returned")
	gt.Equal(t, session.Explanation, "You spent $4.50 on coffee.")
}

func TestAgent_PolicyRejection(t *testing.T) {
	var explainPrompt string
	gemini := scriptedGemini("DROP TABLE finance_db.transactions", &explainPrompt)

	svc := &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			t.Fatal("rejected SQL must not be submitted")
			return "", nil
		},
	}

	guard, err := NewGuard(context.Background())
	gt.NoError(t, err)

	clock := &fakeClock{now: time.Now()}
	var out bytes.Buffer
	a := New(gemini, newTestExecutor(t, svc, clock), LedgerSchema(DialectAthena, "finance_db.transactions"), WithGuard(guard), WithOutput(&out))

	session, err := a.Ask(context.Background(), "Delete everything")
	gt.NoError(t, err)
	gt.True(t, session.Result.Failed())
	gt.S(t, session.Result.Failure).Contains("rejected by policy")
	gt.S(t, explainPrompt).Contains("rejected by policy")
	gt.S(t, out.String()).NotContains("Running SQL")
}

func TestAgent_UpstreamErrors(t *testing.T) {
	t.Run("model unavailable", func(t *testing.T) {
		gemini := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("quota exceeded")
			},
		}
		clock := &fakeClock{now: time.Now()}
		a := New(gemini, newTestExecutor(t, succeedingService(nil, 0), clock), LedgerSchema(DialectAthena, "t"))
		_, err := a.Ask(context.Background(), "q")
		gt.Error(t, err)
	})

	t.Run("empty model response", func(t *testing.T) {
		gemini := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{}, nil
			},
		}
		clock := &fakeClock{now: time.Now()}
		a := New(gemini, newTestExecutor(t, succeedingService(nil, 0), clock), LedgerSchema(DialectAthena, "t"))
		_, err := a.Ask(context.Background(), "q")
		gt.Error(t, err)
	})

	t.Run("query service unavailable", func(t *testing.T) {
		var explainPrompt string
		svc := &mockQueryService{
			submitFunc: func(ctx context.Context, sql string) (string, error) {
				return "", errors.New("throttled")
			},
		}
		clock := &fakeClock{now: time.Now()}
		a := New(scriptedGemini("SELECT 1", &explainPrompt), newTestExecutor(t, svc, clock), LedgerSchema(DialectAthena, "t"))
		_, err := a.Ask(context.Background(), "q")
		gt.Error(t, err)
		gt.Equal(t, explainPrompt, "")
	})
}

func TestExecutor_Backoff(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := succeedingService([][]string{{"n"}, {"1"}}, 6)
	e := newTestExecutor(t, svc, clock, WithPollMaxInterval(10*time.Second))

	result, err := e.Run(context.Background(), "SELECT 1")
	gt.NoError(t, err)
	gt.False(t, result.Failed())
	gt.Equal(t, clock.sleeps, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	})
}

func TestExecutor_Timeout(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var cancelled string
	svc := &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			return "exec-slow", nil
		},
		statusFunc: func(ctx context.Context, id string) (*model.ExecutionStatus, error) {
			return &model.ExecutionStatus{State: model.ExecutionStateRunning}, nil
		},
		cancelFunc: func(ctx context.Context, id string) error {
			cancelled = id
			return nil
		},
	}

	e := newTestExecutor(t, svc, clock, WithQueryTimeout(30*time.Second))
	result, err := e.Run(context.Background(), "SELECT 1")
	gt.NoError(t, err)
	gt.True(t, result.Failed())
	gt.Equal(t, result.Failure, "query did not finish within 30s")
	gt.Equal(t, cancelled, "exec-slow")
	gt.Equal(t, clock.sleeps, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 5 * time.Second,
	})
}

func TestExecutor_CancelledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{now: time.Now()}
	var cancelled bool
	svc := &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			return "exec-3", nil
		},
		statusFunc: func(ctx context.Context, id string) (*model.ExecutionStatus, error) {
			cancel()
			return &model.ExecutionStatus{State: model.ExecutionStateRunning}, nil
		},
		cancelFunc: func(cctx context.Context, id string) error {
			// the service must be reachable although the caller gave up
			gt.NoError(t, cctx.Err())
			cancelled = true
			return nil
		},
	}

	e := newTestExecutor(t, svc, clock)
	_, err := e.Run(ctx, "SELECT 1")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.True(t, cancelled)
}

func TestExecutor_CancelledDuringStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cancelCalls int
	svc := &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			return "exec-4", nil
		},
		statusFunc: func(ctx context.Context, id string) (*model.ExecutionStatus, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		cancelFunc: func(cctx context.Context, id string) error {
			gt.NoError(t, cctx.Err())
			gt.Equal(t, id, "exec-4")
			cancelCalls++
			return nil
		},
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	e := newTestExecutor(t, svc, &fakeClock{now: time.Now()})
	res, err := e.Run(ctx, "SELECT 1")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.True(t, res == nil)
	gt.Equal(t, cancelCalls, 1)
}

func TestExecutor_TerminalStates(t *testing.T) {
	testCases := map[string]struct {
		status  *model.ExecutionStatus
		failure string
	}{
		"failed with reason": {
			status:  &model.ExecutionStatus{State: model.ExecutionStateFailed, Reason: "SYNTAX_ERROR"},
			failure: "SYNTAX_ERROR",
		},
		"failed without reason": {
			status:  &model.ExecutionStatus{State: model.ExecutionStateFailed},
			failure: "query failed without a reason",
		},
		"cancelled": {
			status:  &model.ExecutionStatus{State: model.ExecutionStateCancelled, Reason: "user request"},
			failure: "query was cancelled: user request",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			svc := &mockQueryService{
				submitFunc: func(ctx context.Context, sql string) (string, error) {
					return "exec", nil
				},
				statusFunc: func(ctx context.Context, id string) (*model.ExecutionStatus, error) {
					return tc.status, nil
				},
			}
			e := newTestExecutor(t, svc, &fakeClock{now: time.Now()})
			result, err := e.Run(context.Background(), "SELECT 1")
			gt.NoError(t, err)
			gt.Equal(t, result.Failure, tc.failure)
		})
	}
}

func TestExecutor_RejectedBySubmit(t *testing.T) {
	svc := &mockQueryService{
		submitFunc: func(ctx context.Context, sql string) (string, error) {
			return "", goerr.Wrap(model.ErrQueryRejected, "query would scan 2048.00 MB, which exceeds the limit of 1024 MB")
		},
	}
	e := newTestExecutor(t, svc, &fakeClock{now: time.Now()})
	result, err := e.Run(context.Background(), "SELECT * FROM big")
	gt.NoError(t, err)
	gt.True(t, result.Failed())
	gt.S(t, result.Failure).Contains("exceeds the limit of 1024 MB")

	svc.submitFunc = func(ctx context.Context, sql string) (string, error) {
		return "", errors.New("network down")
	}
	_, err = e.Run(context.Background(), "SELECT 1")
	gt.Error(t, err)
}

func TestNewExecutor_InvalidConfig(t *testing.T) {
	_, err := NewExecutor(succeedingService(nil, 0), WithQueryTimeout(0))
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))

	_, err = NewExecutor(nil)
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestGuard_DefaultPolicy(t *testing.T) {
	guard, err := NewGuard(context.Background())
	gt.NoError(t, err)

	testCases := map[string]bool{
		"SELECT * FROM finance_db.transactions":                                          true,
		"select category, sum(amount) from t group by 1;":                                true,
		"WITH s AS (SELECT amount FROM t) SELECT sum(amount) FROM s":                     true,
		"(SELECT 1)":                                                                     true,
		"SELECT description FROM t WHERE description LIKE '%DROP TABLE; DELETE%'":        true,
		"-- how much\nSELECT 1 /* ; DROP */":                                             true,
		`SELECT "update" FROM t`:                                                         true,
		"DROP TABLE finance_db.transactions":                                             false,
		"SELECT 1; DROP TABLE t":                                                         false,
		"SELECT 1; SELECT 2":                                                             false,
		"INSERT INTO t SELECT * FROM t":                                                  false,
		"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x":                             false,
		"":                                                                               false,
		"  ;  ":                                                                          false,
		"-- only a comment":                                                              false,
		"CREATE TABLE copy AS SELECT * FROM t":                                           false,
	}

	for sql, allow := range testCases {
		t.Run(sql, func(t *testing.T) {
			verdict, err := guard.Check(context.Background(), sql)
			gt.NoError(t, err)
			gt.Equal(t, verdict.Allow, allow)
			if !allow {
				gt.True(t, len(verdict.Reasons) > 0)
			}
		})
	}
}

func TestInspectSQL(t *testing.T) {
	info := inspectSQL("-- lead\n  select a, 'x;y' from t; /* c */ select 2;")
	gt.Equal(t, info.statements, 2)
	gt.Equal(t, info.keyword, "SELECT")
	gt.Equal(t, info.words, []string{"SELECT", "A", "FROM", "T"})

	info = inspectSQL("SELECT 'it''s; fine' FROM t")
	gt.Equal(t, info.statements, 1)
}

func TestGuard_CustomPolicy(t *testing.T) {
	_, err := NewGuardFromFile(context.Background(), "testdata/missing.rego")
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))

	guard, err := newGuard(context.Background(), "custom.rego", `package query

default allow := false

allow if input.keyword == "SELECT"

deny contains "only SELECT" if not allow
`)
	gt.NoError(t, err)

	verdict, err := guard.Check(context.Background(), "WITH x AS (SELECT 1) SELECT * FROM x")
	gt.NoError(t, err)
	gt.False(t, verdict.Allow)
	gt.Equal(t, verdict.Reasons, []string{"only SELECT"})

	_, err = newGuard(context.Background(), "broken.rego", "package query\nallow if {")
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestGuard_PrintGoesToLogger(t *testing.T) {
	guard, err := newGuard(context.Background(), "print.rego", `package query

allow if {
	print("keyword", input.keyword)
	input.keyword == "SELECT"
}
`)
	gt.NoError(t, err)

	buf := &bytes.Buffer{}
	ctx := logging.With(context.Background(), logging.New("debug", logging.FormatJSON, buf))
	verdict, err := guard.Check(ctx, "select 1")
	gt.NoError(t, err)
	gt.True(t, verdict.Allow)
	gt.S(t, buf.String()).Contains("[Rego] keyword SELECT")
}

type scriptedReader struct {
	lines []string
	errs  []error
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line, err := r.lines[0], r.errs[0]
	r.lines, r.errs = r.lines[1:], r.errs[1:]
	return line, err
}

type mockAsker struct {
	questions []string
	askFunc   func(ctx context.Context, q string) (*model.QuerySession, error)
}

func (m *mockAsker) Ask(ctx context.Context, q string) (*model.QuerySession, error) {
	m.questions = append(m.questions, q)
	return m.askFunc(ctx, q)
}

func TestIsExitCommand(t *testing.T) {
	for _, s := range []string{"quit", "exit", "QUIT", " Exit "} {
		gt.True(t, IsExitCommand(s))
	}
	for _, s := range []string{"", "quit now", "q", "exit()"} {
		gt.False(t, IsExitCommand(s))
	}
}

func TestREPL_Run(t *testing.T) {
	asker := &mockAsker{
		askFunc: func(ctx context.Context, q string) (*model.QuerySession, error) {
			if q == "broken" {
				return nil, errors.New("model unavailable")
			}
			return &model.QuerySession{Question: q, Explanation: "answer to " + q}, nil
		},
	}
	reader := &scriptedReader{
		lines: []string{"first question", "", "half typed", "broken", "second question", "QUIT", "never asked"},
		errs:  []error{nil, nil, readline.ErrInterrupt, nil, nil, nil, nil},
	}

	var out bytes.Buffer
	gt.NoError(t, NewREPL(asker, reader, &out).Run(context.Background()))

	gt.Equal(t, asker.questions, []string{"first question", "broken", "second question"})
	output := out.String()
	gt.S(t, output).Contains("Agent is online!")
	gt.S(t, output).Contains("AGENT RESPONSE:\nanswer to first question\n" + strings.Repeat("-", 50))
	gt.S(t, output).Contains("Error: model unavailable")
	gt.S(t, output).Contains("answer to second question")
	gt.S(t, output).NotContains("never asked")
}

func TestREPL_EndOfInput(t *testing.T) {
	asker := &mockAsker{
		askFunc: func(ctx context.Context, q string) (*model.QuerySession, error) {
			return &model.QuerySession{Explanation: "ok"}, nil
		},
	}
	reader := &scriptedReader{lines: []string{"only one"}, errs: []error{nil}}

	var out bytes.Buffer
	gt.NoError(t, NewREPL(asker, reader, &out).Run(context.Background()))
	gt.Equal(t, asker.questions, []string{"only one"})
}
