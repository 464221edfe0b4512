package agent

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed policy/query.rego
var defaultPolicy string

// regoPrintHook forwards print() output of the policy to the logger
type regoPrintHook struct {
	logger *slog.Logger
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	h.logger.Debug("[Rego] " + message)
	return nil
}

// Verdict is the outcome of a policy check
type Verdict struct {
	Allow   bool
	Reasons []string
}

// Guard evaluates generated SQL against a rego policy before it is submitted.
// The policy package must be "query" and define allow and deny.
type Guard struct {
	query rego.PreparedEvalQuery
}

// NewGuard prepares the built-in read-only policy
func NewGuard(ctx context.Context) (*Guard, error) {
	return newGuard(ctx, "query.rego", defaultPolicy)
}

// NewGuardFromFile prepares a policy loaded from path
func NewGuardFromFile(ctx context.Context, path string) (*Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "failed to read query policy",
			goerr.V("path", path), goerr.V("error", err.Error()))
	}
	return newGuard(ctx, path, string(data))
}

func newGuard(ctx context.Context, name, src string) (*Guard, error) {
	prepared, err := rego.New(
		rego.Query("data.query"),
		rego.Module(name, src),
		rego.EnablePrintStatements(true),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "failed to prepare query policy",
			goerr.V("module", name), goerr.V("error", err.Error()))
	}
	return &Guard{query: prepared}, nil
}

// Check evaluates the policy for sql
func (g *Guard) Check(ctx context.Context, sql string) (*Verdict, error) {
	info := inspectSQL(sql)
	words := make([]any, len(info.words))
	for i, w := range info.words {
		words[i] = w
	}
	input := map[string]any{
		"sql":             sql,
		"statement_count": info.statements,
		"keyword":         info.keyword,
		"words":           words,
	}

	rs, err := g.query.Eval(ctx,
		rego.EvalInput(input),
		rego.EvalPrintHook(&regoPrintHook{logger: logging.From(ctx)}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate query policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Verdict{Allow: false, Reasons: []string{"query policy returned no result"}}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid query policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	verdict := &Verdict{}
	verdict.Allow, _ = data["allow"].(bool)
	if deny, ok := data["deny"].([]any); ok {
		for _, d := range deny {
			verdict.Reasons = append(verdict.Reasons, fmt.Sprint(d))
		}
	}
	return verdict, nil
}

type sqlInfo struct {
	statements int
	keyword    string
	words      []string
}

// inspectSQL performs a lexical pass over sql: comments and quoted literals are
// dropped, statements are counted on semicolons and bare words are collected.
func inspectSQL(sql string) sqlInfo {
	var (
		info   sqlInfo
		word   []rune
		inStmt bool
		seen   = make(map[string]bool)
	)
	runes := []rune(sql)

	flush := func() {
		if len(word) == 0 {
			return
		}
		w := strings.ToUpper(string(word))
		word = word[:0]
		if info.statements == 0 && info.keyword == "" {
			info.keyword = w
		}
		if !seen[w] {
			seen[w] = true
			info.words = append(info.words, w)
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			for i += 2; i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/'); i++ {
			}
			i++

		case r == '\'' || r == '"' || r == '`':
			// a doubled quote escapes itself
			flush()
			inStmt = true
			for i++; i < len(runes); i++ {
				if runes[i] != r {
					continue
				}
				if i+1 < len(runes) && runes[i+1] == r {
					i++
					continue
				}
				break
			}

		case r == ';':
			flush()
			if inStmt {
				info.statements++
			}
			inStmt = false

		case unicode.IsLetter(r) || r == '_' || (len(word) > 0 && unicode.IsDigit(r)):
			inStmt = true
			word = append(word, r)

		case unicode.IsSpace(r):
			flush()

		default:
			flush()
			inStmt = true
		}
	}

	flush()
	if inStmt {
		info.statements++
	}
	return info
}
