package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/usecase/convert"
	"github.com/m-mizutani/gt"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	stdout := &bytes.Buffer{}
	app.Writer = stdout
	app.ErrWriter = &bytes.Buffer{}

	argv := append([]string{"finagent", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
	err := app.Run(context.Background(), argv)
	return stdout.String(), err
}

func TestGenerateToFile(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out", "ledger.csv")

	stdout, err := runApp(t, "generate", "--rows", "20", "--seed", "42", "--output", output)
	gt.NoError(t, err)
	gt.S(t, stdout).Contains("Generated 20 realistic transactions.")
	gt.S(t, stdout).Contains(output)

	data, err := os.ReadFile(output)
	gt.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	gt.A(t, lines).Length(21)
	gt.Equal(t, lines[0], strings.Join(model.LedgerColumns, ","))
}

func TestGenerateIsReproducible(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	_, err := runApp(t, "generate", "--rows", "10", "--seed", "7", "--output", first)
	gt.NoError(t, err)
	_, err = runApp(t, "generate", "--rows", "10", "--seed", "7", "--output", second)
	gt.NoError(t, err)

	a, err := os.ReadFile(first)
	gt.NoError(t, err)
	b, err := os.ReadFile(second)
	gt.NoError(t, err)
	gt.Equal(t, string(a), string(b))
}

func TestGenerateToStdout(t *testing.T) {
	stdout, err := runApp(t, "generate", "--rows", "3", "--seed", "1", "--output", "-")
	gt.NoError(t, err)
	gt.True(t, strings.HasPrefix(stdout, strings.Join(model.LedgerColumns, ",")))
	gt.S(t, stdout).NotContains("Generated 3")
}

func TestGenerateInvalidConfig(t *testing.T) {
	testCases := map[string][]string{
		"zero rows":         {"generate", "--rows", "0", "--output", "-"},
		"bad balance":       {"generate", "--starting-balance", "lots", "--output", "-"},
		"missing catalog":   {"generate", "--catalog", filepath.Join(t.TempDir(), "none.yaml"), "--output", "-"},
		"stdout upload key": {"generate", "--output", "-", "--storage-backend", "local", "--local-root", t.TempDir(), "--upload-bucket", "raw"},
	}

	for name, args := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := runApp(t, args...)
			gt.Error(t, err)
		})
	}
}

func TestPipelineWithLocalStore(t *testing.T) {
	root := t.TempDir()
	output := filepath.Join(t.TempDir(), "ledger.csv")
	storage := []string{"--storage-backend", "local", "--local-root", root}

	_, err := runApp(t, append([]string{"generate", "--rows", "25", "--seed", "3", "--output", output,
		"--upload-bucket", "raw", "--upload-key", "2025/ledger.csv"}, storage...)...)
	gt.NoError(t, err)

	stdout, err := runApp(t, append([]string{"convert", "--bucket", "raw", "--key", "2025/ledger.csv",
		"--processed-bucket", "processed", "--processed-prefix", "parquet/"}, storage...)...)
	gt.NoError(t, err)

	var results []*convert.Result
	gt.NoError(t, json.Unmarshal([]byte(stdout), &results))
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Status, convert.StatusConverted)
	gt.Equal(t, results[0].Rows, int64(25))
	gt.Equal(t, results[0].Destination.Key, "parquet/2025/ledger.parquet")

	stdout, err = runApp(t, append([]string{"inspect", "processed/parquet/2025/ledger.parquet"}, storage...)...)
	gt.NoError(t, err)
	gt.S(t, stdout).Contains("Rows: 25")
	gt.S(t, stdout).Contains("running_balance")
	gt.S(t, stdout).Contains("First 5 rows")
}

func TestConvertSkipsNonCSV(t *testing.T) {
	root := t.TempDir()
	gt.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0755))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "raw", "report.txt"), []byte("hello"), 0644))

	stdout, err := runApp(t, "convert", "--bucket", "raw", "--key", "report.txt",
		"--processed-bucket", "processed", "--storage-backend", "local", "--local-root", root)
	gt.NoError(t, err)
	gt.S(t, stdout).Contains(`"skipped"`)

	_, err = os.Stat(filepath.Join(root, "processed"))
	gt.True(t, os.IsNotExist(err))
}

func TestConvertEventFile(t *testing.T) {
	root := t.TempDir()
	gt.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0755))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "raw", "my ledger.csv"), []byte("Amount,Note\n1.5,a\n2,b\n"), 0644))

	event := filepath.Join(t.TempDir(), "event.json")
	gt.NoError(t, os.WriteFile(event,
		[]byte(`{"Records":[{"s3":{"bucket":{"name":"raw"},"object":{"key":"my+ledger.csv"}}}]}`), 0644))

	stdout, err := runApp(t, "convert", "--event", event,
		"--processed-bucket", "processed", "--storage-backend", "local", "--local-root", root)
	gt.NoError(t, err)
	gt.S(t, stdout).Contains(`"my ledger.parquet"`)

	_, err = os.Stat(filepath.Join(root, "processed", "my ledger.parquet"))
	gt.NoError(t, err)
}

func TestConfigErrors(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GEMINI_PROJECT_ID", "")
	t.Setenv("FINAGENT_OUTPUT_LOCATION", "")
	t.Setenv("PROCESSED_BUCKET_NAME", "")
	t.Setenv("FINAGENT_BIGQUERY_PROJECT", "")
	t.Setenv("FINAGENT_QUERY_BACKEND", "")

	testCases := map[string][]string{
		"convert without source":   {"convert", "--processed-bucket", "processed"},
		"convert without bucket":   {"convert", "--bucket", "raw", "--key", "a.csv", "--storage-backend", "local"},
		"unknown storage backend":  {"convert", "--bucket", "raw", "--key", "a.csv", "--processed-bucket", "p", "--storage-backend", "ftp"},
		"ask without question":     {"ask"},
		"ask without gemini":       {"ask", "how much?"},
		"athena without output":    {"ask", "--gemini-api-key", "dummy", "how much?"},
		"unknown query backend":    {"ask", "--gemini-api-key", "dummy", "--query-backend", "duckdb", "how much?"},
		"bigquery without project": {"ask", "--gemini-api-key", "dummy", "--query-backend", "bigquery", "how much?"},
		"inspect without target":   {"inspect"},
	}

	for name, args := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := runApp(t, args...)
			gt.True(t, errors.Is(err, model.ErrInvalidConfig))
		})
	}
}

func TestInvalidLogFormat(t *testing.T) {
	_, err := runApp(t, "--log-format", "xml", "generate", "--rows", "1", "--output", "-")
	gt.Error(t, err)
}
