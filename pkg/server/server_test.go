package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/finagent/pkg/server"
	"github.com/m-mizutani/finagent/pkg/usecase/convert"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/gt"
)

type mockHandler struct {
	handleEventFunc func(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error)
}

func (m *mockHandler) HandleEvent(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error) {
	return m.handleEventFunc(ctx, refs)
}

type response struct {
	Results []*convert.Result `json:"results"`
	Error   string            `json:"error"`
}

func newTestServer(t *testing.T, h server.EventHandler) *httptest.Server {
	t.Helper()
	logger := logging.New("debug", logging.FormatJSON, io.Discard)
	ts := httptest.NewServer(server.New(":0", h, logger).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (int, response) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	gt.NoError(t, err)
	defer resp.Body.Close()

	var r response
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return resp.StatusCode, r
}

const s3Body = `{"Records":[{"eventSource":"aws:s3","s3":{"bucket":{"name":"raw"},"object":{"key":"2024/ledger+jan.csv"}}}]}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &mockHandler{})

	resp, err := http.Get(ts.URL + "/health")
	gt.NoError(t, err)
	defer resp.Body.Close()

	gt.Equal(t, resp.StatusCode, http.StatusOK)
	gt.Equal(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestS3Event(t *testing.T) {
	var received []convert.ObjectRef
	h := &mockHandler{
		handleEventFunc: func(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error) {
			received = refs
			return []*convert.Result{{Status: convert.StatusConverted, Source: refs[0], Rows: 3}}, nil
		},
	}
	ts := newTestServer(t, h)

	status, r := post(t, ts.URL+"/events/s3", s3Body)
	gt.Equal(t, status, http.StatusOK)
	gt.A(t, received).Length(1)
	gt.Equal(t, received[0], convert.ObjectRef{Bucket: "raw", Key: "2024/ledger jan.csv"})
	gt.A(t, r.Results).Length(1)
	gt.Equal(t, r.Results[0].Rows, int64(3))
	gt.Equal(t, r.Error, "")
}

func TestGCSEvent(t *testing.T) {
	var received []convert.ObjectRef
	h := &mockHandler{
		handleEventFunc: func(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error) {
			received = refs
			return nil, nil
		},
	}
	ts := newTestServer(t, h)

	status, r := post(t, ts.URL+"/events/gcs", `{"bucket":"raw","name":"ledger.csv"}`)
	gt.Equal(t, status, http.StatusOK)
	gt.Equal(t, received[0], convert.ObjectRef{Bucket: "raw", Key: "ledger.csv"})
	gt.A(t, r.Results).Length(0)
}

func TestAutoDetectEvent(t *testing.T) {
	var received []convert.ObjectRef
	h := &mockHandler{
		handleEventFunc: func(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error) {
			received = refs
			return nil, nil
		},
	}
	ts := newTestServer(t, h)

	status, _ := post(t, ts.URL+"/events/", s3Body)
	gt.Equal(t, status, http.StatusOK)
	gt.Equal(t, received[0].Bucket, "raw")
}

func TestInvalidEvent(t *testing.T) {
	called := false
	h := &mockHandler{
		handleEventFunc: func(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error) {
			called = true
			return nil, nil
		},
	}
	ts := newTestServer(t, h)

	for _, body := range []string{`not json`, `{"Records":[]}`} {
		status, r := post(t, ts.URL+"/events/s3", body)
		gt.Equal(t, status, http.StatusBadRequest)
		gt.True(t, r.Error != "")
	}
	gt.False(t, called)
}

func TestConversionFailure(t *testing.T) {
	h := &mockHandler{
		handleEventFunc: func(ctx context.Context, refs []convert.ObjectRef) ([]*convert.Result, error) {
			return []*convert.Result{}, errors.New("bucket unavailable")
		},
	}
	ts := newTestServer(t, h)

	status, r := post(t, ts.URL+"/events/s3", s3Body)
	gt.Equal(t, status, http.StatusInternalServerError)
	gt.S(t, r.Error).Contains("bucket unavailable")
}

func TestEndToEndWithLocalStore(t *testing.T) {
	root := t.TempDir()
	gt.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0755))
	csv := "Transaction ID,Amount,Is Recurring\nTX-1,12.5,false\nTX-2,40,true\n"
	gt.NoError(t, os.WriteFile(filepath.Join(root, "raw", "ledger.csv"), []byte(csv), 0644))

	store := adapter.NewLocalStore(root)
	conv, err := convert.New(store, "processed", convert.WithPrefix("parquet/"))
	gt.NoError(t, err)
	ts := newTestServer(t, conv)

	status, r := post(t, ts.URL+"/events/gcs", `{"bucket":"raw","name":"ledger.csv"}`)
	gt.Equal(t, status, http.StatusOK)
	gt.A(t, r.Results).Length(1)
	gt.Equal(t, r.Results[0].Status, convert.StatusConverted)
	gt.Equal(t, *r.Results[0].Destination, convert.ObjectRef{Bucket: "processed", Key: "parquet/ledger.parquet"})

	out, err := store.Get(context.Background(), "processed", "parquet/ledger.parquet")
	gt.NoError(t, err)
	defer out.Close()
	data, err := io.ReadAll(out)
	gt.NoError(t, err)
	gt.True(t, bytes.HasPrefix(data, []byte("PAR1")))
}
