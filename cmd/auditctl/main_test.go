package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	var reads atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /csrf-token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"csrfToken":"t"}`))
	})
	mux.HandleFunc("POST /audits/run", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":"job-7"}`))
	})
	mux.HandleFunc("GET /audits/status", func(w http.ResponseWriter, r *http.Request) {
		if reads.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"status":"running","currentStep":"Listing buckets","progress":40}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"completed","currentStep":"Audit complete","progress":100}`))
	})
	mux.HandleFunc("GET /audits/results", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"projectId": "p1", "category": "storage", "summary": "3 buckets checked", "findings": []any{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewAuditCtlCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunWaitsForCompletion(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "run", "-u", srv.URL, "--session", "s1", "--interval", "1ms", "-p", "p1", "-c", "storage")
	require.NoError(t, err)
	require.Contains(t, out, " 40% Listing buckets")
	require.Contains(t, out, "100% Audit complete")
	require.Contains(t, out, `"summary": "3 buckets checked"`)
}

func TestRunDetached(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "run", "-u", srv.URL, "--session", "s1", "-p", "p1", "--detach")
	require.NoError(t, err)
	require.Equal(t, "job-7\n", out)
}

func TestStatus(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "status", "job-7", "-u", srv.URL, "--session", "s1")
	require.NoError(t, err)
	require.Equal(t, "running  40% Listing buckets\n", out)
}

func TestRunValidation(t *testing.T) {
	t.Setenv(sessionEnvVar, "")

	_, err := execute(t, "run", "-p", "p1")
	require.ErrorContains(t, err, "session id is required")

	_, err = execute(t, "run", "--session", "s1")
	require.ErrorContains(t, err, "--project is required")

	_, err = execute(t, "run", "--session", "s1", "-p", "p1", "-c", "billing")
	require.Error(t, err)

	_, err = execute(t, "run", "--session", "s1", "-p", "p1", "--interval=-1s")
	require.ErrorContains(t, err, "interval must not be negative")
}
