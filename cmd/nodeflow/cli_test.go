package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig points the CLI at a throwaway database and no settings file.
func isolateConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NODEFLOW_SETTINGS", filepath.Join(dir, "settings.json"))
	t.Setenv("NODEFLOW_DB_PATH", filepath.Join(dir, "nodeflow.db"))
	t.Setenv("NODEFLOW_LOG_LEVEL", "error")
	t.Setenv("NODEFLOW_MAX_ATTEMPTS", "1")
}

func cli(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := runCLI(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func fetchGraph(url string) string {
	return fmt.Sprintf(`
name = "fetch greeting"

node "start" {
  type = "MANUAL_TRIGGER"
}

node "fetch" {
  type = "HTTP_REQUEST"
  data = {
    endpoint     = "%s/greet/{{user}}"
    method       = "GET"
    variableName = "reply"
  }
}

connection {
  source = "start"
  target = "fetch"
}
`, url)
}

func TestCLI_Version(t *testing.T) {
	out, err := cli(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestCLI_Usage(t *testing.T) {
	isolateConfig(t)

	_, err := cli(t, "")
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)

	_, err = cli(t, "", "frobnicate")
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

func TestCLI_Run(t *testing.T) {
	isolateConfig(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"msg":"hello %s"}`, strings.TrimPrefix(r.URL.Path, "/greet/"))
	}))
	defer srv.Close()

	path := writeFile(t, "greet.hcl", fetchGraph(srv.URL))

	out, err := cli(t, "", "run", "-context", "-diagram", "ascii", "-data", `{"user":"ada"}`, "-trigger", "evt-1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "hello ada")
	assert.Contains(t, out, "[OK]")
	assert.Equal(t, int32(1), hits.Load())

	// Same trigger id again: the finished record comes back, nothing re-runs.
	out, err = cli(t, "", "run", "-trigger", "evt-1", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "SUCCESS"`)
	assert.Contains(t, out, `"triggerEventId": "evt-1"`)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCLI_RunFailure(t *testing.T) {
	isolateConfig(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	path := writeFile(t, "greet.hcl", fetchGraph(srv.URL))
	out, err := cli(t, "", "run", "-data", `{"user":"ada"}`, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETRY_EXHAUSTED")
	assert.Contains(t, out, `"status": "FAILED"`)
}

func TestCLI_RunBadInput(t *testing.T) {
	isolateConfig(t)

	path := writeFile(t, "greet.hcl", fetchGraph("http://127.0.0.1:1"))

	_, err := cli(t, "", "run", "-data", `[1,2]`, path)
	assert.Error(t, err)

	_, err = cli(t, "", "run", "-diagram", "png", path)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)

	_, err = cli(t, "", "run")
	require.True(t, errors.As(err, &ee))
}

func TestCLI_Workflow(t *testing.T) {
	isolateConfig(t)

	path := writeFile(t, "greet.hcl", fetchGraph("https://example.com"))

	out, err := cli(t, "", "workflow", "put", "-owner", "user-1", path)
	require.NoError(t, err)
	assert.Equal(t, "created workflow greet\n", out)

	out, err = cli(t, "", "workflow", "put", "-owner", "user-1", path)
	require.NoError(t, err)
	assert.Equal(t, "updated workflow greet\n", out)

	out, err = cli(t, "", "workflow", "list", "-owner", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "fetch greeting")

	out, err = cli(t, "", "workflow", "diagram", "-format", "mermaid", "greet")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")

	_, err = cli(t, "", "workflow", "diagram", "missing")
	assert.Error(t, err)

	_, err = cli(t, "", "workflow", "diagram", "-format", "png", "greet")
	assert.Error(t, err, "png needs -o")
}

func TestCLI_Credential(t *testing.T) {
	isolateConfig(t)
	t.Setenv("NODEFLOW_CREDENTIAL_PASSPHRASE", "correct horse")
	t.Setenv("NODEFLOW_CREDENTIAL_SALT", "battery staple")

	out, err := cli(t, "sk-test\n", "credential", "put", "-owner", "user-1", "-id", "openai-main", "-type", "openai")
	require.NoError(t, err)
	assert.Equal(t, "stored credential openai-main\n", out)

	out, err = cli(t, "", "credential", "list", "-owner", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "openai-main")
	assert.Contains(t, out, "OPENAI")
	assert.NotContains(t, out, "sk-test")

	out, err = cli(t, "", "credential", "delete", "-owner", "user-1", "-id", "openai-main")
	require.NoError(t, err)
	assert.Equal(t, "deleted credential openai-main\n", out)

	_, err = cli(t, "", "credential", "put", "-id", "x")
	assert.Error(t, err, "owner is required")

	_, err = cli(t, "\n", "credential", "put", "-owner", "user-1", "-id", "x")
	assert.Error(t, err, "empty value")
}
