package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, chatURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`embedder:
  type: tfidf
chat:
  base_url: %s
  api_key_env: RAGCHAT_TEST_KEY
log:
  mode: prod
  level: error
  file: %s
`, chatURL, filepath.Join(dir, "ragchat.log"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func chatServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Margin is borrowed money."}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAnswersOneQuestion(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "test")
	cfg := writeConfig(t, chatServer(t).URL)
	doc := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Margin accounts let clients borrow against their positions."), 0o644))

	assert.Equal(t, 0, run([]string{"--config", cfg, "--ask", "what is a margin account", doc}))
}

func TestRunFailsWhenIngestFails(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "test")
	cfg := writeConfig(t, chatServer(t).URL)
	missing := filepath.Join(t.TempDir(), "missing.txt")

	assert.Equal(t, 1, run([]string{"--config", cfg, "--ask", "anything", missing}))
}

func TestRunFailsWithoutAPIKey(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "")
	cfg := writeConfig(t, "http://127.0.0.1:1")
	doc := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("text"), 0o644))

	assert.Equal(t, 1, run([]string{"--config", cfg, "--ask", "anything", doc}))
}

func TestRunUsageErrors(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "test")
	cfg := writeConfig(t, "http://127.0.0.1:1")

	assert.Equal(t, 2, run([]string{"--config", cfg}))
	assert.Equal(t, 2, run([]string{"--no-such-flag"}))
}
