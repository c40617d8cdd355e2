package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommitPrompt(t *testing.T) {
	system, user := buildCommitPrompt([]string{"model.xml", "views/main.xml"})

	assert.Contains(t, system, "72 characters")
	assert.Contains(t, system, "imperative")
	assert.Contains(t, user, "- model.xml\n")
	assert.Contains(t, user, "- views/main.xml\n")
}

func TestBuildCommitPrompt_BoundsPaths(t *testing.T) {
	changed := make([]string, maxPaths+5)
	for i := range changed {
		changed[i] = fmt.Sprintf("part%03d.xml", i)
	}
	_, user := buildCommitPrompt(changed)
	assert.Contains(t, user, "... and 5 more")
	assert.NotContains(t, user, fmt.Sprintf("part%03d.xml", maxPaths))
}

func TestCleanSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Update pump model", "Update pump model"},
		{"  \"Update pump model\"\n", "Update pump model"},
		{"```text\nAdd valve\n```", "Add valve"},
		{"First line\nSecond line", "First line"},
		{strings.Repeat("a", 100), strings.Repeat("a", maxSubject)},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanSubject(tt.in), "input %q", tt.in)
	}
}

func newTestServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
			return
		}
		resp := map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "test-model",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": reply}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggestCommitMessage(t *testing.T) {
	srv := newTestServer(t, "Update pump curve in model.xml\n", http.StatusOK)
	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	msg, err := c.SuggestCommitMessage(context.Background(), []string{"model.xml"})
	require.NoError(t, err)
	assert.Equal(t, "Update pump curve in model.xml", msg)
}

func TestSuggestCommitMessage_APIError(t *testing.T) {
	srv := newTestServer(t, "", http.StatusBadRequest)
	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := c.SuggestCommitMessage(context.Background(), []string{"model.xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic API call")
}

func TestSuggestCommitMessage_EmptyReply(t *testing.T) {
	srv := newTestServer(t, "   ", http.StatusOK)
	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := c.SuggestCommitMessage(context.Background(), []string{"model.xml"})
	assert.Error(t, err)
}

func TestSuggestCommitMessage_NoPaths(t *testing.T) {
	c := NewClient("test-key", "test-model")
	_, err := c.SuggestCommitMessage(context.Background(), nil)
	assert.Error(t, err)
}
