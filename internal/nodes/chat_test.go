package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func webhookServer(t *testing.T, status int, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatExecutor_DiscordPayload(t *testing.T) {
	var got map[string]any
	srv := webhookServer(t, http.StatusNoContent, &got)

	runner, _ := newRunner()
	rec := &recorder{}
	in := newInput(t, schema.Node{ID: "d", Type: schema.NodeTypeDiscord, Data: map[string]any{
		"webhookUrl":   srv.URL,
		"content":      "Summary: {{ai.text}}",
		"username":     "nodeflow",
		"variableName": "posted",
	}}, map[string]any{"ai": map[string]any{"text": "Tom &amp; Jerry"}}, runner, rec)

	out, err := NewChatExecutor(Discord, Deps{}).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, loadingSuccess, rec.statuses())
	assert.Equal(t, "discord-execution", rec.events[0].Channel)

	assert.Equal(t, map[string]any{"content": "Summary: Tom & Jerry", "username": "nodeflow"}, got)
	posted, _ := out.Get("posted")
	assert.Equal(t, map[string]any{"messageContent": "Summary: Tom & Jerry", "delivered": true}, posted)
}

func TestChatExecutor_SlackPayload(t *testing.T) {
	var got map[string]any
	srv := webhookServer(t, http.StatusOK, &got)

	runner, _ := newRunner()
	in := newInput(t, schema.Node{ID: "s", Type: schema.NodeTypeSlack, Data: map[string]any{
		"webhookUrl":   srv.URL,
		"content":      "hi {{name}}",
		"username":     "ignored",
		"variableName": "slackMsg",
	}}, map[string]any{"name": "team"}, runner, &recorder{})

	_, err := NewChatExecutor(Slack, Deps{}).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi team"}, got)
}

func TestChatExecutor_TruncatesContent(t *testing.T) {
	var got map[string]any
	srv := webhookServer(t, http.StatusOK, &got)

	runner, _ := newRunner()
	long := strings.Repeat("é", MaxMessageLength+50)
	in := newInput(t, schema.Node{ID: "d", Type: schema.NodeTypeDiscord, Data: map[string]any{
		"webhookUrl": srv.URL, "content": "{{msg}}", "variableName": "out",
	}}, map[string]any{"msg": long}, runner, &recorder{})

	out, err := NewChatExecutor(Discord, Deps{}).Execute(context.Background(), in)
	require.NoError(t, err)

	posted, _ := out.Get("out")
	content := posted.(map[string]any)["messageContent"].(string)
	assert.Equal(t, MaxMessageLength, len([]rune(content)))
	assert.Equal(t, content, got["content"])
}

func TestChatExecutor_Failures(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadGateway, schema.ErrCodeUpstream},
		{http.StatusTooManyRequests, schema.ErrCodeUpstream},
		{http.StatusNotFound, schema.ErrCodeValidation},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := webhookServer(t, tc.status, nil)
			runner, memo := newRunner()
			rec := &recorder{}
			in := newInput(t, schema.Node{ID: "s", Type: schema.NodeTypeSlack, Data: map[string]any{
				"webhookUrl": srv.URL, "content": "x", "variableName": "out",
			}}, nil, runner, rec)

			_, err := NewChatExecutor(Slack, Deps{}).Execute(context.Background(), in)
			requireCode(t, err, tc.code)
			assert.Equal(t, loadingError, rec.statuses())
			assert.Zero(t, memo.Len())
		})
	}
}

func TestChatExecutor_RequiredFields(t *testing.T) {
	cases := map[string]map[string]any{
		"webhookUrl":   {"content": "x", "variableName": "v"},
		"content":      {"webhookUrl": "https://hooks.example.com", "variableName": "v"},
		"variableName": {"webhookUrl": "https://hooks.example.com", "content": "x"},
		"bad url":      {"webhookUrl": "not a url", "content": "x", "variableName": "v"},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			runner, _ := newRunner()
			in := newInput(t, schema.Node{ID: "d", Type: schema.NodeTypeDiscord, Data: data}, nil, runner, &recorder{})
			_, err := NewChatExecutor(Discord, Deps{}).Execute(context.Background(), in)
			requireCode(t, err, schema.ErrCodeValidation)
		})
	}
}

func TestChatExecutor_PostsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	runner, _ := newRunner()
	node := schema.Node{ID: "d", Type: schema.NodeTypeDiscord, Data: map[string]any{
		"webhookUrl": srv.URL, "content": "x", "variableName": "out",
	}}
	exec := NewChatExecutor(Discord, Deps{})
	for range 3 {
		_, err := exec.Execute(context.Background(), newInput(t, node, nil, runner, &recorder{}))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
}
