package message_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiboWorks/pipedemo/internal/config"
	"github.com/LiboWorks/pipedemo/internal/message"
)

func collect(t *testing.T, src message.Source, max int) []string {
	t.Helper()

	var out []string
	for i := 0; i < max; i++ {
		msg, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, string(msg))
	}
	return out
}

func TestCounter(t *testing.T) {
	got := collect(t, message.NewCounter("Line: "), 3)
	require.Equal(t, []string{"Line: 0\n", "Line: 1\n", "Line: 2\n"}, got)
}

func TestCounter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := message.NewCounter("").Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStatic_TerminatesAndEnds(t *testing.T) {
	src := message.NewStatic([]string{"alpha", "beta\n", ""})

	require.Equal(t, []string{"alpha\n", "beta\n", "\n"}, collect(t, src, 10))

	_, err := src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestLimit(t *testing.T) {
	got := collect(t, message.Limit(message.NewCounter("n="), 2), 10)
	require.Equal(t, []string{"n=0\n", "n=1\n"}, got)

	unlimited := message.NewCounter("")
	require.Same(t, unlimited, message.Limit(unlimited, 0))
}

func TestTerminate_DoesNotAlias(t *testing.T) {
	backing := make([]byte, 3, 16)
	copy(backing, "abc")

	out := message.Terminate(backing)
	require.Equal(t, "abc\n", string(out))

	out[0] = 'X'
	require.Equal(t, "abc", string(backing))
}

func TestFromConfig(t *testing.T) {
	cfg := config.NewConfig().WithLoop(0, 2, 0)
	src, err := message.FromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"Line: 0\n", "Line: 1\n"}, collect(t, src, 10))

	cfg = config.NewConfig().WithMessages(config.SourceStatic, "", []string{"x", "y"})
	src, err = message.FromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"x\n", "y\n"}, collect(t, src, 10))

	cfg = config.NewConfig().WithMessages(config.SourceOpenAI, "", nil)
	_, err = message.FromConfig(cfg)
	require.ErrorContains(t, err, "API key")

	cfg = config.NewConfig().WithMessages("stdin", "", nil)
	_, err = message.FromConfig(cfg)
	require.ErrorContains(t, err, "unknown message source")
}

func newCompletionServer(t *testing.T, replies ...string) (*httptest.Server, *[]string) {
	t.Helper()

	var prompts []string
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-model", req.Model)
		prompts = append(prompts, req.Messages[0].Content)

		reply := replies[i%len(replies)]
		i++

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return srv, &prompts
}

func TestOpenAISource(t *testing.T) {
	srv, prompts := newCompletionServer(t, "Bytes flow\nthrough the pipe  ", "cat echoes back")

	src, err := message.NewOpenAISource(message.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Prompt:  "line %d",
	})
	require.NoError(t, err)

	got := collect(t, src, 2)
	require.Equal(t, []string{"Bytes flow through the pipe\n", "cat echoes back\n"}, got)
	require.Equal(t, []string{"line 0", "line 1"}, *prompts)
}

func TestOpenAISource_EmptyReply(t *testing.T) {
	srv, _ := newCompletionServer(t, " \n ")

	src, err := message.NewOpenAISource(message.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
	})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.ErrorContains(t, err, "empty line")
}

func TestOpenAISource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	src, err := message.NewOpenAISource(message.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
	})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.ErrorContains(t, err, "openai completion failed")
}
