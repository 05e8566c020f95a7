package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeChatServer(t *testing.T, deltas []string, gotRequest *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(gotRequest))

		w.Header().Set("Content-Type", "text/event-stream")
		for i, delta := range deltas {
			chunk := openai.ChatCompletionStreamResponse{
				ID:     "chatcmpl-1",
				Object: "chat.completion.chunk",
				Model:  gotRequest.Model,
				Choices: []openai.ChatCompletionStreamChoice{
					{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: delta}},
				},
			}
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			if i == 0 {
				w.(http.Flusher).Flush()
			}
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *openai.Client {
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestOpenAIChatAgent_StreamsDeltas(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := fakeChatServer(t, []string{"Hello", " there", "!"}, &req)
	chatAgent := NewOpenAIChatAgent(newTestClient(srv), "")

	conversation := models.NewConversation("You are a voice assistant.")
	conversation.Add(models.RoleUser, "Hi")
	outputChan := make(chan string, 10)

	result, err := chatAgent.RunPrompt(context.Background(), FastAndCheap, conversation, outputChan)

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", result)
	var deltas []string
	for delta := range outputChan {
		deltas = append(deltas, delta)
	}
	assert.Equal(t, []string{"Hello", " there", "!"}, deltas)

	assert.Equal(t, DefaultFastModel, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Hi", req.Messages[1].Content)
	assert.True(t, req.Stream)
}

func TestOpenAIChatAgent_SmartModel(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := fakeChatServer(t, []string{"ok"}, &req)
	chatAgent := NewOpenAIChatAgent(newTestClient(srv), "gpt-custom")

	_, err := chatAgent.RunPrompt(context.Background(), SlowerAndSmarter, models.NewConversationSimple("Hi"), make(chan string, 10))

	require.NoError(t, err)
	assert.Equal(t, DefaultSmartModel, req.Model)
}

func TestOpenAIChatAgent_ErrorClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()
	chatAgent := NewOpenAIChatAgent(newTestClient(srv), "")
	outputChan := make(chan string, 1)

	_, err := chatAgent.RunPrompt(context.Background(), FastAndCheap, models.NewConversationSimple("Hi"), outputChan)

	assert.Error(t, err)
	_, ok := <-outputChan
	assert.False(t, ok)
}

func TestModelQuality_String(t *testing.T) {
	assert.Equal(t, "FastAndCheap", FastAndCheap.String())
	assert.Equal(t, "SlowerAndSmarter", SlowerAndSmarter.String())
	assert.Equal(t, "Unknown", ModelQuality(7).String())
}
