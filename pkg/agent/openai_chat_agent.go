package agent

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultFastModel  = "gpt-4o-mini"
	DefaultSmartModel = "gpt-4o"
)

type openaiChatAgent struct {
	client     *openai.Client
	fastModel  string
	smartModel string
}

// NewOpenAIChatAgent uses fastModel for FastAndCheap prompts; empty means DefaultFastModel.
func NewOpenAIChatAgent(client *openai.Client, fastModel string) ChatAgent {
	if fastModel == "" {
		fastModel = DefaultFastModel
	}
	return &openaiChatAgent{client: client, fastModel: fastModel, smartModel: DefaultSmartModel}
}

func conversationToOpenAiMessages(conversation *models.Conversation) []openai.ChatCompletionMessage {
	messages := conversation.Snapshot()
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, message := range messages {
		result[i].Role = message.Role
		result[i].Content = message.Content
	}
	return result
}

func (o *openaiChatAgent) RunPrompt(ctx context.Context, modelQuality ModelQuality, conversation *models.Conversation, outputChan chan<- string) (string, error) {
	defer close(outputChan)

	model := o.fastModel
	if modelQuality == SlowerAndSmarter {
		model = o.smartModel
	}

	startTime := time.Now()
	lastDataReceivedPrintoutTime := time.Now()

	chatRequest := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    conversationToOpenAiMessages(conversation),
		Temperature: 0,
	}
	log.Info().Str("prompt", conversation.GetLastPrompt()).Str("model", chatRequest.Model).Str("quality", modelQuality.String()).Msg("executeChatRequest")

	completionStream, err := o.client.CreateChatCompletionStream(ctx, chatRequest)
	if err != nil {
		return "", errors.Wrap(err, "cannot create chat completion stream")
	}
	defer completionStream.Close()

	var contentBuilder strings.Builder
	var debugChunkBuilder strings.Builder

	firstContent := true
	for {
		response, streamRecvErr := completionStream.Recv()
		if firstContent {
			log.Debug().Dur("latency", time.Since(startTime)).Msg("first chat completion received")
			firstContent = false
		}

		for _, choice := range response.Choices {
			content := choice.Delta.Content
			if content == "" {
				continue
			}
			select {
			case outputChan <- content:
			case <-ctx.Done():
				return contentBuilder.String(), ctx.Err()
			}
			contentBuilder.WriteString(content)
			debugChunkBuilder.WriteString(content)

			if time.Since(lastDataReceivedPrintoutTime) >= time.Second {
				lastDataReceivedPrintoutTime = time.Now()
				lastChunk := debugChunkBuilder.String()
				debugChunkBuilder.Reset()
				log.Debug().Float64("time_elapsed", time.Since(startTime).Seconds()).Str("last_content", lastChunk).Msgf("ChatCompletionStream Data Status")
			}
		}

		// We only handle the error at the end - since we can get io.EOF with the last token.
		if streamRecvErr != nil {
			if errors.Is(streamRecvErr, io.EOF) {
				break
			}
			return contentBuilder.String(), errors.Wrap(streamRecvErr, "error reading from chat completion stream")
		}
	}

	result := contentBuilder.String()
	log.Info().Dur("elapsed", time.Since(startTime)).Str("response", result).Msg("full chat response received")
	return result, nil
}
