package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/mdchat/backend/internal/config"
	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
)

// openaiChatModel adapts go-openai to the eino ChatModel interface.
type openaiChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func newOpenAIChatModel(cfg config.OpenAIConfig, httpClient *http.Client) *openaiChatModel {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	m := &openaiChatModel{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
	if cfg.Temperature != nil {
		m.temperature = *cfg.Temperature
	}
	return m
}

func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(messages, false))
	if err != nil {
		return nil, transportError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, m.request(messages, true))
	if err != nil {
		return nil, transportError(err)
	}

	reader, writer := schema.Pipe[*schema.Message](64)

	go func() {
		defer stream.Close()
		defer writer.Close()

		for {
			response, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				return
			}
			if recvErr != nil {
				writer.Send(nil, recvErr)
				return
			}
			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}

			if closed := writer.Send(schema.AssistantMessage(response.Choices[0].Delta.Content, nil), nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

// BindTools is a no-op; the chat surface never offers tools.
func (m *openaiChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func (m *openaiChatModel) request(messages []*schema.Message, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    convertMessages(messages),
		Stream:      stream,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}
}

func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.System:
			role = openai.ChatMessageRoleSystem
		}

		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result
}

// transportError attaches the provider's HTTP status when there is one.
func transportError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &chat.TransportError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &chat.TransportError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &chat.TransportError{Err: err}
}
