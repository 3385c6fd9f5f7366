package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/mdchat/backend/internal/config"
)

// NewChatModel 使用配置创建所选提供方的模型实例。
func NewChatModel(ctx context.Context, cfg config.AIConfig, httpClient *http.Client) (model.ChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return newOpenAIChatModel(cfg.OpenAI, httpClient), nil
	case config.ProviderArk:
		return newArkChatModel(ctx, cfg.Ark)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func newArkChatModel(ctx context.Context, c config.ArkConfig) (model.ChatModel, error) {
	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	arkCfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, arkCfg)
}
