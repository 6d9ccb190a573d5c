package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/dgeneration/radiance-ai/backend/config"
	"k8s.io/klog/v2"
)

// 支持的补全服务提供方
const (
	ProviderOpenAI = "openai" // eino-ext 的 OpenAI ChatModel
	ProviderHTTP   = "http"   // 内置的 OpenAI 兼容 HTTP 客户端
)

// NewChatModel 按配置创建补全服务
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	var inner model.BaseChatModel

	switch cfg.LLM.Provider {
	case ProviderHTTP, "compatible":
		inner = NewClient(cfg)
	case ProviderOpenAI, "":
		modelCfg := &openai.ChatModelConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		}
		if cfg.LLM.APIURL != "" {
			modelCfg.BaseURL = cfg.LLM.APIURL
		}
		if cfg.LLM.MaxTokens > 0 {
			maxTokens := cfg.LLM.MaxTokens
			modelCfg.MaxTokens = &maxTokens
		}
		cm, err := openai.NewChatModel(ctx, modelCfg)
		if err != nil {
			klog.Errorf("[LLM] 创建 OpenAI ChatModel 失败: %v", err)
			return nil, err
		}
		inner = cm
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}

	klog.V(6).Infof("[LLM] ChatModel 创建成功: provider=%s, model=%s", cfg.LLM.Provider, cfg.LLM.Model)
	return &loggedModel{inner: inner, name: cfg.LLM.Model}, nil
}

// loggedModel 为底层 ChatModel 增加调用日志
type loggedModel struct {
	inner model.BaseChatModel
	name  string
}

func (m *loggedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	klog.V(6).Infof("[LLM] Generate 开始: model=%s, messageCount=%d", m.name, len(input))
	for i, msg := range input {
		klog.V(8).Infof("[LLM]   Message[%d]: role=%s, content=%s", i, msg.Role, msg.Content)
	}

	resp, err := m.inner.Generate(ctx, input, opts...)
	if err != nil {
		klog.Errorf("[LLM] Generate 失败: %v", err)
		return nil, err
	}
	klog.V(6).Infof("[LLM] Generate 完成: responseLength=%d", len(resp.Content))
	return resp, nil
}

func (m *loggedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	klog.V(6).Infof("[LLM] Stream 开始: model=%s, messageCount=%d", m.name, len(input))
	sr, err := m.inner.Stream(ctx, input, opts...)
	if err != nil {
		klog.Errorf("[LLM] Stream 失败: %v", err)
		return nil, err
	}
	return sr, nil
}
