package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/dgeneration/radiance-ai/backend/config"
	"k8s.io/klog/v2"
)

// ErrEmptyResponse 服务端没有返回任何候选
var ErrEmptyResponse = errors.New("no response from LLM")

// Client OpenAI 兼容接口的 HTTP 客户端，实现 eino 的 model.BaseChatModel
type Client struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

var _ model.BaseChatModel = (*Client)(nil)

// NewClient 创建新的 LLM 客户端
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(cfg.LLM.APIURL, "/"),
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Client: &http.Client{
			// 流式响应可能持续较长时间，超时由调用方的 context 控制
			Timeout: 10 * time.Minute,
		},
	}
}

// Generate 非流式补全
func (c *Client) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	reqBody := c.buildRequest(input, false, opts...)
	klog.V(6).Infof("[LLMClient] Generate 请求: model=%s, messages=%d", reqBody.Model, len(reqBody.Messages))

	resp, err := c.do(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	content := chatResp.Choices[0].Message.Content
	klog.V(6).Infof("[LLMClient] Generate 完成: responseLength=%d, totalTokens=%d", len(content), chatResp.Usage.TotalTokens)
	return schema.AssistantMessage(content, nil), nil
}

// Stream 流式补全，返回的 StreamReader 逐块输出增量文本
func (c *Client) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reqBody := c.buildRequest(input, true, opts...)
	klog.V(6).Infof("[LLMClient] Stream 请求: model=%s, messages=%d", reqBody.Model, len(reqBody.Messages))

	resp, err := c.do(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()
		if err := consumeStream(resp.Body, sw); err != nil {
			klog.Warningf("[LLMClient] 流式响应中断: %v", err)
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

// consumeStream 解析 SSE 的 data: 行并逐块写入 sw，没有收到 [DONE] 即结束视为错误
func consumeStream(body io.Reader, sw *schema.StreamWriter[*schema.Message]) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("malformed stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if closed := sw.Send(schema.AssistantMessage(chunk.Choices[0].Delta.Content, nil), nil); closed {
			// 读取方已关闭
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}

func (c *Client) buildRequest(input []*schema.Message, stream bool, opts ...model.Option) ChatRequest {
	maxTokens := c.MaxTokens
	modelName := c.Model
	options := model.GetCommonOptions(&model.Options{
		Model:     &modelName,
		MaxTokens: &maxTokens,
	}, opts...)

	req := ChatRequest{
		Messages: toChatMessages(input),
		Stream:   stream,
	}
	if options.Model != nil {
		req.Model = *options.Model
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.Temperature != nil {
		req.Temperature = float64(*options.Temperature)
	}
	return req
}

// do 发送请求，非 2xx 状态转换为 StatusError
func (c *Client) do(ctx context.Context, reqBody ChatRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		klog.Errorf("[LLMClient] 请求失败: status=%d, body=%s", resp.StatusCode, body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// toChatMessages 把 eino 消息转换为请求格式，带图片的消息转换为多段内容
func toChatMessages(input []*schema.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		if len(msg.MultiContent) == 0 {
			out = append(out, ChatMessage{Role: string(msg.Role), Content: msg.Content})
			continue
		}

		parts := make([]ContentPart, 0, len(msg.MultiContent)+1)
		if msg.Content != "" {
			parts = append(parts, ContentPart{Type: "text", Text: msg.Content})
		}
		for _, p := range msg.MultiContent {
			switch p.Type {
			case schema.ChatMessagePartTypeText:
				parts = append(parts, ContentPart{Type: "text", Text: p.Text})
			case schema.ChatMessagePartTypeImageURL:
				if p.ImageURL != nil {
					parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: p.ImageURL.URL}})
				}
			}
		}
		out = append(out, ChatMessage{Role: string(msg.Role), Content: parts})
	}
	return out
}
