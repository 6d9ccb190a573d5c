package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// Sink 接收不断增长的部分文本，最后一次调用 done 为 true 并携带完整文本
type Sink func(partial string, done bool)

// Completion 一次补全的结果
type Completion struct {
	Text string
	// Streamed 为 false 表示使用了非流式调用（未请求流式，或流式失败后的回退）
	Streamed bool
}

// Complete 执行一次补全。sink 为 nil 时使用非流式调用；
// 否则以流式调用并在每个分块后回调 sink，流式过程中出错时回退为一次非流式调用，
// 并通过同一个 sink 以 done=true 回放结果。
func Complete(ctx context.Context, cm model.BaseChatModel, msgs []*schema.Message, sink Sink) (Completion, error) {
	if sink == nil {
		text, err := generate(ctx, cm, msgs)
		return Completion{Text: text}, err
	}

	text, err := stream(ctx, cm, msgs, sink)
	if err == nil {
		sink(text, true)
		return Completion{Text: text, Streamed: true}, nil
	}
	if ctx.Err() != nil {
		return Completion{}, ctx.Err()
	}

	klog.Warningf("[LLM] 流式调用失败，回退为非流式调用: %v", err)
	text, err = generate(ctx, cm, msgs)
	if err != nil {
		return Completion{}, err
	}
	sink(text, true)
	return Completion{Text: text}, nil
}

func generate(ctx context.Context, cm model.BaseChatModel, msgs []*schema.Message) (string, error) {
	resp, err := cm.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}

func stream(ctx context.Context, cm model.BaseChatModel, msgs []*schema.Message, sink Sink) (string, error) {
	sr, err := cm.Stream(ctx, msgs)
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		sink(b.String(), false)
	}
}
