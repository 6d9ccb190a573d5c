// Package tolerantjson 从大模型输出的文本中尽力提取 JSON 对象。
//
// 大模型被要求输出严格 JSON，但实际可能夹带说明文字、代码块、非法 JSON
// （未加引号的键、尾逗号、单引号、未转义的引号），甚至只返回 Markdown。
// Parse 按从严格到宽松的顺序依次尝试多种策略，第一个成功的结果胜出，
// 全部失败时返回保留原始文本的占位对象。Parse 永远不会 panic，也不会返回 nil。
package tolerantjson

import (
	"encoding/json"
	"strings"

	"k8s.io/klog/v2"
)

// Strategy 标识最终生效的提取策略
type Strategy string

const (
	StrategyFenced   Strategy = "fenced"    // ```json 代码块
	StrategyDirect   Strategy = "direct"    // 整段文本直接解析
	StrategyBalanced Strategy = "balanced"  // 最大的括号平衡子串
	StrategyRepaired Strategy = "repaired"  // 文本修复后解析
	StrategyKeyValue Strategy = "key_value" // 正则扫描键值对重建
	StrategyMarkdown Strategy = "markdown"  // 从 Markdown 合成
	StrategyFallback Strategy = "fallback"  // 占位对象
)

// DefaultMaxRawLen 占位对象中保留原始文本的最大字符数
const DefaultMaxRawLen = 2000

// MarkdownFields 指定 Markdown 合成时写入的字段名，空字段名表示不写入
type MarkdownFields struct {
	Title    string
	Findings string
	Bullets  string
	Concerns string
	Digest   string
}

// Options 控制提取行为
type Options struct {
	// Markdown 合成使用的字段名
	Markdown MarkdownFields
	// Placeholder 构造兜底对象，raw 已按 MaxRawLen 截断
	Placeholder func(raw string) map[string]any
	// MaxRawLen 兜底对象中原始文本的最大长度，<=0 时使用 DefaultMaxRawLen
	MaxRawLen int
}

// Result 提取结果
type Result struct {
	Object   map[string]any
	Strategy Strategy
}

// Parse 按级联策略提取对象
func Parse(raw string, opts Options) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[tolerantjson] 提取过程 panic，使用占位对象: %v", r)
			result = Result{Object: placeholder(raw, opts), Strategy: StrategyFallback}
		}
	}()

	obj, strategy := cascade(raw, opts)
	klog.V(6).Infof("[tolerantjson] 提取完成: strategy=%s, rawLength=%d, fields=%d", strategy, len(raw), len(obj))
	return Result{Object: obj, Strategy: strategy}
}

// ParseObject 使用默认选项提取，只返回对象
func ParseObject(raw string) map[string]any {
	return Parse(raw, Options{}).Object
}

func cascade(raw string, opts Options) (map[string]any, Strategy) {
	// 1. 去除包裹标签
	text := stripTags(raw)

	// 2. ```json 代码块
	if block, ok := fencedJSON(text); ok {
		if obj, ok := decodeObject(block); ok {
			return obj, StrategyFenced
		}
	}

	// 3. 整段解析
	if obj, ok := decodeObject(text); ok {
		return obj, StrategyDirect
	}

	// 4. 括号平衡子串，从最长的开始
	spans := objectSpans(text)
	for _, span := range spans {
		if obj, ok := decodeObject(span); ok {
			return obj, StrategyBalanced
		}
	}

	candidate := ""
	if len(spans) > 0 {
		candidate = spans[0]
	} else if idx := strings.IndexByte(text, '{'); idx >= 0 {
		// 没有闭合的对象，多半是输出被截断
		candidate = text[idx:]
	}

	// 5. 修复后重试
	if candidate != "" {
		if obj, ok := repairAndDecode(candidate); ok {
			return obj, StrategyRepaired
		}
	}

	// 6. 键值对重建
	if obj := reconstructKeyValues(text); len(obj) > 0 {
		return obj, StrategyKeyValue
	}

	// 7. Markdown 合成
	if looksLikeMarkdown(text) {
		return synthesizeMarkdown(text, opts), StrategyMarkdown
	}

	// 8. 兜底
	return placeholder(raw, opts), StrategyFallback
}

// decodeObject 解析 JSON，仅接受顶层为对象的结果
func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		return nil, false
	}
	return obj, true
}

func placeholder(raw string, opts Options) (obj map[string]any) {
	limit := opts.MaxRawLen
	if limit <= 0 {
		limit = DefaultMaxRawLen
	}
	truncated := Truncate(strings.TrimSpace(raw), limit)

	if opts.Placeholder != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					klog.Errorf("[tolerantjson] 自定义占位构造 panic: %v", r)
					obj = nil
				}
			}()
			obj = opts.Placeholder(truncated)
		}()
		if obj != nil {
			return obj
		}
	}
	return map[string]any{
		"error":    "Could not parse response",
		"raw_text": truncated,
	}
}

// Truncate 按字符截断，超长时追加省略号
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
