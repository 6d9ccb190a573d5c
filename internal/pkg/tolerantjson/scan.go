package tolerantjson

import (
	"regexp"
	"sort"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	wrapperTagRe = regexp.MustCompile(`^</?[A-Za-z][A-Za-z0-9_:-]*\s*/?>`)
	fencedJSONRe = regexp.MustCompile("(?is)```\\s*json[ \\t]*\\r?\\n?(.*?)```")
)

// stripTags 去除模型偶尔输出的 <json>、<response>、<think> 等包裹标签。
// 花括号内 JSON 字符串中的标签属于内容，原样保留。
func stripTags(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = depth > 0
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case '<':
			if loc := wrapperTagRe.FindStringIndex(s[i:]); loc != nil {
				i += loc[1] - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}

// fencedJSON 提取第一个标注为 json 的代码块内容
func fencedJSON(s string) (string, bool) {
	m := fencedJSONRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// objectCandidates 扫描顶层的完整 {...} 片段。
// 跟踪嵌套深度并跳过字符串内部的括号与转义字符。
// 按字节遍历是安全的：UTF-8 多字节序列中不会出现 ASCII 字节。
func objectCandidates(s string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}

// naiveCandidates 不识别字符串的深度扫描，用于字符串本身未正确闭合的情况
func naiveCandidates(s string) []string {
	var candidates []string
	depth := 0
	start := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}

// objectSpans 返回所有括号平衡的顶层片段，按长度从长到短排序。
// 字符串感知的扫描找不到时退回不识别字符串的扫描。
func objectSpans(s string) []string {
	spans := objectCandidates(s)
	if len(spans) == 0 {
		spans = naiveCandidates(s)
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return len(spans[i]) > len(spans[j])
	})
	return spans
}

// matchingClose 从 s[start]（'{' 或 '['）开始寻找匹配的闭合位置，找不到返回 -1
func matchingClose(s string, start int) int {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
