package tolerantjson

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var keyRe = regexp.MustCompile(`"((?:[^"\\\n]|\\.)+)"\s*:\s*`)

// reconstructKeyValues 在整段文本中扫描 "key": value 形式的键值对并重建为扁平对象。
// value 可以是字符串、数组、对象或裸标量；同名键只保留第一次出现的值。
func reconstructKeyValues(s string) map[string]any {
	obj := make(map[string]any)
	pos := 0

	for pos < len(s) {
		loc := keyRe.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		key := unquote(s[pos+loc[2] : pos+loc[3]])
		valueStart := pos + loc[1]
		value, end, ok := readValue(s, valueStart)
		if !ok {
			pos = valueStart
			continue
		}
		if _, exists := obj[key]; !exists && key != "" {
			obj[key] = value
		}
		if end <= pos {
			end = pos + 1
		}
		pos = end
	}
	return obj
}

// readValue 从 start 开始读取一个值，返回值与结束位置
func readValue(s string, start int) (any, int, bool) {
	if start >= len(s) {
		return nil, start, false
	}
	switch c := s[start]; c {
	case '"':
		end := closingQuote(s, start)
		if end < 0 {
			return nil, start, false
		}
		return unquote(s[start+1 : end]), end + 1, true
	case '{', '[':
		end := matchingClose(s, start)
		if end < 0 {
			return nil, start, false
		}
		literal := s[start : end+1]
		return decodeLiteral(literal), end + 1, true
	case ',', '}', ']':
		return nil, start, false
	default:
		end := start
		for end < len(s) && !strings.ContainsRune(",}]\n", rune(s[end])) {
			end++
		}
		return inferScalar(s[start:end]), end, true
	}
}

func closingQuote(s string, start int) int {
	escape := false
	for i := start + 1; i < len(s); i++ {
		if escape {
			escape = false
			continue
		}
		switch s[i] {
		case '\\':
			escape = true
		case '"':
			return i
		case '\n':
			return -1
		}
	}
	return -1
}

// decodeLiteral 解析数组或对象字面量，失败时修复后重试，仍失败则保留原文
func decodeLiteral(literal string) any {
	var v any
	if err := json.Unmarshal([]byte(literal), &v); err == nil {
		return v
	}
	repaired := literal
	for _, r := range repairs {
		repaired = r.fn(repaired)
		if err := json.Unmarshal([]byte(repaired), &v); err == nil {
			return v
		}
	}
	return literal
}

// inferScalar 推断裸标量的类型：布尔、null、数字，否则作为字符串
func inferScalar(raw string) any {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none", "undefined":
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return strings.Trim(v, `'"`)
}

func unquote(inner string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+inner+`"`), &out); err == nil {
		return out
	}
	return inner
}
