package tolerantjson

import (
	"strings"
)

// repair 是一次文本修复，输入输出都是候选 JSON 片段
type repair struct {
	name string
	fn   func(string) string
}

// repairs 按顺序累积执行，每执行一步尝试解析一次
var repairs = []repair{
	{"strip_comments", stripComments},
	{"single_quotes", convertSingleQuotes},
	{"bare_keys", quoteBareKeys},
	{"trailing_commas", removeTrailingCommas},
	{"inner_quotes", escapeInnerQuotes},
	{"close_brackets", closeBrackets},
}

func repairAndDecode(candidate string) (map[string]any, bool) {
	s := candidate
	for _, r := range repairs {
		s = r.fn(s)
		if obj, ok := decodeObject(s); ok {
			return obj, true
		}
	}
	return nil, false
}

// stripComments 删除字符串之外的 // 行注释和 /* */ 块注释
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	var prev byte // 字符串外上一个非空白字符
	escape := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == quote {
				quote = 0
				prev = '"'
			}
			continue
		}
		if c == '"' || (c == '\'' && valueStart(prev)) {
			quote = c
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return b.String()
				}
				i += 2 + end + 1
				continue
			}
		}
		b.WriteByte(c)
		if !isSpace(c) {
			prev = c
		}
	}
	return b.String()
}

// valueStart 字符串外上一个非空白字符之后能否开始一个键或值。
// 文本中的撇号（如 can't）不满足该条件，不会被当作单引号字符串。
func valueStart(prev byte) bool {
	switch prev {
	case 0, ':', ',', '[', '{':
		return true
	}
	return false
}

// convertSingleQuotes 把单引号字符串改写为双引号字符串
func convertSingleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	inSingle := false
	escape := false
	var prev byte // 字符串外上一个非空白字符

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inDouble:
			b.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inDouble = false
				prev = '"'
			}
		case inSingle:
			if escape {
				escape = false
				if c == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				b.WriteString(`\"`)
			case '\'':
				inSingle = false
				prev = '"'
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		case c == '"':
			inDouble = true
			b.WriteByte(c)
		case c == '\'' && valueStart(prev):
			inSingle = true
			b.WriteByte('"')
		default:
			b.WriteByte(c)
			if !isSpace(c) {
				prev = c
			}
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// quoteBareKeys 给 {key: 或 , key: 形式的裸键加上双引号
func quoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	escape := false
	var prev byte // 字符串外上一个非空白字符

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
				prev = '"'
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if isIdentStart(c) && (prev == '{' || prev == ',') {
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			k := j
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				i = j - 1
				prev = '"'
				continue
			}
		}
		b.WriteByte(c)
		if !isSpace(c) {
			prev = c
		}
	}
	return b.String()
}

// removeTrailingCommas 删除 ] 或 } 之前多余的逗号
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
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
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j >= len(s) || s[j] == '}' || s[j] == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeInnerQuotes 逐字符扫描，转义字符串内部未转义的双引号以及裸换行。
// 字符串内的引号只有在其后（跳过空白）紧跟结构字符时才视为字符串结束。
func escapeInnerQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		if escape {
			escape = false
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			escape = true
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			if closesString(s, i+1) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesString 判断位于 pos-1 的引号是否是字符串的结束引号
func closesString(s string, pos int) bool {
	j := pos
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	if j >= len(s) {
		return true
	}
	switch s[j] {
	case ':', '}', ']':
		return true
	case ',':
		k := j + 1
		for k < len(s) && isSpace(s[k]) {
			k++
		}
		if k >= len(s) {
			return true
		}
		switch n := s[k]; {
		case n == '"', n == '{', n == '[', n == '}', n == ']', n == '-':
			return true
		case n >= '0' && n <= '9':
			return true
		}
		return false
	}
	return false
}

// closeBrackets 为被截断的输出补齐未闭合的字符串和括号
func closeBrackets(s string) string {
	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
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
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return s
	}

	out := s
	if inString {
		if escape {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	switch {
	case strings.HasSuffix(out, ","):
		out = out[:len(out)-1]
	case strings.HasSuffix(out, ":"):
		out += " null"
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return removeTrailingCommas(out)
}
