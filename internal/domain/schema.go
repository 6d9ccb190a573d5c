package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// 所有阶段响应共有的字段
const (
	FieldDigest        = "reference_data_for_next_role"
	FieldDisclaimer    = "disclaimer"
	FieldSchemaVersion = "schema_version"
	FieldRouting       = "recommended_specialist_type"
)

// CurrentSchemaVersion 当前响应结构版本
const CurrentSchemaVersion = 2

const (
	DefaultDisclaimer = "This analysis is generated by an AI system for informational purposes only. " +
		"It is not a medical diagnosis. Please consult a qualified healthcare professional."
	CouldNotParse = "Could not parse response"
)

// FieldKind 字段类型
type FieldKind string

const (
	KindString FieldKind = "string"
	KindList   FieldKind = "list"
	KindObject FieldKind = "object"
)

// Field 阶段响应中的一个字段
type Field struct {
	Name    string
	Kind    FieldKind
	Default any
	// Routing 路由字段没有默认值，缺失时由调用方报错
	Routing bool
}

// RoleResponse 一个阶段的结构化输出
type RoleResponse map[string]any

// Digest 返回转发给后续阶段的摘要
func (r RoleResponse) Digest() map[string]any {
	if d, ok := r[FieldDigest].(map[string]any); ok {
		return d
	}
	return map[string]any{}
}

// RoutingValue 返回专科类型，先查顶层字段再查摘要
func (r RoleResponse) RoutingValue() (string, bool) {
	if v, ok := r[FieldRouting].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := r.Digest()[FieldRouting].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

// Schema 阶段响应的字段表
type Schema struct {
	Fields []Field
}

func newSchema(fields ...Field) Schema {
	fields = append(fields,
		Field{Name: FieldDigest, Kind: KindObject, Default: map[string]any{}},
		Field{Name: FieldDisclaimer, Kind: KindString, Default: DefaultDisclaimer},
	)
	return Schema{Fields: fields}
}

func str(name, def string) Field { return Field{Name: name, Kind: KindString, Default: def} }
func list(name string) Field     { return Field{Name: name, Kind: KindList, Default: []any{}} }

func routing(name string) Field {
	return Field{Name: name, Kind: KindString, Routing: true}
}

// Field 按名称查找字段
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ListFields 返回所有列表字段名
func (s Schema) ListFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Kind == KindList {
			names = append(names, f.Name)
		}
	}
	return names
}

// Describe 生成提示词中的输出字段说明
func (s Schema) Describe() string {
	var b strings.Builder
	for _, f := range s.Fields {
		switch f.Kind {
		case KindList:
			fmt.Fprintf(&b, "- %q: array of strings\n", f.Name)
		case KindObject:
			fmt.Fprintf(&b, "- %q: object\n", f.Name)
		default:
			fmt.Fprintf(&b, "- %q: string\n", f.Name)
		}
	}
	return b.String()
}

// FillDefaults 按字段表检查类型并补齐缺失字段，返回新对象，不修改入参。
// 未在字段表中的额外字段原样保留。
func (s Schema) FillDefaults(obj map[string]any) RoleResponse {
	out := make(RoleResponse, len(obj)+len(s.Fields)+1)
	for k, v := range obj {
		out[k] = v
	}

	for _, f := range s.Fields {
		v, present := out[f.Name]
		coerced, ok := coerce(f.Kind, v, present)
		switch {
		case ok:
			out[f.Name] = coerced
		case f.Routing:
			delete(out, f.Name)
		default:
			out[f.Name] = cloneValue(f.Default)
		}
	}
	out[FieldSchemaVersion] = CurrentSchemaVersion
	return out
}

// Placeholder 解析彻底失败时的占位响应：列表字段标记无法解析，摘要中保留原始文本
func (s Schema) Placeholder(raw string) map[string]any {
	obj := make(map[string]any, len(s.Fields)+1)
	for _, f := range s.Fields {
		if f.Routing {
			continue
		}
		switch f.Kind {
		case KindList:
			obj[f.Name] = []any{CouldNotParse}
		case KindString:
			if f.Name == FieldDisclaimer {
				obj[f.Name] = DefaultDisclaimer
			} else {
				obj[f.Name] = CouldNotParse
			}
		}
	}
	obj[FieldDigest] = map[string]any{
		"parse_error": true,
		"raw_text":    raw,
	}
	obj[FieldSchemaVersion] = CurrentSchemaVersion
	return obj
}

func coerce(kind FieldKind, v any, present bool) (any, bool) {
	if !present || v == nil {
		return nil, false
	}
	switch kind {
	case KindString:
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) == "" {
				return nil, false
			}
			return t, true
		case float64:
			if math.IsNaN(t) || math.IsInf(t, 0) {
				return nil, false
			}
			return fmt.Sprint(t), true
		case bool:
			return fmt.Sprint(t), true
		case []any:
			parts := make([]string, 0, len(t))
			for _, item := range t {
				if s, ok := coerce(KindString, item, true); ok {
					parts = append(parts, s.(string))
				}
			}
			if len(parts) == 0 {
				return nil, false
			}
			return strings.Join(parts, "; "), true
		case map[string]any:
			data, err := json.Marshal(t)
			if err != nil {
				return nil, false
			}
			return string(data), true
		}
	case KindList:
		switch t := v.(type) {
		case []any:
			return t, true
		case []string:
			out := make([]any, 0, len(t))
			for _, s := range t {
				out = append(out, s)
			}
			return out, true
		case string:
			if strings.TrimSpace(t) == "" {
				return []any{}, true
			}
			return []any{t}, true
		case map[string]any:
			return []any{t}, true
		}
	case KindObject:
		switch t := v.(type) {
		case map[string]any:
			return t, true
		case string:
			if strings.TrimSpace(t) == "" {
				return nil, false
			}
			return map[string]any{"summary": t}, true
		}
	}
	return nil, false
}

// cloneValue 深拷贝默认值，避免不同响应共享同一个切片或 map
func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
