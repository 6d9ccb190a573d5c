package domain

import (
	"encoding/json"
	"strings"
)

// migration 把某一版本的响应转换为下一版本，必须是纯函数
type migration func(stage Stage, obj map[string]any) map[string]any

// migrations[v] 负责 v -> v+1
var migrations = map[int]migration{
	1: migrateV1ToV2,
}

// 第 1 版中摘要与路由字段的旧名称
var (
	legacyDigestKeys  = []string{"next_role_data", "reference_data"}
	legacyRoutingKeys = []string{"specialist_type", "recommended_specialist"}
)

// SchemaVersion 读取响应的结构版本，缺失时视为第 1 版
func SchemaVersion(obj map[string]any) int {
	switch v := obj[FieldSchemaVersion].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if strings.TrimSpace(v) == "2" {
			return 2
		}
	}
	return 1
}

// Migrate 将响应逐版本迁移到当前版本，返回新对象
func Migrate(stage Stage, obj map[string]any) map[string]any {
	out := shallowCopy(obj)
	for v := SchemaVersion(out); v < CurrentSchemaVersion; v++ {
		m, ok := migrations[v]
		if !ok {
			break
		}
		out = m(stage, out)
		out[FieldSchemaVersion] = v + 1
	}
	return out
}

func migrateV1ToV2(stage Stage, obj map[string]any) map[string]any {
	out := shallowCopy(obj)

	if _, ok := out[FieldDigest]; !ok {
		for _, key := range legacyDigestKeys {
			if v, ok := out[key]; ok {
				out[FieldDigest] = v
				break
			}
		}
	}
	for _, key := range legacyDigestKeys {
		delete(out, key)
	}

	if stage == StagePhysician {
		if _, ok := out[FieldRouting]; !ok {
			for _, key := range legacyRoutingKeys {
				if v, ok := out[key]; ok {
					out[FieldRouting] = v
					break
				}
			}
		}
		for _, key := range legacyRoutingKeys {
			delete(out, key)
		}
	}

	if digest, ok := out[FieldDigest].(map[string]any); ok {
		for _, key := range legacyRoutingKeys {
			if v, ok := digest[key]; ok {
				digest = shallowCopy(digest)
				if _, exists := digest[FieldRouting]; !exists {
					digest[FieldRouting] = v
				}
				delete(digest, key)
				out[FieldDigest] = digest
			}
		}
	}

	// 第 1 版偶尔把列表字段输出成单个字符串
	if def, ok := DefinitionOf(stage); ok {
		for _, name := range def.Schema.ListFields() {
			if s, ok := out[name].(string); ok {
				out[name] = splitLegacyList(s)
			}
		}
	}
	return out
}

// splitLegacyList 按换行拆分旧版字符串列表，去掉项目符号
func splitLegacyList(s string) []any {
	items := []any{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

func shallowCopy(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
