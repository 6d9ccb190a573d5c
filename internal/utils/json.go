package utils

import (
	"encoding/json"

	"k8s.io/klog/v2"
)

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}

// ToPrettyJSON 带缩进的序列化，用于发给模型的用户内容
func ToPrettyJSON(v any) string {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}
