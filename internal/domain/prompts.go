package domain

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptCatalog 阶段与问答的系统提示词模板
type PromptCatalog struct {
	Stages map[string]string `yaml:"stages"`
	Chat   string            `yaml:"chat"`
}

// DefaultPrompts 内置提示词
func DefaultPrompts() *PromptCatalog {
	var c PromptCatalog
	if err := yaml.Unmarshal(defaultPrompts, &c); err != nil {
		panic(fmt.Sprintf("内置提示词解析失败: %v", err))
	}
	return &c
}

// LoadPrompts 加载提示词，文件中的条目覆盖内置条目；path 为空时只使用内置提示词
func LoadPrompts(path string) (*PromptCatalog, error) {
	c := DefaultPrompts()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取提示词文件失败: %w", err)
	}
	var override PromptCatalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("解析提示词文件失败: %w", err)
	}
	for key, tmpl := range override.Stages {
		if _, err := ParseStage(key); err != nil {
			klog.Warningf("[Prompts] 忽略未知阶段的提示词: %s", key)
			continue
		}
		c.Stages[key] = tmpl
	}
	if strings.TrimSpace(override.Chat) != "" {
		c.Chat = override.Chat
	}
	klog.V(6).Infof("[Prompts] 已加载提示词文件: %s, 覆盖阶段数=%d", path, len(override.Stages))
	return c, nil
}

// StageSystem 渲染阶段的系统消息
func (c *PromptCatalog) StageSystem(ctx context.Context, stage Stage, vars map[string]any) (*schema.Message, error) {
	tmpl, ok := c.Stages[stage.Key()]
	if !ok || strings.TrimSpace(tmpl) == "" {
		return nil, fmt.Errorf("阶段 %s 缺少提示词", stage.Key())
	}
	def, _ := DefinitionOf(stage)

	all := map[string]any{
		"output_fields":   def.Schema.Describe(),
		"specialist_type": "",
	}
	for k, v := range vars {
		all[k] = v
	}
	return render(ctx, tmpl, all)
}

// ChatSystem 渲染问答的系统消息
func (c *PromptCatalog) ChatSystem(ctx context.Context, caseFile string) (*schema.Message, error) {
	return render(ctx, c.Chat, map[string]any{"case_file": caseFile})
}

func render(ctx context.Context, tmpl string, vars map[string]any) (*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tmpl))
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("渲染提示词失败: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("渲染提示词失败: 结果为空")
	}
	return msgs[0], nil
}
