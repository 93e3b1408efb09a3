package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	llmctx "pustakam-api/internal/domain/service"
	wfmodel "pustakam-api/internal/workflow/model"
	workflowport "pustakam-api/internal/workflow/port"
	workflowprompt "pustakam-api/internal/workflow/prompt"
)

// ModuleChain 单模块内容生成调用
type ModuleChain struct{}

func NewModuleChain() *ModuleChain {
	return &ModuleChain{}
}

// Stream 返回文本流；调用方负责 Close()
func (c *ModuleChain) Stream(ctx context.Context, client workflowport.ModelClient, in *wfmodel.ModuleGenerateInput) (workflowport.TextStream, error) {
	if client == nil {
		return nil, fmt.Errorf("model client not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Module.Title) == "" {
		return nil, fmt.Errorf("module title is required")
	}

	ctx = llmctx.WithLLMCall(ctx, llmctx.WorkflowModuleGenerate, client.Provider(), client.Model())
	msgs, err := FormatModuleMessages(ctx, in)
	if err != nil {
		return nil, err
	}
	return client.Stream(ctx, msgs, workflowport.InvokeOptions{
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	})
}

// FormatModuleMessages 渲染模块生成提示词
func FormatModuleMessages(ctx context.Context, in *wfmodel.ModuleGenerateInput) ([]*schema.Message, error) {
	tpl, err := promptRegistry.ChatTemplate(workflowprompt.PromptModuleGenV1)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"language":            languageOrDefault(in.Session.Language),
		"book_title":          strings.TrimSpace(in.BookTitle),
		"goal":                strings.TrimSpace(in.Session.Goal),
		"complexity_level":    string(in.Session.ComplexityLevel),
		"module_number":       in.ModuleNumber,
		"total_modules":       in.TotalModules,
		"module_title":        strings.TrimSpace(in.Module.Title),
		"estimated_time":      strings.TrimSpace(in.Module.EstimatedTime),
		"objectives":          bulletList(in.Module.Objectives),
		"preferences_block":   preferencesBlock(in),
		"prior_context_block": priorContextBlock(in.PriorContext),
	}
	return tpl.Format(ctx, vars)
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "- Cover the topic named in the title thoroughly"
	}
	return strings.TrimRight(b.String(), "\n")
}

func preferencesBlock(in *wfmodel.ModuleGenerateInput) string {
	p := in.Session.Preferences
	lines := []string{"- Explain concepts clearly for a " + string(in.Session.ComplexityLevel) + " reader"}
	if p.IncludeExamples {
		lines = append(lines, "- Include concrete, worked examples")
	}
	if p.IncludePracticalExercises {
		lines = append(lines, "- End with practical exercises")
	}
	if p.IncludeQuizzes {
		lines = append(lines, "- Add a short quiz with answers at the end")
	}
	return strings.Join(lines, "\n")
}

func priorContextBlock(prior string) string {
	prior = strings.TrimSpace(prior)
	if prior == "" {
		return ""
	}
	return "\nEarlier chapters ended with the following text. Keep continuity and do not repeat it:\n\"\"\"\n" + prior + "\n\"\"\"\n"
}
