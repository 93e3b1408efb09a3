// Package chain 组装提示词并发起模型调用
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

var promptRegistry = workflowprompt.NewRegistry()

// RoadmapChain 路线图规划调用
type RoadmapChain struct{}

func NewRoadmapChain() *RoadmapChain {
	return &RoadmapChain{}
}

// Stream 返回文本流；调用方负责 Close()
func (c *RoadmapChain) Stream(ctx context.Context, client workflowport.ModelClient, in *wfmodel.RoadmapPlanInput) (workflowport.TextStream, error) {
	if client == nil {
		return nil, fmt.Errorf("model client not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Session.Goal) == "" {
		return nil, fmt.Errorf("goal is required")
	}

	ctx = llmctx.WithLLMCall(ctx, llmctx.WorkflowRoadmapPlan, client.Provider(), client.Model())
	msgs, err := formatRoadmapMessages(ctx, in)
	if err != nil {
		return nil, err
	}
	return client.Stream(ctx, msgs, workflowport.InvokeOptions{})
}

func formatRoadmapMessages(ctx context.Context, in *wfmodel.RoadmapPlanInput) ([]*schema.Message, error) {
	tpl, err := promptRegistry.ChatTemplate(workflowprompt.PromptRoadmapPlanV1)
	if err != nil {
		return nil, err
	}
	reasoning := ""
	if r := strings.TrimSpace(in.Session.Reasoning); r != "" {
		reasoning = "Why the reader wants this: " + r
	}
	minModules, maxModules := in.MinModules, in.MaxModules
	if minModules <= 0 {
		minModules = 8
	}
	if maxModules < minModules {
		maxModules = minModules + 4
	}
	vars := map[string]any{
		"goal":             strings.TrimSpace(in.Session.Goal),
		"complexity_level": string(in.Session.ComplexityLevel),
		"language":         languageOrDefault(in.Session.Language),
		"reasoning_block":  reasoning,
		"min_modules":      minModules,
		"max_modules":      maxModules,
	}
	return tpl.Format(ctx, vars)
}

func languageOrDefault(lang string) string {
	if l := strings.TrimSpace(lang); l != "" {
		return l
	}
	return "en"
}
