package prompt

import (
	"context"
	"strings"
	"testing"
)

func TestRegistry_RoadmapTemplateFormats(t *testing.T) {
	tpl, err := NewRegistry().ChatTemplate(PromptRoadmapPlanV1)
	if err != nil {
		t.Fatalf("ChatTemplate: %v", err)
	}
	msgs, err := tpl.Format(context.Background(), map[string]any{
		"goal":             "Learn Rust",
		"complexity_level": "beginner",
		"language":         "en",
		"reasoning_block":  "",
		"min_modules":      8,
		"max_modules":      12,
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
	user := msgs[1].Content
	if !strings.Contains(user, "Learn Rust") || !strings.Contains(user, `"modules": [`) {
		t.Fatalf("unexpected user prompt:\n%s", user)
	}
}

func TestRegistry_ModuleTemplateFormats(t *testing.T) {
	tpl, err := NewRegistry().ChatTemplate(PromptModuleGenV1)
	if err != nil {
		t.Fatalf("ChatTemplate: %v", err)
	}
	msgs, err := tpl.Format(context.Background(), map[string]any{
		"language":            "en",
		"book_title":          "Rust",
		"goal":                "Learn Rust",
		"complexity_level":    "beginner",
		"module_number":       1,
		"total_modules":       3,
		"module_title":        "Ownership",
		"estimated_time":      "1 hour",
		"objectives":          "- borrow",
		"preferences_block":   "- include examples",
		"prior_context_block": "",
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(msgs[1].Content, `module 1 of 3: "Ownership"`) {
		t.Fatalf("unexpected user prompt:\n%s", msgs[1].Content)
	}
}

func TestRegistry_UnknownPrompt(t *testing.T) {
	if _, err := NewRegistry().ChatTemplate("missing_v9"); err == nil {
		t.Fatal("expected error for unknown prompt")
	}
}
