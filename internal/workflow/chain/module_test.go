package chain

import (
	"context"
	"strings"
	"testing"

	"pustakam-api/internal/domain/entity"
	wfmodel "pustakam-api/internal/workflow/model"
)

func TestFormatModuleMessages_PreferencesAndContext(t *testing.T) {
	in := &wfmodel.ModuleGenerateInput{
		BookTitle: "Go in Practice",
		Session: entity.GenerationSession{
			Goal:            "Learn Go",
			Language:        "en",
			ComplexityLevel: entity.DifficultyBeginner,
			Preferences:     entity.Preferences{IncludeExamples: true, IncludeQuizzes: true},
		},
		Module:       entity.RoadmapModule{ID: "module_2", Title: "Goroutines", Objectives: []string{"spawn", " ", "sync"}},
		ModuleNumber: 2,
		TotalModules: 5,
		PriorContext: "channels were introduced",
	}
	msgs, err := FormatModuleMessages(context.Background(), in)
	if err != nil {
		t.Fatalf("FormatModuleMessages: %v", err)
	}
	user := msgs[1].Content
	for _, want := range []string{"module 2 of 5", "- spawn\n- sync", "worked examples", "short quiz", "channels were introduced"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
	if strings.Contains(user, "practical exercises") {
		t.Errorf("exercises were not requested:\n%s", user)
	}
}
