package planner

import (
	"context"
	"errors"
	"testing"

	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/workflow/port/porttest"
	apperrors "pustakam-api/pkg/errors"
)

const roadmapJSON = "Here is your roadmap:\n```json\n" + `{
  "title": "Concurrency in Go",
  "reasoning": "Builds from basics",
  "difficulty_level": "Beginner",
  "estimated_reading_time": "6 hours",
  "modules": [
    {"title": "Goroutines", "objectives": ["spawn goroutines", " "], "estimated_time": "30 min"},
    {"title": "  ", "objectives": []},
    {"title": "Channels", "objectives": ["send and receive"], "estimated_time": "45 min"}
  ]
}` + "\n```"

func session() entity.GenerationSession {
	return entity.GenerationSession{Goal: "Learn Go concurrency", Language: "en", ComplexityLevel: entity.DifficultyIntermediate}
}

func TestPlan_ParsesRoadmap(t *testing.T) {
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{roadmapJSON[:40], roadmapJSON[40:]}})
	plan, err := New().Plan(context.Background(), client, session())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Title != "Concurrency in Go" || plan.Roadmap.DifficultyLevel != entity.DifficultyBeginner {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	mods := plan.Roadmap.Modules
	if len(mods) != 2 || plan.Roadmap.TotalModules != 2 {
		t.Fatalf("expected 2 modules, got %+v", mods)
	}
	if mods[1].ID != "module_2" || mods[1].Title != "Channels" || mods[1].Order != 2 {
		t.Fatalf("unexpected second module: %+v", mods[1])
	}
	if len(mods[0].Objectives) != 1 {
		t.Fatalf("blank objectives must be dropped: %v", mods[0].Objectives)
	}
}

func TestPlan_EmptyGoal(t *testing.T) {
	_, err := New().Plan(context.Background(), porttest.NewClient("google", "m"), entity.GenerationSession{})
	if !apperrors.HasCode(err, apperrors.CodeInvalidParam) {
		t.Fatalf("expected invalid param, got %v", err)
	}
}

func TestPlan_Errors(t *testing.T) {
	cases := []struct {
		name    string
		attempt porttest.Attempt
		want    ErrorKind
	}{
		{"not json", porttest.Attempt{Chunks: []string{"I cannot help with that"}}, KindInvalidResponse},
		{"no modules", porttest.Attempt{Chunks: []string{`{"title":"x","modules":[]}`}}, KindInvalidResponse},
		{"network", porttest.Attempt{StartErr: errors.New("dial tcp: connection refused")}, KindNetwork},
		{"rejected", porttest.Attempt{Err: errors.New("401 invalid api key")}, KindProviderRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := porttest.NewClient("google", "m", tc.attempt)
			_, err := New().Plan(context.Background(), client, session())
			var pe *Error
			if !errors.As(err, &pe) || pe.Kind != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}
