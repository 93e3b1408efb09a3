package entity

import (
	"testing"
	"time"
)

func newTestBook(t *testing.T, n int) *BookProject {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBookProject("book-1", "Learn Go concurrency", now)
	r := &Roadmap{DifficultyLevel: DifficultyAdvanced}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		r.Modules = append(r.Modules, RoadmapModule{ID: "m-" + id, Title: "Module " + id, Order: i + 1})
	}
	if !b.SetRoadmap(r, "Go Concurrency", now) {
		t.Fatal("SetRoadmap returned false")
	}
	return b
}

func TestBookProject_SetRoadmapOnce(t *testing.T) {
	b := newTestBook(t, 2)
	if b.Status != BookStatusRoadmapCompleted || b.Title != "Go Concurrency" {
		t.Fatalf("unexpected book after roadmap: status=%s title=%q", b.Status, b.Title)
	}
	if b.SetRoadmap(&Roadmap{Modules: []RoadmapModule{{ID: "x"}}}, "Other", time.Now()) {
		t.Fatal("roadmap must be immutable once set")
	}
	if b.Roadmap.TotalModules != 2 {
		t.Fatalf("unexpected total modules: %d", b.Roadmap.TotalModules)
	}
}

func TestBookProject_ModulesKeepRoadmapOrder(t *testing.T) {
	b := newTestBook(t, 3)
	now := time.Now()
	b.RecordSuccess(b.Roadmap.Modules[2], "third body", time.Second, "google", "m", now)
	b.RecordSuccess(b.Roadmap.Modules[0], "first body", time.Second, "google", "m", now)
	b.RecordFailure(b.Roadmap.Modules[1], "boom", "google", "m", now)

	want := []string{"m-a", "m-b", "m-c"}
	if len(b.Modules) != len(want) {
		t.Fatalf("expected %d modules, got %d", len(want), len(b.Modules))
	}
	for i, id := range want {
		if b.Modules[i].RoadmapModuleID != id {
			t.Fatalf("module %d = %s, want %s", i, b.Modules[i].RoadmapModuleID, id)
		}
	}
	if b.Progress != 66 {
		t.Fatalf("unexpected progress: %d", b.Progress)
	}
}

func TestBookProject_AttemptCounters(t *testing.T) {
	b := newTestBook(t, 1)
	rm := b.Roadmap.Modules[0]
	now := time.Now()

	m := b.RecordFailure(rm, "429", "google", "m", now)
	if m.Attempts != 1 || m.FailedAttempts != 1 || m.Status != ModuleStatusError {
		t.Fatalf("unexpected after failure: %+v", m)
	}
	m = b.RecordSuccess(rm, "one two three", 2*time.Second, "google", "m", now)
	if m.Attempts != 2 || m.FailedAttempts != 0 || m.WordCount != 3 || m.Error != "" {
		t.Fatalf("unexpected after success: %+v", m)
	}
	if !b.AllModulesDone() || b.Progress != 100 {
		t.Fatalf("expected book done, progress=%d", b.Progress)
	}
}

func TestGeneratedModule_IsDoneRequiresContent(t *testing.T) {
	m := &GeneratedModule{Status: ModuleStatusCompleted, Content: "   "}
	if m.IsDone() {
		t.Fatal("blank content must not count as done")
	}
}

func TestSettings_Normalize(t *testing.T) {
	cases := []struct {
		name         string
		in           Settings
		wantProvider ModelProvider
		wantModel    string
		wantFixes    int
	}{
		{"valid", Settings{SelectedProvider: ProviderGroq, SelectedModel: "openai/gpt-oss-20b"}, ProviderGroq, "openai/gpt-oss-20b", 0},
		{"unknown provider", Settings{SelectedProvider: "openai", SelectedModel: "gpt-4"}, DefaultProvider, DefaultModel, 2},
		{"unknown model", Settings{SelectedProvider: ProviderMistral, SelectedModel: "gemini-2.5-pro"}, ProviderMistral, "mistral-small-latest", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.in
			fixes := s.Normalize()
			if s.SelectedProvider != tc.wantProvider || s.SelectedModel != tc.wantModel {
				t.Fatalf("got %s/%s, want %s/%s", s.SelectedProvider, s.SelectedModel, tc.wantProvider, tc.wantModel)
			}
			if len(fixes) != tc.wantFixes {
				t.Fatalf("got %d fixes, want %d", len(fixes), tc.wantFixes)
			}
		})
	}
}

func TestSessionFromBook(t *testing.T) {
	b := newTestBook(t, 1)
	s := SessionFromBook(b, ProviderGoogle, DefaultModel, nil)
	if s.Language != "en" || s.ComplexityLevel != DifficultyAdvanced || !s.Preferences.IncludeExamples {
		t.Fatalf("unexpected session: %+v", s)
	}
}
