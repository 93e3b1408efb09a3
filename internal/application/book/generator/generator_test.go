package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pustakam-api/internal/domain/entity"
	wfmodel "pustakam-api/internal/workflow/model"
	workflowport "pustakam-api/internal/workflow/port"
	"pustakam-api/internal/workflow/port/porttest"
)

func testInput() wfmodel.ModuleGenerateInput {
	return wfmodel.ModuleGenerateInput{
		BookTitle:    "Go Concurrency",
		Session:      entity.GenerationSession{Goal: "Learn Go", Language: "en", ComplexityLevel: entity.DifficultyBeginner},
		Module:       entity.RoadmapModule{ID: "module_1", Title: "Goroutines", Objectives: []string{"spawn"}},
		ModuleNumber: 1,
		TotalModules: 3,
	}
}

func drain(t *testing.T, ch <-chan Update) ([]string, Update) {
	t.Helper()
	var deltas []string
	var final Update
	finals := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				if finals != 1 {
					t.Fatalf("expected exactly one final update, got %d", finals)
				}
				return deltas, final
			}
			if u.Final {
				finals++
				final = u
				continue
			}
			deltas = append(deltas, u.Delta)
		case <-timeout:
			t.Fatal("generator did not finish")
		}
	}
}

func TestGenerate_StreamsThenFinal(t *testing.T) {
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{"# Goroutines\n", "Body text"}})
	g := New(Config{IdleTimeout: time.Second})

	deltas, final := drain(t, g.Generate(context.Background(), client, testInput()))
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %v", deltas)
	}
	if final.Err != nil || final.Content != "# Goroutines\nBody text" {
		t.Fatalf("unexpected final: %+v", final)
	}
}

func TestGenerate_EmptyContentIsProviderError(t *testing.T) {
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{"  ", "\n"}})
	_, final := drain(t, New(Config{}).Generate(context.Background(), client, testInput()))
	if final.Err == nil || final.Err.Kind != workflowport.KindProvider {
		t.Fatalf("expected provider error, got %+v", final)
	}
}

func TestGenerate_ClassifiesStreamError(t *testing.T) {
	client := porttest.NewClient("google", "m", porttest.Attempt{
		Chunks: []string{"partial"},
		Err:    errors.New("429 Too Many Requests: retry after 12"),
	})
	_, final := drain(t, New(Config{}).Generate(context.Background(), client, testInput()))
	if final.Err == nil || final.Err.Kind != workflowport.KindRateLimited || final.Err.RetryAfter != 12*time.Second {
		t.Fatalf("unexpected final: %+v", final.Err)
	}
	if final.Content != "" {
		t.Fatal("failed generation must not carry content")
	}
}

func TestGenerate_IdleTimeoutIsNetworkError(t *testing.T) {
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{"start"}, Hang: true})
	_, final := drain(t, New(Config{IdleTimeout: 50 * time.Millisecond}).Generate(context.Background(), client, testInput()))
	if final.Err == nil || final.Err.Kind != workflowport.KindNetwork {
		t.Fatalf("expected network error, got %+v", final.Err)
	}
}

func TestGenerate_IdleTimeoutClosesStreamIgnoringCancel(t *testing.T) {
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{"start"}, Hang: true, IgnoreCancel: true})
	_, final := drain(t, New(Config{IdleTimeout: 50 * time.Millisecond}).Generate(context.Background(), client, testInput()))
	if final.Err == nil || final.Err.Kind != workflowport.KindNetwork {
		t.Fatalf("expected network error, got %+v", final.Err)
	}
}

func TestGenerate_CancelDiscardsPartialText(t *testing.T) {
	hanging := make(chan struct{})
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{"partial"}, Hang: true, Hanging: hanging})
	ctx, cancel := context.WithCancel(context.Background())
	ch := New(Config{IdleTimeout: time.Minute}).Generate(ctx, client, testInput())

	<-hanging
	cancel()
	_, final := drain(t, ch)
	if final.Err == nil || final.Err.Kind != workflowport.KindCancelled || final.Content != "" {
		t.Fatalf("expected cancelled without content, got %+v", final)
	}
}

func TestGenerate_PriorContextIsOptional(t *testing.T) {
	in := testInput()
	in.PriorContext = strings.Repeat("x", 10) + "TAIL-OF-PREVIOUS"

	off := porttest.NewClient("google", "m")
	drain(t, New(Config{}).Generate(context.Background(), off, in))
	if strings.Contains(off.Messages(0)[1].Content, "TAIL-OF-PREVIOUS") {
		t.Fatal("prior context must be omitted when disabled")
	}

	on := porttest.NewClient("google", "m")
	drain(t, New(Config{PriorContext: true, PriorContextRunes: 16}).Generate(context.Background(), on, in))
	if !strings.Contains(on.Messages(0)[1].Content, "TAIL-OF-PREVIOUS") {
		t.Fatal("prior context must be included when enabled")
	}
}
