package orchestrator

import (
	"testing"
	"time"

	"pustakam-api/internal/config"
	"pustakam-api/internal/domain/entity"
	workflowport "pustakam-api/internal/workflow/port"
)

func TestRetryPolicy_WaitFor(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		name     string
		kind     workflowport.ErrorKind
		failures int
		hint     time.Duration
		want     time.Duration
	}{
		{"rate limited first", workflowport.KindRateLimited, 1, 0, 30 * time.Second},
		{"rate limited third", workflowport.KindRateLimited, 3, 0, 2 * time.Minute},
		{"rate limited capped", workflowport.KindRateLimited, 10, 0, 5 * time.Minute},
		{"rate limited longer hint", workflowport.KindRateLimited, 1, 90 * time.Second, 90 * time.Second},
		{"rate limited hint above cap", workflowport.KindRateLimited, 1, time.Hour, 5 * time.Minute},
		{"rate limited hint at cap", workflowport.KindRateLimited, 2, 5 * time.Minute, 5 * time.Minute},
		{"rate limited shorter hint", workflowport.KindRateLimited, 1, 5 * time.Second, 30 * time.Second},
		{"network", workflowport.KindNetwork, 2, 0, 10 * time.Second},
		{"network capped", workflowport.KindNetwork, 8, 0, time.Minute},
		{"provider", workflowport.KindProvider, 1, 0, 10 * time.Second},
		{"cancelled", workflowport.KindCancelled, 1, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.WaitFor(tc.kind, tc.failures, tc.hint); got != tc.want {
				t.Fatalf("WaitFor = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRetryPolicy_Ceiling(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.CeilingReached(2) || !p.CeilingReached(3) {
		t.Fatal("ceiling must be reached at max retries")
	}
}

func TestNewRetryPolicy_KeepsDefaultsForZeroValues(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{
		MaxRetries: 5,
		Network:    config.BackoffConfig{Initial: time.Second},
	})
	if p.MaxRetries != 5 || p.EnforceWait {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if p.Network.Initial != time.Second || p.Network.Max != time.Minute || p.Network.Multiplier != 2 {
		t.Fatalf("unexpected network backoff: %+v", p.Network)
	}
	if p.RateLimited.Initial != 30*time.Second {
		t.Fatalf("unexpected rate limited backoff: %+v", p.RateLimited)
	}
}

func TestComputeStats(t *testing.T) {
	now := time.Now()
	b := entity.NewBookProject("b", "goal", now)
	b.SetRoadmap(&entity.Roadmap{Modules: []entity.RoadmapModule{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}, "T", now)
	b.RecordSuccess(b.Roadmap.Modules[0], "one two three four", time.Minute, "google", "m", now)
	b.RecordSuccess(b.Roadmap.Modules[1], "five six", 3*time.Minute, "google", "m", now)
	b.RecordFailure(b.Roadmap.Modules[2], "boom", "google", "m", now)

	s := ComputeStats(b)
	if s.CompletedModules != 2 || s.FailedModules != 1 || s.TotalWordsGenerated != 6 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.AverageTimePerModuleMs != 120000 || s.EstimatedTimeRemainingMs != 240000 {
		t.Fatalf("unexpected timings: %+v", s)
	}
	if s.WordsPerMinute != 1.5 {
		t.Fatalf("unexpected words per minute: %v", s.WordsPerMinute)
	}
}
