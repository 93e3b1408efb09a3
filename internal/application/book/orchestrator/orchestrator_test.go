package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pustakam-api/internal/application/book/generator"
	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	workflowport "pustakam-api/internal/workflow/port"
	"pustakam-api/internal/workflow/port/porttest"
	apperrors "pustakam-api/pkg/errors"
)

type memRepo struct {
	mu     sync.Mutex
	books  map[string][]byte
	saves  int
	failOn map[int]bool
}

func newMemRepo() *memRepo {
	return &memRepo{books: make(map[string][]byte), failOn: make(map[int]bool)}
}

func (r *memRepo) Load(_ context.Context, id string) (*entity.BookProject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.books[id]
	if !ok {
		return nil, nil
	}
	var b entity.BookProject
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *memRepo) Save(_ context.Context, b *entity.BookProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.failOn[r.saves] {
		return apperrors.ErrStorage.WithDetail("disk full")
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	r.books[b.ID] = raw
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, id)
	return nil
}

func (r *memRepo) List(context.Context, repository.Pagination) (*repository.PagedResult[*entity.BookProject], error) {
	return nil, errors.New("not used")
}

func (r *memRepo) DeleteAll(context.Context) error { return nil }

func (r *memRepo) failNextSave(offset int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[r.saves+offset] = true
}

func (r *memRepo) mustLoad(t *testing.T, id string) *entity.BookProject {
	t.Helper()
	b, err := r.Load(context.Background(), id)
	if err != nil || b == nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return b
}

func seedBook(t *testing.T, repo *memRepo, modules int) *entity.BookProject {
	t.Helper()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	b := entity.NewBookProject("book-1", "Learn distributed systems", now)
	r := &entity.Roadmap{DifficultyLevel: entity.DifficultyIntermediate}
	for i := 1; i <= modules; i++ {
		r.Modules = append(r.Modules, entity.RoadmapModule{ID: fmt.Sprintf("module_%d", i), Title: fmt.Sprintf("Chapter %d", i), Order: i})
	}
	b.SetRoadmap(r, "Distributed Systems", now)
	if err := repo.Save(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	return b
}

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:  3,
		EnforceWait: true,
		RateLimited: Backoff{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2},
		Network:     Backoff{Initial: 5 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
		Provider:    Backoff{Initial: 5 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
	}
}

func newTestOrchestrator(repo *memRepo, factory workflowport.ModelClientFactory) *Orchestrator {
	return New(repo, factory, generator.New(generator.Config{IdleTimeout: 2 * time.Second}), NewHub(1024, nil),
		Options{Policy: fastPolicy()})
}

func waitEvent(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func inState(s State) func(Event) bool {
	return func(ev Event) bool { return ev.Type == EventTransition && ev.State == s }
}

func TestRun_RateLimitedThenRetry(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 3)
	client := porttest.NewClient("google", "gemini-2.5-flash",
		porttest.Attempt{Chunks: []string{"Chapter one body"}},
		porttest.Attempt{Err: errors.New("429 Too Many Requests: rate limit exceeded")},
	)
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := waitEvent(t, events, inState(StateWaitingRetry))
	if ev.RetryInfo == nil || ev.RetryInfo.ModuleID != "module_2" || ev.RetryInfo.Kind != workflowport.KindRateLimited {
		t.Fatalf("unexpected retry info: %+v", ev.RetryInfo)
	}
	if ev.RetryInfo.RetryCount != 1 || ev.RetryInfo.MaxRetries != 3 || ev.RetryInfo.CeilingReached {
		t.Fatalf("unexpected retry accounting: %+v", ev.RetryInfo)
	}
	if ev.Stats == nil || ev.Stats.CompletedModules != 1 || ev.Stats.FailedModules != 1 {
		t.Fatalf("unexpected stats: %+v", ev.Stats)
	}

	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitEvent(t, events, inState(StateCompleted))

	b := repo.mustLoad(t, "book-1")
	if b.CompletedCount() != 3 || b.Progress != 100 {
		t.Fatalf("expected 3 completed modules, got %d (progress %d)", b.CompletedCount(), b.Progress)
	}
	m2 := b.Module("module_2")
	if m2.Attempts != 2 || m2.FailedAttempts != 0 || m2.Status != entity.ModuleStatusCompleted {
		t.Fatalf("unexpected module 2: %+v", m2)
	}
	if client.Calls() != 4 {
		t.Fatalf("expected 4 calls, got %d", client.Calls())
	}
	if snap, _ := o.Snapshot("book-1"); snap.State != StateCompleted {
		t.Fatalf("unexpected snapshot state %s", snap.State)
	}
}

func TestRun_PauseDuringModuleThenResume(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 5)
	hanging := make(chan struct{})
	client := porttest.NewClient("google", "m",
		porttest.Attempt{Chunks: []string{"one"}},
		porttest.Attempt{Chunks: []string{"two"}},
		porttest.Attempt{Chunks: []string{"partial three"}, Hang: true, Hanging: hanging},
	)
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-hanging
	if err := o.Pause(ctx, "book-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if snap, _ := o.Snapshot("book-1"); snap.State != StatePaused {
		t.Fatalf("expected paused, got %s", snap.State)
	}
	b := repo.mustLoad(t, "book-1")
	if b.CompletedCount() != 2 || len(b.Modules) != 2 || b.Module("module_3") != nil {
		t.Fatalf("expected exactly 2 completed modules, got %+v", b.Modules)
	}
	if !o.IsActive("book-1") {
		t.Fatal("paused run must stay active")
	}

	if err := o.Resume(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitEvent(t, events, inState(StateCompleted))

	// 5 modules plus the discarded in-flight attempt; completed modules are never re-invoked
	if client.Calls() != 6 {
		t.Fatalf("expected 6 calls, got %d", client.Calls())
	}
	if b := repo.mustLoad(t, "book-1"); b.CompletedCount() != 5 {
		t.Fatalf("expected all modules completed, got %d", b.CompletedCount())
	}
}

func TestRun_SkipAdvancesAndEndsInError(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 3)
	client := porttest.NewClient("google", "m",
		porttest.Attempt{Chunks: []string{"one"}},
		porttest.Attempt{Err: errors.New("400 bad request: invalid prompt")},
	)
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := waitEvent(t, events, inState(StateWaitingRetry))
	if ev.RetryInfo.Kind != workflowport.KindProvider {
		t.Fatalf("unexpected kind %s", ev.RetryInfo.Kind)
	}
	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionSkip}); err != nil {
		t.Fatalf("skip: %v", err)
	}
	waitEvent(t, events, func(ev Event) bool {
		return ev.Type == EventTransition && ev.State == StateIdle && ev.BookStatus == entity.BookStatusError
	})

	b := repo.mustLoad(t, "book-1")
	if m := b.Module("module_2"); m == nil || m.Status != entity.ModuleStatusError || m.Attempts != 1 {
		t.Fatalf("unexpected skipped module: %+v", m)
	}
	if !b.IsModuleDone("module_3") {
		t.Fatal("module after skipped one must be generated")
	}
	if client.Calls() != 3 {
		t.Fatalf("skipped module must not be re-attempted, calls=%d", client.Calls())
	}
	if o.IsActive("book-1") {
		t.Fatal("run must end after last module")
	}
}

func TestRun_CancelDiscardsPartialContent(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 2)
	hanging := make(chan struct{})
	client := porttest.NewClient("google", "m",
		porttest.Attempt{Chunks: []string{"partial"}, Hang: true, Hanging: hanging},
	)
	o := newTestOrchestrator(repo, porttest.NewFactory(client))

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-hanging
	if err := o.Cancel(ctx, "book-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	b := repo.mustLoad(t, "book-1")
	if b.Status != entity.BookStatusRoadmapCompleted {
		t.Fatalf("expected roadmap_completed, got %s", b.Status)
	}
	if b.Module("module_1") != nil {
		t.Fatal("cancelled attempt must not leave a module entry")
	}
	if o.IsActive("book-1") {
		t.Fatal("cancelled run must release the book")
	}
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
}

func TestRun_SecondStartRejected(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 1)
	hanging := make(chan struct{})
	client := porttest.NewClient("google", "m", porttest.Attempt{Hang: true, Hanging: hanging})
	o := newTestOrchestrator(repo, porttest.NewFactory(client))

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-hanging
	if err := o.Start(ctx, "book-1", StartOptions{}); !apperrors.HasCode(err, apperrors.CodeRunActive) {
		t.Fatalf("expected run active error, got %v", err)
	}
	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("decision while generating must be rejected, got %v", err)
	}
	if err := o.Cancel(ctx, "book-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestRun_SwitchProvider(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 1)
	google := porttest.NewClient("google", "gemini-2.5-flash", porttest.Attempt{StartErr: errors.New("dial tcp: connection refused")})
	groq := porttest.NewClient("groq", "llama-3.3-70b-versatile")
	o := newTestOrchestrator(repo, porttest.NewFactory(google, groq))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{Provider: "google"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := waitEvent(t, events, inState(StateWaitingRetry))
	if ev.RetryInfo.Kind != workflowport.KindNetwork {
		t.Fatalf("unexpected kind %s", ev.RetryInfo.Kind)
	}
	err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionSwitch, Provider: "groq", Model: "llama-3.3-70b-versatile"})
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	waitEvent(t, events, inState(StateCompleted))

	m := repo.mustLoad(t, "book-1").Module("module_1")
	if m.Provider != "groq" || m.Attempts != 2 {
		t.Fatalf("unexpected module after switch: %+v", m)
	}
}

func TestRun_StorageFailurePausesAndResumeRetriesSave(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 2)
	client := porttest.NewClient("google", "m")
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	// save #1 seeded the book, #2 is the run start, #3 persists module 1
	ctx := context.Background()
	repo.failNextSave(2)
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := waitEvent(t, events, inState(StatePaused))
	if ev.Error == "" {
		t.Fatal("storage failure must be surfaced on the event")
	}

	if err := o.Resume(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitEvent(t, events, inState(StateCompleted))
	if b := repo.mustLoad(t, "book-1"); b.CompletedCount() != 2 {
		t.Fatalf("expected 2 completed, got %d", b.CompletedCount())
	}
	if client.Calls() != 2 {
		t.Fatalf("module saved after resume must not be regenerated, calls=%d", client.Calls())
	}
}

func TestResumeAfterRestartSkipsCompletedModules(t *testing.T) {
	repo := newMemRepo()
	b := seedBook(t, repo, 4)
	now := time.Now()
	b.RecordSuccess(b.Roadmap.Modules[0], "one", time.Second, "google", "m", now)
	b.RecordSuccess(b.Roadmap.Modules[1], "two", time.Second, "google", "m", now)
	b.Status = entity.BookStatusGeneratingContent
	if err := repo.Save(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	client := porttest.NewClient("google", "m")
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	if err := o.Resume(context.Background(), "book-1", StartOptions{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitEvent(t, events, inState(StateCompleted))
	if client.Calls() != 2 {
		t.Fatalf("expected only the 2 remaining modules to be generated, calls=%d", client.Calls())
	}
}

func TestStart_Rejections(t *testing.T) {
	repo := newMemRepo()
	o := newTestOrchestrator(repo, porttest.NewFactory(porttest.NewClient("google", "m")))
	ctx := context.Background()

	if err := o.Start(ctx, "missing", StartOptions{}); !apperrors.HasCode(err, apperrors.CodeBookNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	b := entity.NewBookProject("no-roadmap", "goal", time.Now())
	_ = repo.Save(ctx, b)
	if err := o.Start(ctx, "no-roadmap", StartOptions{}); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if o.IsActive("no-roadmap") {
		t.Fatal("failed start must not leave a run behind")
	}
	if err := o.Pause(ctx, "no-roadmap"); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition for pause without run, got %v", err)
	}
}

func newPolicyOrchestrator(repo *memRepo, factory workflowport.ModelClientFactory, policy *RetryPolicy) *Orchestrator {
	return New(repo, factory, generator.New(generator.Config{IdleTimeout: 2 * time.Second}), NewHub(1024, nil),
		Options{Policy: policy})
}

func waitingWithCount(n int) func(Event) bool {
	return func(ev Event) bool {
		return inState(StateWaitingRetry)(ev) && ev.RetryInfo != nil && ev.RetryInfo.RetryCount == n
	}
}

func TestRun_RetryWaitsOutRemainingBackoff(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 1)
	client := porttest.NewClient("google", "m", porttest.Attempt{Err: errors.New("429 Too Many Requests")})
	policy := fastPolicy()
	policy.RateLimited = Backoff{Initial: 300 * time.Millisecond, Max: time.Second, Multiplier: 2}
	o := newPolicyOrchestrator(repo, porttest.NewFactory(client), policy)
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := waitEvent(t, events, waitingWithCount(1))
	failedAt := time.Now()
	if ev.RetryInfo.WaitTimeMs != 300 {
		t.Fatalf("unexpected wait time %d", ev.RetryInfo.WaitTimeMs)
	}
	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("retry must not call the provider before the backoff ends, calls=%d", client.Calls())
	}
	waitEvent(t, events, inState(StateCompleted))
	if elapsed := time.Since(failedAt); elapsed < 250*time.Millisecond {
		t.Fatalf("retry ran after %s, before the backoff ended", elapsed)
	}
	if client.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", client.Calls())
	}
}

func TestRun_CancelDuringRetryWait(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 2)
	client := porttest.NewClient("google", "m", porttest.Attempt{Err: errors.New("400 bad request: invalid prompt")})
	policy := fastPolicy()
	policy.Provider = Backoff{Initial: 5 * time.Second, Max: 10 * time.Second, Multiplier: 2}
	o := newPolicyOrchestrator(repo, porttest.NewFactory(client), policy)
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, events, waitingWithCount(1))
	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := o.Cancel(ctx, "book-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if o.IsActive("book-1") {
		t.Fatal("cancelled run must release the book")
	}
	if client.Calls() != 1 {
		t.Fatalf("cancel during the wait must not retry, calls=%d", client.Calls())
	}
	if b := repo.mustLoad(t, "book-1"); b.Status != entity.BookStatusRoadmapCompleted {
		t.Fatalf("expected roadmap_completed, got %s", b.Status)
	}
}

func TestRun_SkipDuringRetryWait(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 2)
	client := porttest.NewClient("google", "m", porttest.Attempt{Err: errors.New("400 bad request: invalid prompt")})
	policy := fastPolicy()
	policy.Provider = Backoff{Initial: 5 * time.Second, Max: 10 * time.Second, Multiplier: 2}
	o := newPolicyOrchestrator(repo, porttest.NewFactory(client), policy)
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, events, waitingWithCount(1))
	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionSkip}); err != nil {
		t.Fatalf("skip: %v", err)
	}
	waitEvent(t, events, func(ev Event) bool {
		return ev.Type == EventTransition && ev.State == StateIdle && ev.BookStatus == entity.BookStatusError
	})
	if client.Calls() != 2 {
		t.Fatalf("skipped module must not be retried, calls=%d", client.Calls())
	}
	if b := repo.mustLoad(t, "book-1"); !b.IsModuleDone("module_2") || b.IsModuleDone("module_1") {
		t.Fatalf("unexpected modules: %+v", b.Modules)
	}
}

func TestRun_CeilingReachedStillAcceptsRetry(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 1)
	rateLimited := porttest.Attempt{Err: errors.New("429 Too Many Requests")}
	client := porttest.NewClient("google", "m", rateLimited, rateLimited, rateLimited)
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for n := 1; n <= 3; n++ {
		ev := waitEvent(t, events, waitingWithCount(n))
		if ev.RetryInfo.MaxRetries != 3 || ev.RetryInfo.CeilingReached != (n == 3) {
			t.Fatalf("unexpected retry info after %d failures: %+v", n, ev.RetryInfo)
		}
		if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); err != nil {
			t.Fatalf("retry %d: %v", n, err)
		}
	}
	waitEvent(t, events, inState(StateCompleted))

	m := repo.mustLoad(t, "book-1").Module("module_1")
	if m.Attempts != 4 || m.FailedAttempts != 0 || !m.IsDone() {
		t.Fatalf("unexpected module after ceiling: %+v", m)
	}
}

func TestRun_PauseInWaitingRetryKeepsDecisionPending(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 1)
	client := porttest.NewClient("google", "m", porttest.Attempt{Err: errors.New("429 Too Many Requests")})
	policy := fastPolicy()
	policy.RateLimited = Backoff{Initial: 400 * time.Millisecond, Max: time.Second, Multiplier: 2}
	o := newPolicyOrchestrator(repo, porttest.NewFactory(client), policy)
	events, unsubscribe := o.Hub().Subscribe("book-1")
	defer unsubscribe()

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, events, waitingWithCount(1))
	failedAt := time.Now()

	if err := o.Pause(ctx, "book-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if snap, _ := o.Snapshot("book-1"); snap.State != StatePaused || snap.RetryInfo == nil {
		t.Fatalf("paused snapshot must keep the pending retry: %+v", snap)
	}
	if err := o.Resume(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ev := waitEvent(t, events, inState(StateWaitingRetry))
	if ev.RetryInfo == nil || ev.RetryInfo.ModuleID != "module_1" {
		t.Fatalf("resume must return to the pending decision: %+v", ev.RetryInfo)
	}
	time.Sleep(50 * time.Millisecond)
	if client.Calls() != 1 {
		t.Fatalf("resume must not retry without a decision, calls=%d", client.Calls())
	}

	if err := o.SubmitRetryDecision(ctx, "book-1", RetryDecision{Decision: DecisionRetry}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitEvent(t, events, inState(StateCompleted))
	if elapsed := time.Since(failedAt); elapsed < 350*time.Millisecond {
		t.Fatalf("retry after pause ran after %s, before the backoff ended", elapsed)
	}
	if m := repo.mustLoad(t, "book-1").Module("module_1"); m.Attempts != 2 {
		t.Fatalf("unexpected attempts %d", m.Attempts)
	}
}

func TestStart_RejectsAssembledBook(t *testing.T) {
	repo := newMemRepo()
	b := seedBook(t, repo, 2)
	now := time.Now()
	b.RecordSuccess(b.Roadmap.Modules[0], "one", time.Second, "google", "m", now)
	b.RecordSuccess(b.Roadmap.Modules[1], "two", time.Second, "google", "m", now)
	b.FinalBook = "# Distributed Systems"
	b.Status = entity.BookStatusCompleted
	if err := repo.Save(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	client := porttest.NewClient("google", "m")
	o := newTestOrchestrator(repo, porttest.NewFactory(client))
	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := o.Resume(ctx, "book-1", StartOptions{}); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition on resume, got %v", err)
	}
	if o.IsActive("book-1") {
		t.Fatal("rejected start must not leave a run behind")
	}
	got := repo.mustLoad(t, "book-1")
	if got.Status != entity.BookStatusCompleted || got.FinalBook == "" {
		t.Fatalf("assembled book must be untouched: status=%s", got.Status)
	}
	if client.Calls() != 0 {
		t.Fatalf("expected no calls, got %d", client.Calls())
	}
}

func TestCancel_DeletedBookIsNotWrittenBack(t *testing.T) {
	repo := newMemRepo()
	seedBook(t, repo, 2)
	hanging := make(chan struct{})
	client := porttest.NewClient("google", "m", porttest.Attempt{Chunks: []string{"partial"}, Hang: true, Hanging: hanging})
	o := newTestOrchestrator(repo, porttest.NewFactory(client))

	ctx := context.Background()
	if err := o.Start(ctx, "book-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-hanging
	if err := repo.Delete(ctx, "book-1"); err != nil {
		t.Fatal(err)
	}
	if err := o.Cancel(ctx, "book-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if b, _ := repo.Load(ctx, "book-1"); b != nil {
		t.Fatal("cancel must not recreate a deleted book")
	}
	if _, ok := o.Snapshot("book-1"); ok {
		t.Fatal("deleted book must not keep a status snapshot")
	}
	if o.IsActive("book-1") {
		t.Fatal("cancelled run must release the book")
	}
}
