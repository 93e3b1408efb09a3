package book

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pustakam-api/internal/application/book/generator"
	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/application/book/planner"
	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/infrastructure/messaging"
	"pustakam-api/internal/infrastructure/persistence/kvrepo"
	"pustakam-api/internal/infrastructure/persistence/memory"
	"pustakam-api/internal/workflow/port/porttest"
	apperrors "pustakam-api/pkg/errors"
)

type recordingPublisher struct {
	mu       sync.Mutex
	commands []*messaging.BookCommandMessage
	events   []interface{}
	err      error
}

func (p *recordingPublisher) PublishCommand(_ context.Context, cmd *messaging.BookCommandMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
	return "1-0", nil
}

func (p *recordingPublisher) PublishProgress(_ context.Context, _ string, payload interface{}) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return "1-0", nil
}

// drainEvents 取出已发布的事件并清空
func (p *recordingPublisher) drainEvents() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

// relay 把 worker 发布的事件按中继方式投递到网关事件中心
func relay(t *testing.T, pub *recordingPublisher, hub *orchestrator.Hub) {
	t.Helper()
	handler := RelayHandler(hub)
	for _, ev := range pub.drainEvents() {
		payload, err := json.Marshal(ev)
		if err != nil {
			t.Fatal(err)
		}
		if err := handler(context.Background(), &messaging.Message{Payload: payload}); err != nil {
			t.Fatalf("relay: %v", err)
		}
	}
}

func TestQueuedRunner_PublishesCommands(t *testing.T) {
	pub := &recordingPublisher{}
	runner := NewQueuedRunner(pub, orchestrator.NewHub(8, nil))
	ctx := context.Background()

	if err := runner.Start(ctx, "book-1", orchestrator.StartOptions{Provider: "groq", Model: "llama-3.3-70b-versatile"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := runner.SubmitRetryDecision(ctx, "book-1", orchestrator.RetryDecision{Decision: orchestrator.DecisionSkip}); err != nil {
		t.Fatalf("SubmitRetryDecision: %v", err)
	}
	if len(pub.commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(pub.commands))
	}
	if c := pub.commands[0]; c.Command != messaging.CommandGenerate || c.Provider != "groq" || c.BookID != "book-1" {
		t.Fatalf("unexpected start command: %+v", c)
	}
	if c := pub.commands[1]; c.Command != messaging.CommandRetryDecision || c.Decision != "skip" {
		t.Fatalf("unexpected decision command: %+v", c)
	}

	err := runner.SubmitRetryDecision(ctx, "book-1", orchestrator.RetryDecision{Decision: "later"})
	if !apperrors.HasCode(err, apperrors.CodeInvalidParam) {
		t.Fatalf("expected invalid param, got %v", err)
	}
}

func TestQueuedRunner_ActiveFromRelayedEvents(t *testing.T) {
	hub := orchestrator.NewHub(8, nil)
	pub := &recordingPublisher{}
	runner := NewQueuedRunner(pub, hub)

	hub.Broadcast(orchestrator.Event{Type: orchestrator.EventTransition, BookID: "book-1", State: orchestrator.StateGenerating})
	if !runner.IsActive("book-1") {
		t.Fatal("expected book to be active")
	}
	if err := runner.Start(context.Background(), "book-1", orchestrator.StartOptions{}); !errors.Is(err, apperrors.ErrRunActive) {
		t.Fatalf("expected run active, got %v", err)
	}
	if ids := runner.ActiveBooks(); len(ids) != 1 || ids[0] != "book-1" {
		t.Fatalf("unexpected active books: %v", ids)
	}

	runner.Forget("book-1")
	if runner.IsActive("book-1") {
		t.Fatal("forgotten book must not be active")
	}
}

func TestQueuedRunner_PublishFailure(t *testing.T) {
	runner := NewQueuedRunner(&recordingPublisher{err: errors.New("connection refused")}, orchestrator.NewHub(8, nil))
	err := runner.Pause(context.Background(), "book-1")
	if !apperrors.HasCode(err, apperrors.CodeQueueError) {
		t.Fatalf("expected queue error, got %v", err)
	}
}

func TestStreamSinkAndRelayHandler(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewStreamSink(pub)
	ev := orchestrator.Event{
		Type:            orchestrator.EventTransition,
		BookID:          "book-1",
		State:           orchestrator.StateWaitingRetry,
		OverallProgress: 40,
		Timestamp:       time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := sink.PublishEvent(context.Background(), ev); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	payload, err := json.Marshal(pub.events[0])
	if err != nil {
		t.Fatal(err)
	}
	hub := orchestrator.NewHub(8, nil)
	handler := RelayHandler(hub)
	if err := handler(context.Background(), &messaging.Message{BookID: "book-1", Payload: payload}); err != nil {
		t.Fatalf("relay: %v", err)
	}
	last, ok := hub.Last("book-1")
	if !ok || last.State != orchestrator.StateWaitingRetry || last.OverallProgress != 40 {
		t.Fatalf("unexpected relayed event: %+v", last)
	}
}

func TestQueuedDelete_WorkerCancelDoesNotRecreateBook(t *testing.T) {
	ctx := context.Background()
	repo := kvrepo.NewBookRepository(memory.New())
	now := time.Now().UTC()
	seeded := entity.NewBookProject("book-1", "Learn Rust", now)
	seeded.SetRoadmap(&entity.Roadmap{Modules: []entity.RoadmapModule{{ID: "module_1", Title: "Ownership", Order: 1}}}, "Practical Rust", now)
	if err := repo.Save(ctx, seeded); err != nil {
		t.Fatal(err)
	}

	hanging := make(chan struct{})
	client := porttest.NewClient("google", entity.DefaultModel, porttest.Attempt{Chunks: []string{"partial"}, Hang: true, Hanging: hanging})
	factory := porttest.NewFactory(client)

	events := &recordingPublisher{}
	workerOrch := orchestrator.New(repo, factory, generator.New(generator.Config{IdleTimeout: 5 * time.Second}),
		orchestrator.NewHub(64, NewStreamSink(events)), orchestrator.Options{})
	defer workerOrch.Shutdown(ctx)
	workerSvc := NewService(repo, nil, factory, planner.New(), workerOrch, nil)

	commands := &recordingPublisher{}
	gatewayHub := orchestrator.NewHub(64, nil)
	gatewaySvc := NewService(repo, nil, factory, planner.New(), NewQueuedRunner(commands, gatewayHub), nil)

	if err := workerSvc.Start(ctx, "book-1", orchestrator.StartOptions{}); err != nil {
		t.Fatalf("worker Start: %v", err)
	}
	<-hanging
	relay(t, events, gatewayHub)
	if !gatewaySvc.Runner().IsActive("book-1") {
		t.Fatal("gateway must see the relayed run as active")
	}

	if err := gatewaySvc.Delete(ctx, "book-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(commands.commands) != 1 || commands.commands[0].Command != messaging.CommandCancel {
		t.Fatalf("expected one cancel command, got %+v", commands.commands)
	}

	// worker applies the cancel after the gateway already removed the record
	if err := workerSvc.Cancel(ctx, "book-1"); err != nil {
		t.Fatalf("worker Cancel: %v", err)
	}
	relay(t, events, gatewayHub)

	if b, err := repo.Load(ctx, "book-1"); err != nil || b != nil {
		t.Fatalf("deleted book must stay deleted, got %+v (err %v)", b, err)
	}
	if _, ok := gatewayHub.Last("book-1"); ok {
		t.Fatal("no status must be relayed for a deleted book")
	}
	if workerOrch.IsActive("book-1") {
		t.Fatal("worker run must end")
	}
}
