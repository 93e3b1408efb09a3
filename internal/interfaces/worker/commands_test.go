package worker

import (
	"context"
	"errors"
	"testing"

	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/infrastructure/messaging"
	apperrors "pustakam-api/pkg/errors"
)

type fakeBooks struct {
	calls    []string
	opts     orchestrator.StartOptions
	decision orchestrator.RetryDecision
	err      error
}

func (f *fakeBooks) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeBooks) Start(_ context.Context, _ string, opts orchestrator.StartOptions) error {
	f.opts = opts
	return f.record("start")
}

func (f *fakeBooks) Resume(_ context.Context, _ string, opts orchestrator.StartOptions) error {
	f.opts = opts
	return f.record("resume")
}

func (f *fakeBooks) RetryFailedModules(_ context.Context, _ string, _ orchestrator.StartOptions) error {
	return f.record("retry_failed")
}

func (f *fakeBooks) Pause(context.Context, string) error  { return f.record("pause") }
func (f *fakeBooks) Cancel(context.Context, string) error { return f.record("cancel") }

func (f *fakeBooks) SubmitRetryDecision(_ context.Context, _ string, d orchestrator.RetryDecision) error {
	f.decision = d
	return f.record("decision")
}

func commandMessage(t *testing.T, cmd messaging.BookCommandMessage) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage("cmd-1", cmd.Command, cmd.BookID, cmd)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestHandle_DispatchesCommands(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{messaging.CommandGenerate, "start"},
		{messaging.CommandResume, "resume"},
		{messaging.CommandRetryFailed, "retry_failed"},
		{messaging.CommandPause, "pause"},
		{messaging.CommandCancel, "cancel"},
	}
	for _, tc := range cases {
		t.Run(tc.command, func(t *testing.T) {
			books := &fakeBooks{}
			h := NewCommandHandler(books)
			msg := commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: tc.command, Provider: "groq"})
			if err := h.Handle(context.Background(), msg); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if len(books.calls) != 1 || books.calls[0] != tc.want {
				t.Fatalf("calls = %v, want [%s]", books.calls, tc.want)
			}
		})
	}
}

func TestHandle_StartOptionsAndDecision(t *testing.T) {
	books := &fakeBooks{}
	h := NewCommandHandler(books)

	msg := commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: messaging.CommandGenerate, Provider: "mistral", Model: "mistral-small-latest", Language: "hi"})
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if books.opts.Provider != "mistral" || books.opts.Language != "hi" {
		t.Fatalf("unexpected options: %+v", books.opts)
	}

	msg = commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: messaging.CommandRetryDecision, Decision: "switch", Provider: "groq", Model: "llama-3.3-70b-versatile"})
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if books.decision.Decision != orchestrator.DecisionSwitch || books.decision.Provider != "groq" {
		t.Fatalf("unexpected decision: %+v", books.decision)
	}
}

func TestHandle_AcksBusinessRejections(t *testing.T) {
	books := &fakeBooks{err: apperrors.ErrRunActive}
	h := NewCommandHandler(books)
	msg := commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: messaging.CommandGenerate})
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("business rejection must be acked, got %v", err)
	}

	msg = commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: "rewind"})
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unknown command must be acked, got %v", err)
	}
	msg = commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: messaging.CommandRetryDecision, Decision: "later"})
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("bad decision must be acked, got %v", err)
	}
}

func TestHandle_RetriesInfrastructureFailures(t *testing.T) {
	storage := apperrors.ErrStorage.WithError(errors.New("disk full"))
	books := &fakeBooks{err: storage}
	h := NewCommandHandler(books)
	msg := commandMessage(t, messaging.BookCommandMessage{BookID: "b1", Command: messaging.CommandPause})
	if err := h.Handle(context.Background(), msg); err == nil {
		t.Fatal("storage failure must be returned for redelivery")
	}

	books.err = errors.New("connection reset")
	if err := h.Handle(context.Background(), msg); err == nil {
		t.Fatal("unknown failure must be returned for redelivery")
	}
}
