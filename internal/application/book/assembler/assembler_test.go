package assembler

import (
	"strings"
	"testing"
	"time"

	"pustakam-api/internal/domain/entity"
	apperrors "pustakam-api/pkg/errors"
)

func bookWith(t *testing.T, total, completed int) *entity.BookProject {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := entity.NewBookProject("b", "goal", now)
	r := &entity.Roadmap{}
	for i := 0; i < total; i++ {
		r.Modules = append(r.Modules, entity.RoadmapModule{ID: string(rune('a' + i)), Title: "Part " + string(rune('A'+i))})
	}
	b.SetRoadmap(r, "Field Guide", now)
	// record in reverse to make sure output follows roadmap order
	for i := completed - 1; i >= 0; i-- {
		b.RecordSuccess(r.Modules[i], "Body of part "+string(rune('A'+i)), time.Second, "google", "m", now)
	}
	return b
}

func TestAssemble_Deterministic(t *testing.T) {
	b := bookWith(t, 3, 3)
	first, err := Assemble(b)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	second, _ := Assemble(b)
	if first != second {
		t.Fatal("assembly must be idempotent")
	}

	want := "# Field Guide\n\n## Table of Contents\n\n1. Part A\n2. Part B\n3. Part C\n" +
		"\n\n---\n\n## Module 1: Part A\n\nBody of part A" +
		"\n\n---\n\n## Module 2: Part B\n\nBody of part B" +
		"\n\n---\n\n## Module 3: Part C\n\nBody of part C\n"
	if first != want {
		t.Fatalf("unexpected output:\n%s", first)
	}
}

func TestAssemble_IncompleteModules(t *testing.T) {
	b := bookWith(t, 5, 4)
	out, err := Assemble(b)
	if !apperrors.HasCode(err, apperrors.CodeIncompleteModules) {
		t.Fatalf("expected incomplete modules, got %v", err)
	}
	if out != "" || !strings.Contains(apperrors.AsAppError(err).Detail, "e") {
		t.Fatalf("no partial document may be produced: %q", out)
	}
}
