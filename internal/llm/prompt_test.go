package llm

import (
	"strings"
	"testing"
)

func TestNewAnswerPrompt(t *testing.T) {
	p := NewAnswerPrompt("what is basalt?", []string{"basalt is an igneous rock", "granite is also igneous"})

	if p.SystemPrompt == "" {
		t.Error("expected a system prompt")
	}
	if len(p.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(p.Messages))
	}
	content := p.Messages[0].Content
	if !strings.Contains(content, "[1] basalt is an igneous rock") {
		t.Errorf("first passage missing or unnumbered:\n%s", content)
	}
	if !strings.Contains(content, "[2] granite is also igneous") {
		t.Errorf("second passage missing or unnumbered:\n%s", content)
	}
	if !strings.Contains(content, "Question: what is basalt?") {
		t.Errorf("question missing:\n%s", content)
	}
}
