package llm

import (
	"fmt"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the full input to an LLM completion call.
type Prompt struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
}

const answerSystemPrompt = `You are a careful study assistant. Answer the question using only the provided context passages. If the context does not contain the answer, say so plainly instead of guessing. Cite the source file of any passage you rely on.`

// NewAnswerPrompt builds the grounded question-answering prompt used by the
// ask command: retrieved passages followed by the user's question.
func NewAnswerPrompt(question string, passages []string) *Prompt {
	var b strings.Builder
	b.WriteString("Context passages:\n\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, p)
	}
	fmt.Fprintf(&b, "Question: %s", question)

	return &Prompt{
		SystemPrompt: answerSystemPrompt,
		Messages: []Message{
			{Role: RoleUser, Content: b.String()},
		},
	}
}
