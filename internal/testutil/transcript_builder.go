package testutil

import (
	"github.com/hupe1980/agentrelay/core"
)

// TranscriptBuilder helps construct turn sequences with fluent chaining.
// Example:
//
//	turns := NewTranscriptBuilder().User("hi").Assistant("hello").Build()
type TranscriptBuilder struct {
	turns []core.Turn
}

// NewTranscriptBuilder creates an empty builder.
func NewTranscriptBuilder() *TranscriptBuilder { return &TranscriptBuilder{} }

// User appends a user turn (chainable).
func (b *TranscriptBuilder) User(content string) *TranscriptBuilder {
	b.turns = append(b.turns, core.Turn{Role: core.RoleUser, Content: content})
	return b
}

// Assistant appends an assistant turn (chainable).
func (b *TranscriptBuilder) Assistant(content string) *TranscriptBuilder {
	b.turns = append(b.turns, core.Turn{Role: core.RoleAssistant, Content: content})
	return b
}

// Exchanges appends n user/assistant filler pairs (chainable). Useful for
// windowing tests.
func (b *TranscriptBuilder) Exchanges(n int) *TranscriptBuilder {
	for i := 0; i < n; i++ {
		b.User("question").Assistant("answer")
	}
	return b
}

// Build returns the assembled turns.
func (b *TranscriptBuilder) Build() []core.Turn {
	out := make([]core.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// BuildSession returns a session seeded with the assembled turns.
func (b *TranscriptBuilder) BuildSession(id string) *core.Session {
	return core.NewSession(id, b.turns)
}
