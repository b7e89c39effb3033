package engine

import "context"

// Chat and Analyze are the Facade's direct passthrough to the AI backend
// contract (spec.md §6 "a minimal RPC with three methods"); Rerank is
// reached instead through the Searcher when a caller opts into
// AI-assisted result ordering.
func (e *Engine) Chat(ctx context.Context, prompt string) (string, error) {
	return e.ai.Chat(ctx, prompt)
}

func (e *Engine) Analyze(ctx context.Context, subject string) (string, error) {
	return e.ai.Analyze(ctx, subject)
}

// AIAvailable reports whether the configured AI backend is reachable,
// letting callers degrade to non-AI tagging/chat features gracefully.
func (e *Engine) AIAvailable(ctx context.Context) bool {
	return e.ai.Available(ctx)
}
