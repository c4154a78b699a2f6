package tokens

// Budget is the per-call token accounting for one assembled prompt. It is an
// ephemeral value: recomputed every turn, never persisted.
//
// Remaining may be negative. A negative value is the normal signal that the
// truncation policy must run — it is not an error state.
type Budget struct {
	// MaxContextTokens is the model's total context window.
	MaxContextTokens int

	// ReservedOutputTokens is the room carved out for the model's reply.
	ReservedOutputTokens int

	// SystemPromptTokens is the cost of the fully substituted system prompt.
	SystemPromptTokens int

	// UserPromptTokens is the cost of the raw user message.
	UserPromptTokens int

	// Remaining is MaxContextTokens - ReservedOutputTokens -
	// SystemPromptTokens - UserPromptTokens, exactly, including when negative.
	Remaining int
}

// NeedsTruncation reports whether the assembled content exceeds the window.
func (b Budget) NeedsTruncation() bool { return b.Remaining < 0 }

// Deficit returns how many tokens over budget the prompt is, or 0 when the
// budget is non-negative.
func (b Budget) Deficit() int {
	if b.Remaining >= 0 {
		return 0
	}
	return -b.Remaining
}

// ComputeBudget counts the system and user prompts with c and returns the
// resulting [Budget]. It is pure apart from the counting itself: the same
// inputs always yield the same Budget.
func ComputeBudget(c Counter, maxTotal, reservedOutput int, systemPrompt, userPrompt string) Budget {
	system := c.Count(systemPrompt)
	user := c.Count(userPrompt)
	return Budget{
		MaxContextTokens:     maxTotal,
		ReservedOutputTokens: reservedOutput,
		SystemPromptTokens:   system,
		UserPromptTokens:     user,
		Remaining:            maxTotal - reservedOutput - system - user,
	}
}
