package tokens

import (
	"strings"
	"testing"
)

func TestComputeBudget_Arithmetic(t *testing.T) {
	c := HeuristicCounter{}

	system := strings.Repeat("s", 400) // 100 tokens
	user := strings.Repeat("u", 80)    // 20 tokens

	b := ComputeBudget(c, 1000, 200, system, user)

	if b.SystemPromptTokens != 100 {
		t.Errorf("SystemPromptTokens = %d, want 100", b.SystemPromptTokens)
	}
	if b.UserPromptTokens != 20 {
		t.Errorf("UserPromptTokens = %d, want 20", b.UserPromptTokens)
	}
	want := 1000 - 200 - 100 - 20
	if b.Remaining != want {
		t.Errorf("Remaining = %d, want %d", b.Remaining, want)
	}
	if b.NeedsTruncation() {
		t.Error("NeedsTruncation() = true for a positive budget")
	}
	if b.Deficit() != 0 {
		t.Errorf("Deficit() = %d, want 0", b.Deficit())
	}
}

func TestComputeBudget_NegativeIsValid(t *testing.T) {
	c := HeuristicCounter{}

	system := strings.Repeat("s", 4000) // 1000 tokens
	b := ComputeBudget(c, 500, 100, system, "hi")

	if b.Remaining >= 0 {
		t.Fatalf("Remaining = %d, want negative", b.Remaining)
	}
	want := 500 - 100 - 1000 - 1
	if b.Remaining != want {
		t.Errorf("Remaining = %d, want %d", b.Remaining, want)
	}
	if !b.NeedsTruncation() {
		t.Error("NeedsTruncation() = false for a negative budget")
	}
	if b.Deficit() != -want {
		t.Errorf("Deficit() = %d, want %d", b.Deficit(), -want)
	}
}

func TestComputeBudget_Pure(t *testing.T) {
	c := HeuristicCounter{}
	first := ComputeBudget(c, 10_000, 1_000, "system prompt text", "user text")
	for i := 0; i < 5; i++ {
		again := ComputeBudget(c, 10_000, 1_000, "system prompt text", "user text")
		if again != first {
			t.Fatalf("ComputeBudget is not deterministic: %+v != %+v", again, first)
		}
	}
}
