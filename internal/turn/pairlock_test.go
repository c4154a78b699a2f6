package turn

import (
	"testing"
	"time"
)

func TestPairLocksSerialisesSameKey(t *testing.T) {
	locks := newPairLocks()

	unlock := locks.Lock("user_u1_char_nova")

	acquired := make(chan struct{})
	go func() {
		u := locks.Lock("user_u1_char_nova")
		u()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while the first was still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}
}

func TestPairLocksIndependentKeys(t *testing.T) {
	locks := newPairLocks()

	unlock := locks.Lock("user_u1_char_nova")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := locks.Lock("user_u2_char_nova")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for a different key blocked behind an unrelated holder")
	}
}

func TestPairLocksReapsEntries(t *testing.T) {
	locks := newPairLocks()

	u1 := locks.Lock("a")
	u2 := locks.Lock("b")
	u1()
	u2()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Fatalf("entries = %d, want 0 after all holders released", len(locks.entries))
	}
}
