package scorer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFirstSubmitterClaimsSlot(t *testing.T) {
	a := New()
	if !a.IsPrimary("s1", "m1") {
		t.Fatal("first submitter should be primary")
	}
	if !a.IsPrimary("s1", "m1") {
		t.Fatal("primary should stay primary")
	}
	if a.IsPrimary("s1", "m2") {
		t.Fatal("second submitter should not be primary")
	}
	holder, ok := a.Primary("s1")
	if !ok || holder != "m1" {
		t.Fatalf("primary = %q, %v, want m1", holder, ok)
	}
}

func TestSlotsAreIndependentPerSession(t *testing.T) {
	a := New()
	a.IsPrimary("s1", "m1")
	if !a.IsPrimary("s2", "m2") {
		t.Fatal("other session slot should be empty")
	}
}

func TestClearLetsNextSubmitterClaim(t *testing.T) {
	a := New()
	a.IsPrimary("s1", "m1")
	a.Clear("s1")
	if _, ok := a.Primary("s1"); ok {
		t.Fatal("expected empty slot after clear")
	}
	if !a.IsPrimary("s1", "m2") {
		t.Fatal("m2 should claim the cleared slot")
	}
	if a.IsPrimary("s1", "m1") {
		t.Fatal("m1 should no longer be primary")
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	a := New()
	a.IsPrimary("s1", "m1")

	if a.Release("s1", "m2") {
		t.Fatal("non-holder release should report false")
	}
	if holder, _ := a.Primary("s1"); holder != "m1" {
		t.Fatalf("primary = %q, want m1", holder)
	}
	if !a.Release("s1", "m1") {
		t.Fatal("holder release should report true")
	}
	if !a.IsPrimary("s1", "m3") {
		t.Fatal("m3 should claim released slot")
	}
}

func TestConcurrentClaimsElectExactlyOne(t *testing.T) {
	for round := range 50 {
		a := New()
		session := fmt.Sprintf("s%d", round)
		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range 16 {
			wg.Add(1)
			go func(conn string) {
				defer wg.Done()
				<-start
				if a.IsPrimary(session, conn) {
					winners.Add(1)
				}
			}(fmt.Sprintf("m%d", i))
		}
		close(start)
		wg.Wait()

		if got := winners.Load(); got != 1 {
			t.Fatalf("round %d: winners = %d, want 1", round, got)
		}
	}
}
