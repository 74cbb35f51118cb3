package clock

import "testing"

func TestNowStrictlyIncreasing(t *testing.T) {
	s := New()
	prev := s.Now()
	for i := 0; i < 1000; i++ {
		next := s.Now()
		if next <= prev {
			t.Fatalf("Now() not strictly increasing: prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestNowAdvancesPastSeededLast(t *testing.T) {
	s := &Source{last: 1 << 62}
	got := s.Now()
	if got <= 1<<62 {
		t.Fatalf("expected Now() to advance past seeded last, got %d", got)
	}
}
