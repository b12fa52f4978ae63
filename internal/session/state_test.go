package session

import (
	"errors"
	"math"
	"testing"
)

func pool(ids ...string) []Movie {
	movies := make([]Movie, len(ids))
	for i, id := range ids {
		movies[i] = Movie{MovieID: id, Title: "Movie " + id}
	}
	return movies
}

func TestNewOpensFullWindow(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_d"}, pool("mv_a", "mv_b", "mv_c"), 3)
	if st.Low != 0 || st.High != 2 {
		t.Fatalf("expected window [0,2], got [%d,%d]", st.Low, st.High)
	}
	comparator, err := st.Comparator()
	if err != nil {
		t.Fatalf("Comparator() error = %v", err)
	}
	if comparator.MovieID != "mv_b" {
		t.Fatalf("expected midpoint comparator mv_b, got %s", comparator.MovieID)
	}
}

// Insert D into [A, B, C]: prefer D over B, then A over D. D must land at
// rank 2, between A and B.
func TestBinaryInsertionIntoThree(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_d"}, pool("mv_a", "mv_b", "mv_c"), 3)

	if err := st.Apply("mv_d"); err != nil {
		t.Fatalf("Apply(prefer candidate) error = %v", err)
	}
	if st.Low != 0 || st.High != 0 {
		t.Fatalf("expected window [0,0], got [%d,%d]", st.Low, st.High)
	}
	if st.Done() {
		t.Fatal("session should not be done yet")
	}
	comparator, err := st.Comparator()
	if err != nil {
		t.Fatalf("Comparator() error = %v", err)
	}
	if comparator.MovieID != "mv_a" {
		t.Fatalf("expected next comparator mv_a, got %s", comparator.MovieID)
	}

	if err := st.Apply("mv_a"); err != nil {
		t.Fatalf("Apply(prefer comparator) error = %v", err)
	}
	if !st.Done() {
		t.Fatalf("expected done, window [%d,%d]", st.Low, st.High)
	}
	if st.TargetRank() != 2 {
		t.Fatalf("expected target rank 2, got %d", st.TargetRank())
	}
}

func TestCandidateBeatsEverything(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_new"}, pool("mv_a", "mv_b", "mv_c", "mv_d", "mv_e"), 5)
	for !st.Done() {
		if err := st.Apply("mv_new"); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if st.TargetRank() != 1 {
		t.Fatalf("expected target rank 1, got %d", st.TargetRank())
	}
}

func TestCandidateLosesToEverything(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_new"}, pool("mv_a", "mv_b", "mv_c", "mv_d", "mv_e"), 5)
	for !st.Done() {
		comparator, err := st.Comparator()
		if err != nil {
			t.Fatalf("Comparator() error = %v", err)
		}
		if err := st.Apply(comparator.MovieID); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if st.TargetRank() != 6 {
		t.Fatalf("expected target rank 6, got %d", st.TargetRank())
	}
}

// Termination: against any fixed total order, insertion into N items takes
// at most ceil(log2(N+1)) answers.
func TestTerminationBound(t *testing.T) {
	for n := 1; n <= 64; n++ {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = "mv_" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		}
		// candidate slots between index n/3 and n/3+1 in the fixed order
		cut := n / 3
		st := New("usr_1", Movie{MovieID: "mv_new"}, pool(ids...), int64(n))
		bound := int(math.Ceil(math.Log2(float64(n + 1))))
		answers := 0
		for !st.Done() {
			comparator, err := st.Comparator()
			if err != nil {
				t.Fatalf("n=%d: Comparator() error = %v", n, err)
			}
			// prefer candidate over everything at index >= cut
			preferred := comparator.MovieID
			for i := cut; i < n; i++ {
				if ids[i] == comparator.MovieID {
					preferred = "mv_new"
					break
				}
			}
			if err := st.Apply(preferred); err != nil {
				t.Fatalf("n=%d: Apply() error = %v", n, err)
			}
			answers++
			if answers > bound {
				t.Fatalf("n=%d: took %d answers, bound is %d", n, answers, bound)
			}
		}
		if st.TargetRank() != cut+1 {
			t.Fatalf("n=%d: expected target rank %d, got %d", n, cut+1, st.TargetRank())
		}
	}
}

func TestApplyRejectsUnknownPreference(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_d"}, pool("mv_a", "mv_b", "mv_c"), 3)
	low, high := st.Low, st.High

	err := st.Apply("mv_z")
	if !errors.Is(err, ErrInvalidPreference) {
		t.Fatalf("expected ErrInvalidPreference, got %v", err)
	}
	if st.Low != low || st.High != high {
		t.Fatalf("window must be unchanged after invalid preference, got [%d,%d]", st.Low, st.High)
	}

	// a valid retry still works
	if err := st.Apply("mv_d"); err != nil {
		t.Fatalf("Apply() after invalid preference error = %v", err)
	}
}

func TestComparatorFailsOnShrunkSnapshot(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_d"}, pool("mv_a", "mv_b", "mv_c"), 3)
	// simulate the owner's list shrinking under an open session
	st.Snapshot = st.Snapshot[:1]
	if _, err := st.Comparator(); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
	if err := st.Apply("mv_d"); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot from Apply, got %v", err)
	}
}

func TestWindowInvariantHolds(t *testing.T) {
	st := New("usr_1", Movie{MovieID: "mv_new"}, pool("mv_a", "mv_b", "mv_c", "mv_d"), 4)
	for !st.Done() {
		if st.Low > st.High+1 {
			t.Fatalf("window invariant violated: [%d,%d]", st.Low, st.High)
		}
		if err := st.Apply("mv_new"); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if st.Low > st.High+1 {
		t.Fatalf("window invariant violated at termination: [%d,%d]", st.Low, st.High)
	}
}
