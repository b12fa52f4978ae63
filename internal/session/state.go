// Package session holds the per-owner pairwise-comparison state used to
// binary-insert a movie into a ranked list, plus the stores that persist it
// between answers.
package session

import (
	"errors"
	"time"
)

var (
	// ErrInvalidPreference means the answer named neither the candidate nor
	// the comparator that was prompted. State is left unchanged.
	ErrInvalidPreference = errors.New("preference matches neither candidate nor comparator")
	// ErrStaleSnapshot means the window points outside the captured
	// comparator pool. The owner's list shrank after the session began;
	// the session must be discarded.
	ErrStaleSnapshot = errors.New("comparison window outside captured snapshot")
)

// Movie carries the display fields a client needs to render one side of a
// comparison prompt.
type Movie struct {
	MovieID    string `json:"movieId"`
	Title      string `json:"title"`
	PosterPath string `json:"posterPath"`
	Overview   string `json:"overview,omitempty"`
}

// State is one owner's in-flight binary insertion. Snapshot is the owner's
// ordered list captured when the session began and is never re-fetched;
// Low/High index into it. The window invariant Low <= High+1 holds after
// every Apply, and Low > High means the insertion point is decided.
type State struct {
	OwnerID     string    `json:"ownerId"`
	Candidate   Movie     `json:"candidate"`
	Low         int       `json:"low"`
	High        int       `json:"high"`
	Snapshot    []Movie   `json:"snapshot"`
	ListVersion int64     `json:"listVersion"`
	CreatedAt   time.Time `json:"createdAt"`
}

// New opens a session over a non-empty comparator pool.
func New(ownerID string, candidate Movie, pool []Movie, listVersion int64) *State {
	return &State{
		OwnerID:     ownerID,
		Candidate:   candidate,
		Low:         0,
		High:        len(pool) - 1,
		Snapshot:    pool,
		ListVersion: listVersion,
		CreatedAt:   time.Now(),
	}
}

// mid is the single midpoint formula used both to present a prompt and to
// interpret its answer. Presenting with one formula and interpreting with
// another would narrow the window against the wrong comparator.
func (s *State) mid() int {
	return (s.Low + s.High) / 2
}

// Done reports whether the window is exhausted and the target rank decided.
func (s *State) Done() bool {
	return s.Low > s.High
}

// Comparator returns the movie the owner should be asked to compare the
// candidate against.
func (s *State) Comparator() (Movie, error) {
	mid := s.mid()
	if mid < 0 || mid >= len(s.Snapshot) {
		return Movie{}, ErrStaleSnapshot
	}
	return s.Snapshot[mid], nil
}

// Apply narrows the window by one answer. Preferring the candidate moves the
// search toward better ranks; preferring the comparator moves it toward worse
// ones. Any other id, including a snapshot movie that is not the current
// comparator, is rejected without touching the window.
func (s *State) Apply(preferredMovieID string) error {
	comparator, err := s.Comparator()
	if err != nil {
		return err
	}
	switch preferredMovieID {
	case s.Candidate.MovieID:
		s.High = s.mid() - 1
	case comparator.MovieID:
		s.Low = s.mid() + 1
	default:
		return ErrInvalidPreference
	}
	return nil
}

// TargetRank converts the decided 0-based insertion index into a 1-based
// rank: the candidate lands immediately after everything it lost to.
// Only meaningful once Done() is true.
func (s *State) TargetRank() int {
	return s.Low + 1
}
