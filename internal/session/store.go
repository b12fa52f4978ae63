package session

import (
	"context"
	"errors"
)

// ErrNoSession is returned by Get when the owner has no open session
// (never opened, expired, completed, or canceled).
var ErrNoSession = errors.New("no active comparison session")

// Store persists at most one State per owner. Save overwrites any previous
// session for the same owner; abandoned sessions expire after the idle TTL.
type Store interface {
	Save(ctx context.Context, state *State) error
	Get(ctx context.Context, ownerID string) (*State, error)
	Delete(ctx context.Context, ownerID string) error
}
