package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// RankedMovie is one entry in a user's ordered list. For a fixed OwnerID
// the set of Rank values is always exactly {1..N}: no gaps, no duplicates.
type RankedMovie struct {
	ID         string
	OwnerID    string
	MovieID    string
	Title      string
	PosterPath string
	Overview   string
	Rank       int
	CreatedAt  time.Time
}

// Friendship is a mutual edge; rows are stored once with UserID < FriendID
// normalized by the store.
type Friendship struct {
	ID        string
	UserID    string
	FriendID  string
	CreatedAt time.Time
}

// FeedEntry records a completed ranking insertion for friends to see.
type FeedEntry struct {
	ID         string
	OwnerID    string
	OwnerName  string
	MovieID    string
	Title      string
	PosterPath string
	Rank       int
	CreatedAt  time.Time
}

type DeviceToken struct {
	ID        string
	UserID    string
	Token     string
	Platform  string
	CreatedAt time.Time
}
