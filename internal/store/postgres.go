package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- ranked list ----

func (s *PostgresStore) ListRankedByOwner(ctx context.Context, ownerID string) ([]RankedMovie, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, movie_id, title, poster_path, overview, rank, created_at
		FROM ranked_movies
		WHERE owner_id = $1
		ORDER BY rank ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list ranked movies: %w", err)
	}
	defer rows.Close()

	items := make([]RankedMovie, 0)
	for rows.Next() {
		var item RankedMovie
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.MovieID, &item.Title, &item.PosterPath, &item.Overview, &item.Rank, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ranked movie: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranked movies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ExistsForOwner(ctx context.Context, ownerID, movieID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ranked_movies WHERE owner_id=$1 AND movie_id=$2)
	`, ownerID, movieID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ranked movie: %w", err)
	}
	return exists, nil
}

// InsertAtRank places item at the given 1-based rank, shifting every rank at
// or after it up by one. The shift goes through a temporary negative range so
// the (owner_id, rank) unique constraint never sees a transient duplicate.
// Valid ranks are 1..N+1.
func (s *PostgresStore) InsertAtRank(ctx context.Context, ownerID string, item RankedMovie, rank int) (RankedMovie, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RankedMovie{}, fmt.Errorf("begin insert-at-rank: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ranked_movies WHERE owner_id=$1`, ownerID).Scan(&count); err != nil {
		return RankedMovie{}, fmt.Errorf("count ranked movies: %w", err)
	}
	if rank < 1 || rank > count+1 {
		return RankedMovie{}, fmt.Errorf("insert at rank %d: out of range [1..%d]", rank, count+1)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ranked_movies SET rank = -(rank + 1) WHERE owner_id=$1 AND rank >= $2
	`, ownerID, rank); err != nil {
		return RankedMovie{}, fmt.Errorf("shift ranks up: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ranked_movies SET rank = -rank WHERE owner_id=$1 AND rank < 0
	`, ownerID); err != nil {
		return RankedMovie{}, fmt.Errorf("restore shifted ranks: %w", err)
	}

	item.OwnerID = ownerID
	item.Rank = rank
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ranked_movies (id, owner_id, movie_id, title, poster_path, overview, rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, item.ID, item.OwnerID, item.MovieID, item.Title, item.PosterPath, item.Overview, item.Rank).Scan(&item.CreatedAt)
	if err != nil {
		return RankedMovie{}, fmt.Errorf("insert ranked movie: %w", err)
	}

	if err := bumpListVersion(ctx, tx, ownerID); err != nil {
		return RankedMovie{}, err
	}
	if err := tx.Commit(); err != nil {
		return RankedMovie{}, fmt.Errorf("commit insert-at-rank: %w", err)
	}
	return item, nil
}

// RemoveAndCloseGap deletes the item and decrements every rank after it so
// the owner's sequence stays contiguous. Returns the removed row so callers
// can re-insert it (rerank flow). Missing rows surface sql.ErrNoRows.
func (s *PostgresStore) RemoveAndCloseGap(ctx context.Context, ownerID, itemID string) (RankedMovie, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RankedMovie{}, fmt.Errorf("begin remove-and-close-gap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed RankedMovie
	err = tx.QueryRowContext(ctx, `
		SELECT id, owner_id, movie_id, title, poster_path, overview, rank, created_at
		FROM ranked_movies
		WHERE owner_id=$1 AND id=$2
		FOR UPDATE
	`, ownerID, itemID).Scan(&removed.ID, &removed.OwnerID, &removed.MovieID, &removed.Title, &removed.PosterPath, &removed.Overview, &removed.Rank, &removed.CreatedAt)
	if err != nil {
		return RankedMovie{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranked_movies WHERE id=$1`, removed.ID); err != nil {
		return RankedMovie{}, fmt.Errorf("delete ranked movie: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ranked_movies SET rank = -(rank - 1) WHERE owner_id=$1 AND rank > $2
	`, ownerID, removed.Rank); err != nil {
		return RankedMovie{}, fmt.Errorf("shift ranks down: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ranked_movies SET rank = -rank WHERE owner_id=$1 AND rank < 0
	`, ownerID); err != nil {
		return RankedMovie{}, fmt.Errorf("restore shifted ranks: %w", err)
	}

	if err := bumpListVersion(ctx, tx, ownerID); err != nil {
		return RankedMovie{}, err
	}
	if err := tx.Commit(); err != nil {
		return RankedMovie{}, fmt.Errorf("commit remove-and-close-gap: %w", err)
	}
	return removed, nil
}

// ListVersion returns the owner's rank mutation counter. Owners with no
// mutations yet read as 0.
func (s *PostgresStore) ListVersion(ctx context.Context, ownerID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT version FROM rank_list_versions WHERE owner_id=$1), 0)
	`, ownerID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read list version: %w", err)
	}
	return version, nil
}

func bumpListVersion(ctx context.Context, tx *sql.Tx, ownerID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rank_list_versions (owner_id, version)
		VALUES ($1, 1)
		ON CONFLICT (owner_id) DO UPDATE SET version = rank_list_versions.version + 1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("bump list version: %w", err)
	}
	return nil
}

// ---- friends ----

func (s *PostgresStore) AddFriend(ctx context.Context, edge Friendship) error {
	// mutual edge stored once, lower id first
	if edge.FriendID < edge.UserID {
		edge.UserID, edge.FriendID = edge.FriendID, edge.UserID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friendships (id, user_id, friend_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, friend_id) DO NOTHING
	`, edge.ID, edge.UserID, edge.FriendID)
	if err != nil {
		return fmt.Errorf("insert friendship: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFriends(ctx context.Context, userID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.created_at
		FROM users u
		JOIN friendships f ON (f.user_id = $1 AND u.id = f.friend_id)
			OR (f.friend_id = $1 AND u.id = f.user_id)
		ORDER BY u.display_name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	friends := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return friends, nil
}

// ---- feed ----

func (s *PostgresStore) InsertFeedEntry(ctx context.Context, entry FeedEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_entries (id, owner_id, owner_name, movie_id, title, poster_path, rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.OwnerID, entry.OwnerName, entry.MovieID, entry.Title, entry.PosterPath, entry.Rank)
	if err != nil {
		return fmt.Errorf("insert feed entry: %w", err)
	}
	return nil
}

// ListFeedForUser returns recent entries from the user's friends, newest first.
func (s *PostgresStore) ListFeedForUser(ctx context.Context, userID string, limit int) ([]FeedEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fe.id, fe.owner_id, fe.owner_name, fe.movie_id, fe.title, fe.poster_path, fe.rank, fe.created_at
		FROM feed_entries fe
		WHERE fe.owner_id IN (
			SELECT friend_id FROM friendships WHERE user_id = $1
			UNION
			SELECT user_id FROM friendships WHERE friend_id = $1
		)
		ORDER BY fe.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()

	entries := make([]FeedEntry, 0)
	for rows.Next() {
		var entry FeedEntry
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.OwnerName, &entry.MovieID, &entry.Title, &entry.PosterPath, &entry.Rank, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feed entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed: %w", err)
	}
	return entries, nil
}

// ---- device tokens ----

func (s *PostgresStore) RegisterDeviceToken(ctx context.Context, token DeviceToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (id, user_id, token, platform)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
	`, token.ID, token.UserID, token.Token, token.Platform)
	if err != nil {
		return fmt.Errorf("register device token: %w", err)
	}
	return nil
}

// ListFriendDeviceTokens returns every push token registered by the user's
// friends, used for ranking-added fan-out.
func (s *PostgresStore) ListFriendDeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dt.token
		FROM device_tokens dt
		WHERE dt.user_id IN (
			SELECT friend_id FROM friendships WHERE user_id = $1
			UNION
			SELECT user_id FROM friendships WHERE friend_id = $1
		)
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list friend device tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device tokens: %w", err)
	}
	return tokens, nil
}
