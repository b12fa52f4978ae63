package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"reelrank/api/internal/auth"
	"reelrank/api/internal/catalog"
	"reelrank/api/internal/config"
	"reelrank/api/internal/export"
	"reelrank/api/internal/media"
	"reelrank/api/internal/notify"
	"reelrank/api/internal/session"
	"reelrank/api/internal/store"
	"reelrank/api/internal/util"
)

// Session is an authenticated caller.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

// CandidateInput names the movie a caller wants to add to their list.
// Missing display fields are filled from the catalog when it is available.
type CandidateInput struct {
	MovieID    string `json:"movieId"`
	Title      string `json:"title"`
	PosterPath string `json:"posterPath"`
	Overview   string `json:"overview"`
}

// RankingItem is one row of a caller-visible ranked list.
type RankingItem struct {
	ID         string `json:"id"`
	MovieID    string `json:"movieId"`
	Title      string `json:"title"`
	PosterPath string `json:"posterPath"`
	Overview   string `json:"overview,omitempty"`
	Rank       int    `json:"rank"`
	PosterURL  string `json:"posterUrl,omitempty"`
}

// ComparePrompt asks the caller which of two movies they prefer.
type ComparePrompt struct {
	Candidate  session.Movie `json:"candidate"`
	Comparator session.Movie `json:"comparator"`
}

// CompareOutcome is the result of starting an insertion or answering a
// prompt: either the movie landed at a rank, or another answer is needed.
type CompareOutcome struct {
	Status string         `json:"status"`
	Item   *RankingItem   `json:"item,omitempty"`
	Prompt *ComparePrompt `json:"prompt,omitempty"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListRankedByOwner(context.Context, string) ([]store.RankedMovie, error)
	ExistsForOwner(context.Context, string, string) (bool, error)
	InsertAtRank(context.Context, string, store.RankedMovie, int) (store.RankedMovie, error)
	RemoveAndCloseGap(context.Context, string, string) (store.RankedMovie, error)
	ListVersion(context.Context, string) (int64, error)
	AddFriend(context.Context, store.Friendship) error
	ListFriends(context.Context, string) ([]store.User, error)
	InsertFeedEntry(context.Context, store.FeedEntry) error
	ListFeedForUser(context.Context, string, int) ([]store.FeedEntry, error)
	RegisterDeviceToken(context.Context, store.DeviceToken) error
	ListFriendDeviceTokens(context.Context, string) ([]string, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.Store
	catalog  *catalog.Service
	notifier *notify.Service
	posters  *media.PosterStore

	locksMu    sync.Mutex
	ownerLocks map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions session.Store, catalogSvc *catalog.Service, notifier *notify.Service, posters *media.PosterStore) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   sessions,
		catalog:    catalogSvc,
		notifier:   notifier,
		posters:    posters,
		ownerLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// lockOwner serializes begin/answer/rank mutations for one owner. Two
// concurrent requests for the same owner never interleave between reading
// the list and writing to it.
func (s *Service) lockOwner(ownerID string) func() {
	s.locksMu.Lock()
	if s.ownerLocks == nil {
		s.ownerLocks = make(map[string]*sync.Mutex)
	}
	mu, ok := s.ownerLocks[ownerID]
	if !ok {
		mu = &sync.Mutex{}
		s.ownerLocks[ownerID] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Accounts

func (s *Service) SignUp(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", nil)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 8 characters", nil)
		}
		return Session{}, err
	}

	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password is incorrect", nil)
		}
		return Session{}, err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password is incorrect", nil)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Ranking

func (s *Service) ListRankings(ctx context.Context, ownerID string) ([]RankingItem, error) {
	rows, err := s.store.ListRankedByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]RankingItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, s.toRankingItem(ctx, row))
	}
	return items, nil
}

// StartInsertion begins adding a movie to the owner's list. An empty list
// needs no comparisons: the movie lands directly at rank 1. Otherwise a
// comparison session opens over a snapshot of the current list and the first
// prompt is returned.
func (s *Service) StartInsertion(ctx context.Context, sess Session, input CandidateInput) (CompareOutcome, error) {
	candidate, err := s.resolveCandidate(input)
	if err != nil {
		return CompareOutcome{}, err
	}

	unlock := s.lockOwner(sess.UserID)
	defer unlock()

	exists, err := s.store.ExistsForOwner(ctx, sess.UserID, candidate.MovieID)
	if err != nil {
		return CompareOutcome{}, err
	}
	if exists {
		return CompareOutcome{}, domainError(http.StatusConflict, "DUPLICATE_ITEM", "Movie is already on your list", map[string]any{"movieId": candidate.MovieID})
	}

	return s.beginInsertion(ctx, sess, candidate)
}

// beginInsertion assumes the owner lock is held and the duplicate check (if
// any) already passed.
func (s *Service) beginInsertion(ctx context.Context, sess Session, candidate session.Movie) (CompareOutcome, error) {
	list, err := s.store.ListRankedByOwner(ctx, sess.UserID)
	if err != nil {
		return CompareOutcome{}, err
	}

	if len(list) == 0 {
		return s.completeInsertion(ctx, sess, candidate, 1)
	}

	version, err := s.store.ListVersion(ctx, sess.UserID)
	if err != nil {
		return CompareOutcome{}, err
	}

	pool := make([]session.Movie, 0, len(list))
	for _, row := range list {
		pool = append(pool, session.Movie{
			MovieID:    row.MovieID,
			Title:      row.Title,
			PosterPath: row.PosterPath,
		})
	}

	state := session.New(sess.UserID, candidate, pool, version)
	comparator, err := state.Comparator()
	if err != nil {
		return CompareOutcome{}, err
	}
	if err := s.sessions.Save(ctx, state); err != nil {
		return CompareOutcome{}, err
	}
	return CompareOutcome{
		Status: "compare",
		Prompt: &ComparePrompt{Candidate: candidate, Comparator: comparator},
	}, nil
}

// SubmitPreference narrows the active session's window by one answer. When
// the window is exhausted the candidate is inserted at the decided rank,
// unless the list changed underneath the session since it began.
func (s *Service) SubmitPreference(ctx context.Context, sess Session, preferredMovieID string) (CompareOutcome, error) {
	unlock := s.lockOwner(sess.UserID)
	defer unlock()

	state, err := s.sessions.Get(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return CompareOutcome{}, domainError(http.StatusConflict, "NO_ACTIVE_SESSION", "No comparison in progress", nil)
		}
		return CompareOutcome{}, err
	}

	if err := state.Apply(preferredMovieID); err != nil {
		if errors.Is(err, session.ErrInvalidPreference) {
			comparator, cmpErr := state.Comparator()
			if cmpErr != nil {
				return CompareOutcome{}, s.discardInvalid(ctx, sess.UserID, cmpErr)
			}
			return CompareOutcome{}, domainError(http.StatusUnprocessableEntity, "INVALID_PREFERENCE", "Preference must name the candidate or the comparator", map[string]any{
				"candidate":  state.Candidate.MovieID,
				"comparator": comparator.MovieID,
			})
		}
		return CompareOutcome{}, s.discardInvalid(ctx, sess.UserID, err)
	}

	if !state.Done() {
		comparator, err := state.Comparator()
		if err != nil {
			return CompareOutcome{}, s.discardInvalid(ctx, sess.UserID, err)
		}
		if err := s.sessions.Save(ctx, state); err != nil {
			return CompareOutcome{}, err
		}
		return CompareOutcome{
			Status: "compare",
			Prompt: &ComparePrompt{Candidate: state.Candidate, Comparator: comparator},
		}, nil
	}

	version, err := s.store.ListVersion(ctx, sess.UserID)
	if err != nil {
		return CompareOutcome{}, err
	}
	if version != state.ListVersion {
		return CompareOutcome{}, s.discardInvalid(ctx, sess.UserID, errListMoved)
	}

	outcome, err := s.completeInsertion(ctx, sess, state.Candidate, state.TargetRank())
	if err != nil {
		return CompareOutcome{}, err
	}
	if err := s.sessions.Delete(ctx, sess.UserID); err != nil {
		log.Printf("app: discard completed session for %s: %v", sess.UserID, err)
	}
	return outcome, nil
}

var errListMoved = errors.New("ranked list changed since the session began")

// discardInvalid drops a corrupted or stale session and reports it as a
// server-side state error.
func (s *Service) discardInvalid(ctx context.Context, ownerID string, cause error) error {
	log.Printf("app: discarding comparison session for %s: %v", ownerID, cause)
	if err := s.sessions.Delete(ctx, ownerID); err != nil {
		log.Printf("app: discard session for %s: %v", ownerID, err)
	}
	return domainError(http.StatusInternalServerError, "COMPARISON_STATE_INVALID", "Comparison state no longer matches your list; start over", nil)
}

// completeInsertion persists the candidate at the decided rank and fans out
// feed and notification activity. Fan-out failures never undo the insertion.
func (s *Service) completeInsertion(ctx context.Context, sess Session, candidate session.Movie, rank int) (CompareOutcome, error) {
	inserted, err := s.store.InsertAtRank(ctx, sess.UserID, store.RankedMovie{
		ID:         util.NewID("rk"),
		OwnerID:    sess.UserID,
		MovieID:    candidate.MovieID,
		Title:      candidate.Title,
		PosterPath: candidate.PosterPath,
		Overview:   candidate.Overview,
	}, rank)
	if err != nil {
		return CompareOutcome{}, err
	}

	s.fanOutRankingAdded(ctx, sess, inserted)
	s.cachePosterAsync(inserted.MovieID, inserted.PosterPath)

	item := s.toRankingItem(ctx, inserted)
	return CompareOutcome{Status: "added", Item: &item}, nil
}

// CancelComparison discards any active session for the owner. Cancelling
// when none exists is not an error.
func (s *Service) CancelComparison(ctx context.Context, sess Session) error {
	unlock := s.lockOwner(sess.UserID)
	defer unlock()
	return s.sessions.Delete(ctx, sess.UserID)
}

// RemoveMovie deletes one entry and closes the rank gap it leaves.
func (s *Service) RemoveMovie(ctx context.Context, sess Session, itemID string) (RankingItem, error) {
	unlock := s.lockOwner(sess.UserID)
	defer unlock()

	removed, err := s.store.RemoveAndCloseGap(ctx, sess.UserID, itemID)
	if err != nil {
		return RankingItem{}, err
	}
	return s.toRankingItem(ctx, removed), nil
}

// StartRerank removes an entry and immediately re-begins insertion with the
// removed movie as candidate, skipping the duplicate check.
func (s *Service) StartRerank(ctx context.Context, sess Session, itemID string) (CompareOutcome, error) {
	unlock := s.lockOwner(sess.UserID)
	defer unlock()

	removed, err := s.store.RemoveAndCloseGap(ctx, sess.UserID, itemID)
	if err != nil {
		return CompareOutcome{}, err
	}

	return s.beginInsertion(ctx, sess, session.Movie{
		MovieID:    removed.MovieID,
		Title:      removed.Title,
		PosterPath: removed.PosterPath,
		Overview:   removed.Overview,
	})
}

// resolveCandidate validates the input and fills missing display fields from
// the catalog. A catalog miss leaves the fields as given; it never blocks.
func (s *Service) resolveCandidate(input CandidateInput) (session.Movie, error) {
	movieID := strings.TrimSpace(input.MovieID)
	if movieID == "" {
		return session.Movie{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "movieId is required", nil)
	}

	candidate := session.Movie{
		MovieID:    movieID,
		Title:      strings.TrimSpace(input.Title),
		PosterPath: strings.TrimSpace(input.PosterPath),
		Overview:   strings.TrimSpace(input.Overview),
	}

	if s.catalog != nil && (candidate.Title == "" || candidate.PosterPath == "" || candidate.Overview == "") {
		if record, ok := s.catalog.Lookup(movieID); ok {
			if candidate.Title == "" {
				candidate.Title = record.Title
			}
			if candidate.PosterPath == "" {
				candidate.PosterPath = record.PosterPath
			}
			if candidate.Overview == "" {
				candidate.Overview = record.Overview
			}
		}
	}

	if candidate.Title == "" {
		return session.Movie{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return candidate, nil
}

// Fan-out

// fanOutRankingAdded records the insertion on the activity feed and pushes a
// notification to each friend device. Failures are logged and swallowed.
func (s *Service) fanOutRankingAdded(ctx context.Context, sess Session, item store.RankedMovie) {
	entry := store.FeedEntry{
		ID:         util.NewID("feed"),
		OwnerID:    sess.UserID,
		OwnerName:  sess.UserName,
		MovieID:    item.MovieID,
		Title:      item.Title,
		PosterPath: item.PosterPath,
		Rank:       item.Rank,
	}
	if err := s.store.InsertFeedEntry(ctx, entry); err != nil {
		log.Printf("app: feed entry for %s: %v", sess.UserID, err)
	}

	if !s.notifier.IsConfigured() {
		return
	}
	tokens, err := s.store.ListFriendDeviceTokens(ctx, sess.UserID)
	if err != nil {
		log.Printf("app: list friend devices for %s: %v", sess.UserID, err)
		return
	}
	_ = s.notifier.PushRankingAdded(ctx, tokens, notify.RankingAdded{
		OwnerName:  sess.UserName,
		MovieID:    item.MovieID,
		Title:      item.Title,
		PosterPath: item.PosterPath,
		Rank:       item.Rank,
	})
}

// cachePosterAsync copies the poster image into the object store so ranking
// responses can serve presigned URLs. Best effort, off the request path.
func (s *Service) cachePosterAsync(movieID, posterPath string) {
	if s.posters == nil || posterPath == "" || !strings.HasPrefix(posterPath, "http") {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if s.posters.Exists(ctx, movieID) {
			return
		}
		resp, err := http.Get(posterPath)
		if err != nil {
			log.Printf("app: fetch poster for %s: %v", movieID, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Printf("app: fetch poster for %s: status %d", movieID, resp.StatusCode)
			return
		}
		contentType := resp.Header.Get("Content-Type")
		if err := s.posters.Put(ctx, movieID, resp.Body, resp.ContentLength, contentType); err != nil {
			log.Printf("app: cache poster for %s: %v", movieID, err)
		}
	}()
}

func (s *Service) toRankingItem(ctx context.Context, row store.RankedMovie) RankingItem {
	item := RankingItem{
		ID:         row.ID,
		MovieID:    row.MovieID,
		Title:      row.Title,
		PosterPath: row.PosterPath,
		Overview:   row.Overview,
		Rank:       row.Rank,
	}
	if s.posters != nil && s.posters.Exists(ctx, row.MovieID) {
		if url, err := s.posters.PresignGet(ctx, row.MovieID, time.Hour); err == nil {
			item.PosterURL = url
		}
	}
	return item
}

// Social

func (s *Service) AddFriend(ctx context.Context, sess Session, friendID string) error {
	friendID = strings.TrimSpace(friendID)
	if friendID == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "friendId is required", nil)
	}
	if friendID == sess.UserID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cannot befriend yourself", nil)
	}
	if _, err := s.store.GetUserByID(ctx, friendID); err != nil {
		return err
	}
	return s.store.AddFriend(ctx, store.Friendship{
		ID:       util.NewID("fr"),
		UserID:   sess.UserID,
		FriendID: friendID,
	})
}

func (s *Service) ListFriends(ctx context.Context, sess Session) ([]store.User, error) {
	return s.store.ListFriends(ctx, sess.UserID)
}

func (s *Service) Feed(ctx context.Context, sess Session, limit int) ([]store.FeedEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListFeedForUser(ctx, sess.UserID, limit)
}

func (s *Service) RegisterDevice(ctx context.Context, sess Session, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "token is required", nil)
	}
	return s.store.RegisterDeviceToken(ctx, store.DeviceToken{
		ID:       util.NewID("dev"),
		UserID:   sess.UserID,
		Token:    token,
		Platform: strings.TrimSpace(platform),
	})
}

// Search

func (s *Service) SearchMovies(query string, limit int) []catalog.MovieRecord {
	if s.catalog == nil {
		return nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return s.catalog.Search(query, limit)
}

// Export

// ExportRanking renders the caller's list as a PDF.
func (s *Service) ExportRanking(ctx context.Context, sess Session) (*export.Result, error) {
	rows, err := s.store.ListRankedByOwner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Nothing to export yet", nil)
	}
	items := make([]export.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, export.Item{
			Rank:       row.Rank,
			Title:      row.Title,
			PosterPath: row.PosterPath,
			Overview:   row.Overview,
		})
	}
	return export.RankingPDF(sess.UserName, items)
}
