package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"reelrank/api/internal/store"
)

func newTestServer(t *testing.T, fx *rankedFixture) (*httptest.Server, *fakeStore) {
	t.Helper()
	fs := fx.fakeStore()

	var usersMu sync.Mutex
	users := map[string]store.User{}
	fs.createUserFn = func(_ context.Context, user store.User) error {
		usersMu.Lock()
		defer usersMu.Unlock()
		users[user.Email] = user
		return nil
	}
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		usersMu.Lock()
		defer usersMu.Unlock()
		if user, ok := users[email]; ok {
			return user, nil
		}
		return store.User{}, sql.ErrNoRows
	}

	svc := newTestService(fs)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, fs
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func signUp(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, server.URL+"/api/auth/signup", "", map[string]string{
		"name":     "Avery",
		"email":    "avery@example.com",
		"password": "opensesame",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeJSON(t, resp, &body)
	if body.Token == "" {
		t.Fatal("signup returned no token")
	}
	return body.Token
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &rankedFixture{})

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestRankingsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t, &rankedFixture{})

	resp, err := http.Get(server.URL + "/api/rankings")
	if err != nil {
		t.Fatalf("GET /api/rankings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/rankings", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with bad token: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", resp2.StatusCode)
	}
}

func TestInsertionFlowOverHTTP(t *testing.T) {
	server, _ := newTestServer(t, &rankedFixture{})
	token := signUp(t, server)

	// First movie lands directly at rank 1.
	resp := postJSON(t, server.URL+"/api/rankings", token, map[string]string{
		"movieId": "mv_alien", "title": "Alien",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first insert status = %d", resp.StatusCode)
	}
	var added CompareOutcome
	decodeJSON(t, resp, &added)
	if added.Status != "added" || added.Item.Rank != 1 {
		t.Fatalf("unexpected first insert outcome: %+v", added)
	}

	// Second movie opens a comparison.
	resp = postJSON(t, server.URL+"/api/rankings", token, map[string]string{
		"movieId": "mv_dune", "title": "Dune",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second insert status = %d", resp.StatusCode)
	}
	var compare CompareOutcome
	decodeJSON(t, resp, &compare)
	if compare.Status != "compare" || compare.Prompt.Comparator.MovieID != "mv_alien" {
		t.Fatalf("unexpected compare outcome: %+v", compare)
	}

	// Preferring the comparator puts the candidate below it.
	resp = postJSON(t, server.URL+"/api/rankings/compare", token, map[string]string{
		"preferredMovieId": "mv_alien",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("compare answer status = %d", resp.StatusCode)
	}
	var done CompareOutcome
	decodeJSON(t, resp, &done)
	if done.Status != "added" || done.Item.Rank != 2 {
		t.Fatalf("expected Dune at rank 2, got %+v", done)
	}

	// The list now reads Alien, Dune.
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/rankings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/rankings: %v", err)
	}
	var list struct {
		Items []RankingItem `json:"items"`
	}
	decodeJSON(t, listResp, &list)
	if len(list.Items) != 2 || list.Items[0].Title != "Alien" || list.Items[1].Title != "Dune" {
		t.Fatalf("unexpected list: %+v", list.Items)
	}
}

func TestCancelComparisonOverHTTP(t *testing.T) {
	server, _ := newTestServer(t, &rankedFixture{})
	token := signUp(t, server)

	resp := postJSON(t, server.URL+"/api/rankings", token, map[string]string{
		"movieId": "mv_alien", "title": "Alien",
	})
	resp.Body.Close()
	resp = postJSON(t, server.URL+"/api/rankings", token, map[string]string{
		"movieId": "mv_dune", "title": "Dune",
	})
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/rankings/compare", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/rankings/compare: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", cancelResp.StatusCode)
	}

	answer := postJSON(t, server.URL+"/api/rankings/compare", token, map[string]string{
		"preferredMovieId": "mv_dune",
	})
	defer answer.Body.Close()
	if answer.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after cancel, got %d", answer.StatusCode)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(t, &rankedFixture{})
	token := signUp(t, server)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/nonsense", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/nonsense: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
