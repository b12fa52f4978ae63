// Package notify delivers ranking-activity push notifications to friends'
// devices through an FCM-style HTTP gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// RankingAdded describes a completed insertion for fan-out.
type RankingAdded struct {
	OwnerName  string `json:"ownerName"`
	MovieID    string `json:"movieId"`
	Title      string `json:"title"`
	PosterPath string `json:"posterPath"`
	Rank       int    `json:"rank"`
}

// Service posts notification payloads to the configured gateway. Delivery is
// best effort: failures are logged and never surfaced to the ranking flow.
type Service struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

func NewService(gatewayURL, apiKey string) *Service {
	return &Service{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// IsConfigured returns true if a push gateway is configured.
func (s *Service) IsConfigured() bool {
	return s != nil && s.gatewayURL != ""
}

// PushRankingAdded sends one notification per device token. Errors are
// logged per token; the first error is also returned for tests.
func (s *Service) PushRankingAdded(ctx context.Context, tokens []string, event RankingAdded) error {
	if !s.IsConfigured() || len(tokens) == 0 {
		return nil
	}

	var firstErr error
	for _, token := range tokens {
		if err := s.push(ctx, token, event); err != nil {
			log.Printf("notify: push to device failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) push(ctx context.Context, token string, event RankingAdded) error {
	payload := map[string]any{
		"to": token,
		"notification": map[string]string{
			"title": fmt.Sprintf("%s ranked a movie", event.OwnerName),
			"body":  fmt.Sprintf("%s is now #%d on their list", event.Title, event.Rank),
		},
		"data": event,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "key="+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}
