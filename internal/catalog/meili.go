package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxMovies = "reelrank_movies"

// Meili is the Meilisearch-backed movie catalog.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the movies index.
// An unreachable backend is tolerated: the health loop flips the catalog
// back on when Meilisearch recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("catalog: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxMovies,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("catalog: create index %s (may already exist): %v", idxMovies, err)
	}

	index := m.client.Index(idxMovies)
	filterable := []interface{}{"year", "genres"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("catalog: update filterable attrs: %v", err)
	}
	searchable := []string{"title", "overview"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("catalog: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("catalog: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the movies index.
func (m *Meili) Search(query string, limit int) ([]MovieRecord, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxMovies).Search(query, &meili.SearchRequest{
		Limit: int64(limit),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]MovieRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToRecord(hit))
	}
	return results, nil
}

func hitToRecord(hit meili.Hit) MovieRecord {
	record := MovieRecord{
		ID:         decodeString(hit, "id"),
		Title:      decodeString(hit, "title"),
		PosterPath: decodeString(hit, "posterPath"),
		Overview:   decodeString(hit, "overview"),
	}
	if raw, ok := hit["year"]; ok {
		_ = json.Unmarshal(raw, &record.Year)
	}
	if raw, ok := hit["genres"]; ok {
		_ = json.Unmarshal(raw, &record.Genres)
	}
	return record
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// GetMovie fetches one catalog entry by id.
func (m *Meili) GetMovie(movieID string) (MovieRecord, error) {
	if !m.healthy.Load() {
		return MovieRecord{}, fmt.Errorf("meilisearch unhealthy")
	}
	var record MovieRecord
	if err := m.client.Index(idxMovies).GetDocument(movieID, nil, &record); err != nil {
		return MovieRecord{}, fmt.Errorf("meilisearch get document: %w", err)
	}
	return record, nil
}

// IndexMovies bulk-indexes catalog entries.
func (m *Meili) IndexMovies(movies []MovieRecord) error {
	if len(movies) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMovies).AddDocuments(movies, nil)
	return err
}
