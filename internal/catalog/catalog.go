// Package catalog provides movie metadata search and lookup, backed by a
// Meilisearch index. The API only reads the catalog; ingestion is an
// operational concern (bulk index via IndexMovies).
package catalog

import "log"

// MovieRecord is one catalog entry.
type MovieRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	PosterPath string   `json:"posterPath"`
	Overview   string   `json:"overview"`
	Year       int      `json:"year"`
	Genres     []string `json:"genres,omitempty"`
}

// Service fronts the Meilisearch backend and degrades gracefully when it is
// not configured or unhealthy: searches return empty results and lookups
// report a miss.
type Service struct {
	meili *Meili
}

func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Search returns catalog entries matching the query.
func (s *Service) Search(query string, limit int) []MovieRecord {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	results, err := s.meili.Search(query, limit)
	if err != nil {
		log.Printf("catalog: search failed: %v", err)
		return nil
	}
	return results
}

// Lookup fetches a single movie's display fields. The boolean reports
// whether the movie was found; errors are treated as a miss so enrichment
// never blocks an insertion.
func (s *Service) Lookup(movieID string) (MovieRecord, bool) {
	if s.meili == nil || !s.meili.Healthy() {
		return MovieRecord{}, false
	}
	record, err := s.meili.GetMovie(movieID)
	if err != nil {
		log.Printf("catalog: lookup %s failed: %v", movieID, err)
		return MovieRecord{}, false
	}
	return record, true
}
