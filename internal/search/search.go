// Package search provides free-text search over approved danger zone
// reports, backed by Meilisearch with a PostgreSQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Snippet   string  `json:"snippet"`
	CreatedAt string  `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ReportRecord is the data we index for an approved danger zone report.
type ReportRecord struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"`
	CreatedAt   string  `json:"createdAt"`
}
