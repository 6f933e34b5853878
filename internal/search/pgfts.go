package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches approved danger zone reports with plainto_tsquery and
// ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	err := p.db.QueryRow(`
		SELECT count(*)
		FROM danger_zone_reports
		WHERE approval_status = 'approved'
		  AND fts @@ plainto_tsquery('english', $1)`, q.Text).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	rows, err := p.db.Query(`
		SELECT id, latitude, longitude, created_at,
			ts_headline('english', description, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM danger_zone_reports
		WHERE approval_status = 'approved'
		  AND fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC, created_at DESC
		LIMIT $2 OFFSET $3`, q.Text, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query search results: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var createdAt time.Time
		if err := rows.Scan(&r.ID, &r.Latitude, &r.Longitude, &createdAt, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		r.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}

	return results, total, nil
}

// LoadAllRecords reads every approved report for bulk reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ReportRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, description, latitude, longitude, source, created_at
		FROM danger_zone_reports
		WHERE approval_status = 'approved'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load approved reports: %w", err)
	}
	defer rows.Close()

	records := make([]ReportRecord, 0)
	for rows.Next() {
		var rec ReportRecord
		var id int64
		var createdAt time.Time
		if err := rows.Scan(&id, &rec.Description, &rec.Latitude, &rec.Longitude, &rec.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan report record: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		rec.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report records: %w", err)
	}

	return records, nil
}
