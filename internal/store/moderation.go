package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ModerationQueue returns one page of enriched danger zone rows matching the
// filter, plus aggregate counts by approval status across the whole table.
func (s *PostgresStore) ModerationQueue(ctx context.Context, filter QueueFilter) ([]QueueRow, StatusCounts, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	orderBy := "r.created_at"
	switch filter.SortKey {
	case "spam_score":
		orderBy = "r.spam_score"
	case "flag_count":
		orderBy = "r.flag_count"
	}
	direction := "DESC"
	if filter.SortDir == "asc" {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT r.id, r.latitude, r.longitude, r.description, COALESCE(r.source_url, ''), r.source, COALESCE(r.photo_key, ''),
		       r.reporter_id, r.approval_status, r.flag_count, r.spam_score, COALESCE(r.admin_notes, ''),
		       COALESCE(r.rejection_reason, ''), COALESCE(r.reviewer_id, ''), r.reviewed_at, r.edited_at, r.created_at,
		       u.email,
		       (u.created_at > NOW() - INTERVAL '7 days') AS is_new_user,
		       EXTRACT(EPOCH FROM (NOW() - r.created_at))::bigint AS pending_duration
		FROM danger_zone_reports r
		JOIN users u ON u.id = r.reporter_id
		WHERE ($1='' OR r.approval_status=$1)
		  AND ($2='' OR r.source=$2)
		  AND (NOT $3::boolean OR r.flag_count > 0)
		  AND ($4='' OR r.description ILIKE '%%' || $4 || '%%')
		ORDER BY %s %s
		LIMIT $5 OFFSET $6
	`, orderBy, direction)

	rows, err := s.db.QueryContext(ctx, query, filter.Status, filter.Source, filter.Flagged, filter.Search, limit, offset)
	if err != nil {
		return nil, StatusCounts{}, fmt.Errorf("moderation queue: %w", err)
	}
	defer rows.Close()

	items := make([]QueueRow, 0)
	for rows.Next() {
		var item QueueRow
		if err := rows.Scan(
			&item.ID,
			&item.Latitude,
			&item.Longitude,
			&item.Description,
			&item.SourceURL,
			&item.Source,
			&item.PhotoKey,
			&item.ReporterID,
			&item.ApprovalStatus,
			&item.FlagCount,
			&item.SpamScore,
			&item.AdminNotes,
			&item.RejectionReason,
			&item.ReviewerID,
			&item.ReviewedAt,
			&item.EditedAt,
			&item.CreatedAt,
			&item.ReporterEmail,
			&item.IsNewUser,
			&item.PendingDuration,
		); err != nil {
			return nil, StatusCounts{}, fmt.Errorf("scan moderation queue row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, StatusCounts{}, fmt.Errorf("iterate moderation queue: %w", err)
	}

	counts, err := s.statusCounts(ctx)
	if err != nil {
		return nil, StatusCounts{}, err
	}
	return items, counts, nil
}

func (s *PostgresStore) statusCounts(ctx context.Context) (StatusCounts, error) {
	var counts StatusCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE approval_status='pending'),
		       COUNT(*) FILTER (WHERE approval_status='approved'),
		       COUNT(*) FILTER (WHERE approval_status='rejected')
		FROM danger_zone_reports
	`).Scan(&counts.Pending, &counts.Approved, &counts.Rejected)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("status counts: %w", err)
	}
	return counts, nil
}

// ApproveDangerZone transitions a pending report to approved and returns
// the reporter id so the caller can bump reputation counters. The status
// guard makes the transition one-way.
func (s *PostgresStore) ApproveDangerZone(ctx context.Context, reportID int64, reviewerID string) (string, error) {
	var reporterID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE danger_zone_reports
		SET approval_status='approved', reviewer_id=$2, reviewed_at=NOW(), rejection_reason=NULL
		WHERE id=$1 AND approval_status='pending'
		RETURNING reporter_id
	`, reportID, reviewerID).Scan(&reporterID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("approve danger zone: %w", err)
	}
	return reporterID, nil
}

func (s *PostgresStore) RejectDangerZone(ctx context.Context, reportID int64, reviewerID, reason string) (string, error) {
	var reporterID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE danger_zone_reports
		SET approval_status='rejected', reviewer_id=$2, reviewed_at=NOW(), rejection_reason=$3
		WHERE id=$1 AND approval_status='pending'
		RETURNING reporter_id
	`, reportID, reviewerID, reason).Scan(&reporterID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("reject danger zone: %w", err)
	}
	return reporterID, nil
}

// ReopenDangerZone is the explicit admin-only rejected -> pending
// transition; it is not exposed through the general status flow.
func (s *PostgresStore) ReopenDangerZone(ctx context.Context, reportID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE danger_zone_reports
		SET approval_status='pending', reviewer_id=NULL, reviewed_at=NULL, rejection_reason=NULL
		WHERE id=$1 AND approval_status='rejected'
	`, reportID)
	if err != nil {
		return false, fmt.Errorf("reopen danger zone: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reopen danger zone rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteDangerZone removes the row unconditionally and returns a snapshot
// of its key fields for the audit trail.
func (s *PostgresStore) DeleteDangerZone(ctx context.Context, reportID int64) (DeletedSnapshot, error) {
	var snapshot DeletedSnapshot
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM danger_zone_reports
		WHERE id=$1
		RETURNING id, LEFT(description, 80), reporter_id
	`, reportID).Scan(&snapshot.ID, &snapshot.DescriptionPrefix, &snapshot.ReporterID)
	if errors.Is(err, sql.ErrNoRows) {
		return DeletedSnapshot{}, sql.ErrNoRows
	}
	if err != nil {
		return DeletedSnapshot{}, fmt.Errorf("delete danger zone: %w", err)
	}
	return snapshot, nil
}

// UpdateDangerZoneFields persists an admin edit of the whitelisted fields.
func (s *PostgresStore) UpdateDangerZoneFields(ctx context.Context, report DangerZoneReport) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE danger_zone_reports
		SET latitude=$2, longitude=$3, description=$4, source_url=$5, admin_notes=$6, created_at=$7, edited_at=NOW()
		WHERE id=$1
	`, report.ID, report.Latitude, report.Longitude, report.Description, report.SourceURL, report.AdminNotes, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("update danger zone fields: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertReportEdit(ctx context.Context, edit ReportEdit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_edits (report_id, editor_id, field, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5)
	`, edit.ReportID, edit.EditorID, edit.Field, edit.OldValue, edit.NewValue)
	if err != nil {
		return fmt.Errorf("insert report edit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReportEdits(ctx context.Context, reportID int64) ([]ReportEdit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, editor_id, field, old_value, new_value, created_at
		FROM report_edits
		WHERE report_id=$1
		ORDER BY created_at ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list report edits: %w", err)
	}
	defer rows.Close()

	items := make([]ReportEdit, 0)
	for rows.Next() {
		var item ReportEdit
		if err := rows.Scan(&item.ID, &item.ReportID, &item.EditorID, &item.Field, &item.OldValue, &item.NewValue, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report edit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report edits: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FlagDangerZone(ctx context.Context, reportID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE danger_zone_reports SET flag_count = flag_count + 1 WHERE id=$1
	`, reportID)
	if err != nil {
		return false, fmt.Errorf("flag danger zone: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flag danger zone rows: %w", err)
	}
	return affected > 0, nil
}
