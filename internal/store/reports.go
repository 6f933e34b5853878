package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) InsertDangerZone(ctx context.Context, report DangerZoneReport) (int64, error) {
	source := report.Source
	if source == "" {
		source = "web"
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO danger_zone_reports (latitude, longitude, description, source_url, source, photo_key, reporter_id, approval_status, spam_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING id
	`, report.Latitude, report.Longitude, report.Description, report.SourceURL, source, report.PhotoKey, report.ReporterID, report.SpamScore).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert danger zone report: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertPetReport(ctx context.Context, report PetReport) (int64, error) {
	table := "lost_pet_reports"
	if report.Kind == "foundPet" {
		table = "found_pet_reports"
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO `+table+` (latitude, longitude, description, pet_name, species, contact, photo_key, reporter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, report.Latitude, report.Longitude, report.Description, report.PetName, report.Species, report.Contact, report.PhotoKey, report.ReporterID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

func (s *PostgresStore) InsertAnimalReport(ctx context.Context, report AnimalReport) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO dangerous_animal_reports (latitude, longitude, description, animal_type, photo_key, reporter_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, report.Latitude, report.Longitude, report.Description, report.AnimalType, report.PhotoKey, report.ReporterID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert dangerous animal report: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetDangerZone(ctx context.Context, reportID int64) (DangerZoneReport, error) {
	var item DangerZoneReport
	err := s.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, description, COALESCE(source_url, ''), source, COALESCE(photo_key, ''), reporter_id,
		       approval_status, flag_count, spam_score, COALESCE(admin_notes, ''), COALESCE(rejection_reason, ''),
		       COALESCE(reviewer_id, ''), reviewed_at, edited_at, created_at
		FROM danger_zone_reports
		WHERE id=$1
	`, reportID).Scan(
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
	)
	if err != nil {
		return DangerZoneReport{}, err
	}
	return item, nil
}

// MapData returns reports inside the bounding box, honoring the per-kind
// toggles and an optional recency cut. Only approved danger zones are
// exposed publicly.
func (s *PostgresStore) MapData(ctx context.Context, filter MapFilter) ([]DangerZoneReport, []PetReport, []AnimalReport, error) {
	since := time.Time{}
	if filter.Recency > 0 {
		since = time.Now().Add(-filter.Recency)
	}

	var zones []DangerZoneReport
	if filter.ShowDangerZones {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, latitude, longitude, description, COALESCE(photo_key, ''), created_at
			FROM danger_zone_reports
			WHERE approval_status='approved'
			  AND latitude BETWEEN $1 AND $2
			  AND longitude BETWEEN $3 AND $4
			  AND ($5::timestamptz = 'epoch' OR created_at >= $5)
			ORDER BY created_at DESC
		`, filter.Bounds.LatMin, filter.Bounds.LatMax, filter.Bounds.LonMin, filter.Bounds.LonMax, nullableSince(since))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("map danger zones: %w", err)
		}
		defer rows.Close()
		zones = make([]DangerZoneReport, 0)
		for rows.Next() {
			var item DangerZoneReport
			if err := rows.Scan(&item.ID, &item.Latitude, &item.Longitude, &item.Description, &item.PhotoKey, &item.CreatedAt); err != nil {
				return nil, nil, nil, fmt.Errorf("scan map danger zone: %w", err)
			}
			item.ApprovalStatus = "approved"
			zones = append(zones, item)
		}
		if err := rows.Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("iterate map danger zones: %w", err)
		}
	}

	pets := make([]PetReport, 0)
	for _, kind := range []struct {
		table string
		kind  string
		show  bool
	}{
		{table: "lost_pet_reports", kind: "lostPet", show: filter.ShowLostPets},
		{table: "found_pet_reports", kind: "foundPet", show: filter.ShowFoundPets},
	} {
		if !kind.show {
			continue
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, latitude, longitude, description, pet_name, species, contact, COALESCE(photo_key, ''), created_at
			FROM `+kind.table+`
			WHERE latitude BETWEEN $1 AND $2
			  AND longitude BETWEEN $3 AND $4
			  AND ($5::timestamptz = 'epoch' OR created_at >= $5)
			ORDER BY created_at DESC
		`, filter.Bounds.LatMin, filter.Bounds.LatMax, filter.Bounds.LonMin, filter.Bounds.LonMax, nullableSince(since))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("map %s: %w", kind.table, err)
		}
		for rows.Next() {
			item := PetReport{Kind: kind.kind}
			if err := rows.Scan(&item.ID, &item.Latitude, &item.Longitude, &item.Description, &item.PetName, &item.Species, &item.Contact, &item.PhotoKey, &item.CreatedAt); err != nil {
				rows.Close()
				return nil, nil, nil, fmt.Errorf("scan map %s: %w", kind.table, err)
			}
			pets = append(pets, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, nil, fmt.Errorf("iterate map %s: %w", kind.table, err)
		}
		rows.Close()
	}

	animals := make([]AnimalReport, 0)
	if filter.ShowAnimals {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, latitude, longitude, description, animal_type, COALESCE(photo_key, ''), created_at
			FROM dangerous_animal_reports
			WHERE latitude BETWEEN $1 AND $2
			  AND longitude BETWEEN $3 AND $4
			  AND ($5::timestamptz = 'epoch' OR created_at >= $5)
			ORDER BY created_at DESC
		`, filter.Bounds.LatMin, filter.Bounds.LatMax, filter.Bounds.LonMin, filter.Bounds.LonMax, nullableSince(since))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("map dangerous animals: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var item AnimalReport
			if err := rows.Scan(&item.ID, &item.Latitude, &item.Longitude, &item.Description, &item.AnimalType, &item.PhotoKey, &item.CreatedAt); err != nil {
				return nil, nil, nil, fmt.Errorf("scan map dangerous animal: %w", err)
			}
			animals = append(animals, item)
		}
		if err := rows.Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("iterate map dangerous animals: %w", err)
		}
	}

	return zones, pets, animals, nil
}

func nullableSince(since time.Time) time.Time {
	if since.IsZero() {
		return time.Unix(0, 0)
	}
	return since
}

func (s *PostgresStore) CreatePendingSubmission(ctx context.Context, sub PendingSubmission) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pending_submissions (description, source_url, reporter_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sub.Description, sub.SourceURL, sub.ReporterID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pending submission: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetPendingSubmission(ctx context.Context, id int64) (PendingSubmission, error) {
	var item PendingSubmission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, COALESCE(source_url, ''), reporter_id, completed, created_at
		FROM pending_submissions
		WHERE id=$1
	`, id).Scan(&item.ID, &item.Description, &item.SourceURL, &item.ReporterID, &item.Completed, &item.CreatedAt)
	if err != nil {
		return PendingSubmission{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListPendingSubmissions(ctx context.Context, reporterID string) ([]PendingSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, COALESCE(source_url, ''), reporter_id, completed, created_at
		FROM pending_submissions
		WHERE reporter_id=$1 AND NOT completed
		ORDER BY created_at DESC
	`, reporterID)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer rows.Close()

	items := make([]PendingSubmission, 0)
	for rows.Next() {
		var item PendingSubmission
		if err := rows.Scan(&item.ID, &item.Description, &item.SourceURL, &item.ReporterID, &item.Completed, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkPendingSubmissionCompleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending_submissions SET completed=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("complete pending submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePendingSubmission(ctx context.Context, id int64, reporterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_submissions WHERE id=$1 AND reporter_id=$2
	`, id, reporterID)
	if err != nil {
		return false, fmt.Errorf("delete pending submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pending submission rows: %w", err)
	}
	return affected > 0, nil
}
