package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditLogEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_audit_log (admin_id, action_type, target_type, target_id, details, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`, entry.AdminID, entry.ActionType, entry.TargetType, entry.TargetID, string(encoded), entry.IP, entry.UserAgent)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditLog(ctx context.Context, page, limit int) ([]AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, action_type, target_type, target_id, details, COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
		FROM admin_audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var item AuditLogEntry
		var detailsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.AdminID,
			&item.ActionType,
			&item.TargetType,
			&item.TargetID,
			&detailsRaw,
			&item.IP,
			&item.UserAgent,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		_ = json.Unmarshal(detailsRaw, &item.Details)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return items, nil
}
