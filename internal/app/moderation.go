package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"trappertracker/api/internal/search"
	"trappertracker/api/internal/store"
)

const maxBulkActionIDs = 100

// AuditMeta carries request context recorded with every privileged action.
type AuditMeta struct {
	IP        string
	UserAgent string
}

type QueueReport struct {
	ID              int64   `json:"id"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Description     string  `json:"description"`
	SourceURL       string  `json:"sourceUrl,omitempty"`
	Source          string  `json:"source"`
	PhotoKey        string  `json:"photoKey,omitempty"`
	ApprovalStatus  string  `json:"approvalStatus"`
	FlagCount       int     `json:"flagCount"`
	SpamScore       float64 `json:"spamScore"`
	AdminNotes      string  `json:"adminNotes,omitempty"`
	RejectionReason string  `json:"rejectionReason,omitempty"`
	ReporterEmail   string  `json:"reporterEmail"`
	IsNewUser       bool    `json:"isNewUser"`
	PendingDuration int64   `json:"pendingDurationSeconds"`
	CreatedAt       string  `json:"createdAt"`
}

type QueueResponse struct {
	Reports []QueueReport `json:"reports"`
	Counts  struct {
		Pending  int `json:"pending"`
		Approved int `json:"approved"`
		Rejected int `json:"rejected"`
	} `json:"counts"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type EditReportInput struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Description *string  `json:"description"`
	SourceURL   *string  `json:"sourceUrl"`
	AdminNotes  *string  `json:"adminNotes"`
	CreatedAt   *string  `json:"createdAt"`
}

type BulkActionResult struct {
	Success []int64          `json:"success"`
	Failed  []BulkActionFail `json:"failed"`
}

type BulkActionFail struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// ModerationQueue lists reports for admin review with reporter context and
// aggregate status counts.
func (s *Service) ModerationQueue(ctx context.Context, filter store.QueueFilter) (QueueResponse, error) {
	rows, counts, err := s.store.ModerationQueue(ctx, filter)
	if err != nil {
		return QueueResponse{}, fmt.Errorf("load moderation queue: %w", err)
	}

	resp := QueueResponse{
		Reports: make([]QueueReport, 0, len(rows)),
		Page:    filter.Page,
		Limit:   filter.Limit,
	}
	resp.Counts.Pending = counts.Pending
	resp.Counts.Approved = counts.Approved
	resp.Counts.Rejected = counts.Rejected

	for _, row := range rows {
		resp.Reports = append(resp.Reports, QueueReport{
			ID:              row.ID,
			Latitude:        row.Latitude,
			Longitude:       row.Longitude,
			Description:     row.Description,
			SourceURL:       row.SourceURL,
			Source:          row.Source,
			PhotoKey:        row.PhotoKey,
			ApprovalStatus:  row.ApprovalStatus,
			FlagCount:       row.FlagCount,
			SpamScore:       row.SpamScore,
			AdminNotes:      row.AdminNotes,
			RejectionReason: row.RejectionReason,
			ReporterEmail:   row.ReporterEmail,
			IsNewUser:       row.IsNewUser,
			PendingDuration: row.PendingDuration,
			CreatedAt:       row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

// ApproveReport transitions a pending report to approved, credits the
// reporter, indexes the report for search, and writes an audit row.
func (s *Service) ApproveReport(ctx context.Context, admin Session, reportID int64, meta AuditMeta) error {
	reporterID, err := s.store.ApproveDangerZone(ctx, reportID, admin.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("No pending report with that id")
		}
		return fmt.Errorf("approve report: %w", err)
	}

	if err := s.store.AdjustReviewCounts(ctx, reporterID, 1, 0); err != nil {
		log.Printf("app: adjust review counts for %s: %v", reporterID, err)
	}

	s.indexReport(ctx, reportID)
	s.notifyReporter(ctx, reporterID, "approved", reportID, "")

	s.audit(ctx, admin, "approve", "report", reportID, nil, meta)
	return nil
}

// RejectReport transitions a pending report to rejected with a mandatory
// reason, debits the reporter, and writes an audit row.
func (s *Service) RejectReport(ctx context.Context, admin Session, reportID int64, reason string, meta AuditMeta) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationError("Rejection reason is required", nil)
	}
	reason = sanitizeText(reason)

	reporterID, err := s.store.RejectDangerZone(ctx, reportID, admin.UserID, reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("No pending report with that id")
		}
		return fmt.Errorf("reject report: %w", err)
	}

	if err := s.store.AdjustReviewCounts(ctx, reporterID, 0, 1); err != nil {
		log.Printf("app: adjust review counts for %s: %v", reporterID, err)
	}

	if s.search != nil {
		s.search.DeleteReport(strconv.FormatInt(reportID, 10))
	}
	s.notifyReporter(ctx, reporterID, "rejected", reportID, reason)

	s.audit(ctx, admin, "reject", "report", reportID, map[string]any{"reason": reason}, meta)
	return nil
}

// ReopenReport moves a rejected report back to pending and reverses the
// reporter's rejected counter.
func (s *Service) ReopenReport(ctx context.Context, admin Session, reportID int64, meta AuditMeta) error {
	report, err := s.store.GetDangerZone(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Report not found")
		}
		return fmt.Errorf("load report: %w", err)
	}

	reopened, err := s.store.ReopenDangerZone(ctx, reportID)
	if err != nil {
		return fmt.Errorf("reopen report: %w", err)
	}
	if !reopened {
		return validationError("Only rejected reports can be reopened", nil)
	}

	if err := s.store.AdjustReviewCounts(ctx, report.ReporterID, 0, -1); err != nil {
		log.Printf("app: adjust review counts for %s: %v", report.ReporterID, err)
	}

	s.audit(ctx, admin, "reopen", "report", reportID, nil, meta)
	return nil
}

// EditReport applies a whitelisted partial update and records a history row
// for every field that actually changed.
func (s *Service) EditReport(ctx context.Context, admin Session, reportID int64, input EditReportInput, meta AuditMeta) error {
	current, err := s.store.GetDangerZone(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Report not found")
		}
		return fmt.Errorf("load report: %w", err)
	}

	updated := current
	edits := make([]store.ReportEdit, 0, 4)
	recordEdit := func(field, oldValue, newValue string) {
		if oldValue == newValue {
			return
		}
		edits = append(edits, store.ReportEdit{
			ReportID: reportID,
			EditorID: admin.UserID,
			Field:    field,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}

	if input.Latitude != nil || input.Longitude != nil {
		lat, lon := current.Latitude, current.Longitude
		if input.Latitude != nil {
			lat = *input.Latitude
		}
		if input.Longitude != nil {
			lon = *input.Longitude
		}
		if err := validateCoordinates(lat, lon); err != nil {
			return err
		}
		recordEdit("latitude", formatFloat(current.Latitude), formatFloat(lat))
		recordEdit("longitude", formatFloat(current.Longitude), formatFloat(lon))
		updated.Latitude, updated.Longitude = lat, lon
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		if description == "" {
			return validationError("Description cannot be empty", nil)
		}
		if len(description) > maxDescriptionLen {
			return validationError("Description too long", map[string]any{"max": maxDescriptionLen})
		}
		escaped := sanitizeText(description)
		recordEdit("description", current.Description, escaped)
		updated.Description = escaped
	}
	if input.SourceURL != nil {
		sourceURL := strings.TrimSpace(*input.SourceURL)
		recordEdit("source_url", current.SourceURL, sourceURL)
		updated.SourceURL = sourceURL
	}
	if input.AdminNotes != nil {
		notes := sanitizeText(strings.TrimSpace(*input.AdminNotes))
		recordEdit("admin_notes", current.AdminNotes, notes)
		updated.AdminNotes = notes
	}
	if input.CreatedAt != nil {
		createdAt, err := time.Parse(time.RFC3339, *input.CreatedAt)
		if err != nil {
			return validationError("createdAt must be RFC 3339", nil)
		}
		recordEdit("created_at", current.CreatedAt.UTC().Format(time.RFC3339), createdAt.UTC().Format(time.RFC3339))
		updated.CreatedAt = createdAt
	}

	if len(edits) == 0 {
		return validationError("No changes supplied", nil)
	}

	updated.ID = reportID
	if err := s.store.UpdateDangerZoneFields(ctx, updated); err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	for _, edit := range edits {
		if err := s.store.InsertReportEdit(ctx, edit); err != nil {
			log.Printf("app: record edit on report %d: %v", reportID, err)
		}
	}

	if updated.ApprovalStatus == "approved" {
		s.indexReport(ctx, reportID)
	}

	changed := make([]string, 0, len(edits))
	for _, edit := range edits {
		changed = append(changed, edit.Field)
	}
	s.audit(ctx, admin, "edit", "report", reportID, map[string]any{"fields": changed}, meta)
	return nil
}

// ReportHistory lists the field-level edit trail for a report.
func (s *Service) ReportHistory(ctx context.Context, reportID int64) ([]store.ReportEdit, error) {
	return s.store.ListReportEdits(ctx, reportID)
}

// DeleteReport removes a report entirely. A snapshot of the deleted row
// goes into the audit log since the row itself is gone.
func (s *Service) DeleteReport(ctx context.Context, admin Session, reportID int64, meta AuditMeta) error {
	report, err := s.store.GetDangerZone(ctx, reportID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load report: %w", err)
	}

	snapshot, err := s.store.DeleteDangerZone(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Report not found")
		}
		return fmt.Errorf("delete report: %w", err)
	}

	if s.search != nil {
		s.search.DeleteReport(strconv.FormatInt(reportID, 10))
	}
	if s.photos != nil && report.PhotoKey != "" {
		if err := s.photos.Delete(ctx, report.PhotoKey); err != nil {
			log.Printf("app: delete photo %s: %v", report.PhotoKey, err)
		}
	}

	s.audit(ctx, admin, "delete", "report", reportID, map[string]any{
		"description": snapshot.DescriptionPrefix,
		"reporterId":  snapshot.ReporterID,
	}, meta)
	return nil
}

// BulkAction applies approve, reject, or delete to up to 100 reports. Each
// item succeeds or fails independently.
func (s *Service) BulkAction(ctx context.Context, admin Session, action string, ids []int64, reason string, meta AuditMeta) (BulkActionResult, error) {
	switch action {
	case "approve", "reject", "delete":
	default:
		return BulkActionResult{}, validationError("Unknown bulk action", map[string]any{"action": action})
	}
	if len(ids) == 0 {
		return BulkActionResult{}, validationError("No report ids supplied", nil)
	}
	if len(ids) > maxBulkActionIDs {
		return BulkActionResult{}, validationError("Too many report ids", map[string]any{"max": maxBulkActionIDs})
	}
	if action == "reject" && strings.TrimSpace(reason) == "" {
		reason = "Rejected in bulk review"
	}

	result := BulkActionResult{
		Success: make([]int64, 0, len(ids)),
		Failed:  make([]BulkActionFail, 0),
	}
	for _, id := range ids {
		var err error
		switch action {
		case "approve":
			err = s.ApproveReport(ctx, admin, id, meta)
		case "reject":
			err = s.RejectReport(ctx, admin, id, reason, meta)
		case "delete":
			err = s.DeleteReport(ctx, admin, id, meta)
		}
		if err != nil {
			result.Failed = append(result.Failed, BulkActionFail{ID: id, Reason: bulkFailReason(err)})
			continue
		}
		result.Success = append(result.Success, id)
	}

	s.audit(ctx, admin, "bulk_"+action, "report", 0, map[string]any{
		"requested": len(ids),
		"succeeded": len(result.Success),
		"failed":    len(result.Failed),
	}, meta)
	return result, nil
}

func bulkFailReason(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return "internal error"
}

// AuditLog returns the privileged-action trail, newest first.
func (s *Service) AuditLog(ctx context.Context, page, limit int) ([]store.AuditLogEntry, error) {
	return s.store.ListAuditLog(ctx, page, limit)
}

func (s *Service) audit(ctx context.Context, admin Session, action, targetType string, targetID int64, details map[string]any, meta AuditMeta) {
	target := ""
	if targetID != 0 {
		target = strconv.FormatInt(targetID, 10)
	}
	entry := store.AuditLogEntry{
		AdminID:    admin.UserID,
		ActionType: action,
		TargetType: targetType,
		TargetID:   target,
		Details:    details,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		log.Printf("app: write audit log %s %s/%s: %v", action, targetType, target, err)
	}
}

func (s *Service) indexReport(ctx context.Context, reportID int64) {
	if s.search == nil {
		return
	}
	report, err := s.store.GetDangerZone(ctx, reportID)
	if err != nil {
		log.Printf("app: load report %d for indexing: %v", reportID, err)
		return
	}
	s.search.IndexReport(search.ReportRecord{
		ID:          strconv.FormatInt(report.ID, 10),
		Description: report.Description,
		Latitude:    report.Latitude,
		Longitude:   report.Longitude,
		Source:      report.Source,
		CreatedAt:   report.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Service) notifyReporter(ctx context.Context, reporterID, status string, reportID int64, reason string) {
	if !s.SMTPConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, reporterID)
	if err != nil {
		log.Printf("app: load reporter %s for notification: %v", reporterID, err)
		return
	}
	report, err := s.store.GetDangerZone(ctx, reportID)
	description := ""
	if err == nil {
		description = report.Description
	}
	if err := s.email.SendReportStatusEmail(user.Email, status, description, reason); err != nil {
		log.Printf("app: send status email to %s: %v", user.Email, err)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
