package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"trappertracker/api/internal/auth"
	"trappertracker/api/internal/store"
)

// adminRequest builds an admin request with a valid admin token and a
// matching CSRF cookie and header.
func adminRequest(t *testing.T, server *HTTPServer, svc *Service, method, target, body string) *http.Request {
	t.Helper()
	session, err := svc.AdminLogin("admin@example.com", "swordfish")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: session.Token})

	csrf, err := auth.IssueCSRFToken(server.csrfSecret)
	if err != nil {
		t.Fatalf("issue csrf token: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: csrfCookie, Value: csrf})
	req.Header.Set("X-CSRF-Token", csrf)
	return req
}

func TestAdminMutationWithoutCSRFForbidden(t *testing.T) {
	server, svc := newTestServer(&fakeStore{}, newFakeUserStore())

	session, err := svc.AdminLogin("admin@example.com", "swordfish")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/api/admin/reports/5/approve", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: session.Token})

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "CSRF_FAILED" {
		t.Fatalf("expected code CSRF_FAILED, got %v", payload["code"])
	}
}

func TestAdminCSRFRequiresMatchingCookie(t *testing.T) {
	server, svc := newTestServer(&fakeStore{}, newFakeUserStore())

	session, err := svc.AdminLogin("admin@example.com", "swordfish")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	csrf, err := auth.IssueCSRFToken(server.csrfSecret)
	if err != nil {
		t.Fatalf("issue csrf token: %v", err)
	}

	// Valid signed token in the header, but no matching cookie.
	req := httptest.NewRequest(http.MethodPut, "/api/admin/reports/5/approve", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: session.Token})
	req.Header.Set("X-CSRF-Token", csrf)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminEndpointsRejectUserTokens(t *testing.T) {
	us := newFakeUserStore()
	user := us.addUser("avery@example.com", "Sup3rSecret")
	server, svc := newTestServer(&fakeStore{}, us)

	session, err := svc.issueSession(user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/moderation-queue", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: session.Token})

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestApproveReportAdjustsCountsAndAudits(t *testing.T) {
	fs := &fakeStore{
		approveDangerZoneFn: func(_ context.Context, reportID int64, reviewerID string) (string, error) {
			if reportID != 5 {
				return "", sql.ErrNoRows
			}
			return "u_reporter", nil
		},
	}
	var approvedDelta, rejectedDelta int
	var countedReporter string
	fs.adjustReviewCountsFn = func(_ context.Context, reporterID string, approved, rejected int) error {
		countedReporter, approvedDelta, rejectedDelta = reporterID, approved, rejected
		return nil
	}
	var audited store.AuditLogEntry
	fs.insertAuditLogFn = func(_ context.Context, entry store.AuditLogEntry) error {
		audited = entry
		return nil
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/5/approve", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if countedReporter != "u_reporter" || approvedDelta != 1 || rejectedDelta != 0 {
		t.Fatalf("unexpected count adjustment: reporter=%q approved=%d rejected=%d", countedReporter, approvedDelta, rejectedDelta)
	}
	if audited.ActionType != "approve" || audited.TargetID != "5" {
		t.Fatalf("unexpected audit entry %+v", audited)
	}
}

func TestApproveMissingReportNotFound(t *testing.T) {
	server, svc := newTestServer(&fakeStore{}, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/999/approve", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRejectReportRequiresReason(t *testing.T) {
	server, svc := newTestServer(&fakeStore{}, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/5/reject", `{"reason":"  "}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRejectReportEscapesReason(t *testing.T) {
	var storedReason string
	fs := &fakeStore{
		rejectDangerZoneFn: func(_ context.Context, reportID int64, reviewerID, reason string) (string, error) {
			storedReason = reason
			return "u_reporter", nil
		},
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/5/reject", `{"reason":"<b>duplicate</b>"}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if storedReason != "&lt;b&gt;duplicate&lt;&#x2F;b&gt;" {
		t.Fatalf("expected escaped reason, got %q", storedReason)
	}
}

func TestReopenOnlyRejectedReports(t *testing.T) {
	fs := &fakeStore{
		getDangerZoneFn: func(_ context.Context, id int64) (store.DangerZoneReport, error) {
			return store.DangerZoneReport{ID: id, ApprovalStatus: "approved", ReporterID: "u_reporter"}, nil
		},
		reopenDangerZoneFn: func(_ context.Context, id int64) (bool, error) {
			return false, nil
		},
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/5/reopen", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBulkActionPartialFailure(t *testing.T) {
	fs := &fakeStore{
		approveDangerZoneFn: func(_ context.Context, reportID int64, reviewerID string) (string, error) {
			if reportID == 2 {
				return "", sql.ErrNoRows
			}
			return "u_reporter", nil
		},
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPost, "/api/admin/reports/bulk-action", `{"action":"approve","ids":[1,2,3]}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload struct {
		Results BulkActionResult `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Results.Success) != 2 || len(payload.Results.Failed) != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %+v", payload.Results)
	}
	if payload.Results.Failed[0].ID != 2 {
		t.Fatalf("expected id 2 to fail, got %+v", payload.Results.Failed[0])
	}
	if payload.Results.Failed[0].Reason == "" {
		t.Fatalf("failure should carry a reason")
	}
}

func TestBulkActionLimits(t *testing.T) {
	server, svc := newTestServer(&fakeStore{}, newFakeUserStore())

	ids := make([]int64, maxBulkActionIDs+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	body, _ := json.Marshal(map[string]any{"action": "approve", "ids": ids})

	req := adminRequest(t, server, svc, http.MethodPost, "/api/admin/reports/bulk-action", string(body))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	req = adminRequest(t, server, svc, http.MethodPost, "/api/admin/reports/bulk-action", `{"action":"approve","ids":[]}`)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty ids, got %d body=%s", rr.Code, rr.Body.String())
	}

	req = adminRequest(t, server, svc, http.MethodPost, "/api/admin/reports/bulk-action", `{"action":"promote","ids":[1]}`)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown action, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestEditReportRecordsHistory(t *testing.T) {
	fs := &fakeStore{
		getDangerZoneFn: func(_ context.Context, id int64) (store.DangerZoneReport, error) {
			return store.DangerZoneReport{ID: id, Latitude: 1, Longitude: 2, Description: "old", ApprovalStatus: "pending"}, nil
		},
	}
	var updated store.DangerZoneReport
	fs.updateDangerZoneFieldsFn = func(_ context.Context, report store.DangerZoneReport) error {
		updated = report
		return nil
	}
	edits := make([]store.ReportEdit, 0)
	fs.insertReportEditFn = func(_ context.Context, edit store.ReportEdit) error {
		edits = append(edits, edit)
		return nil
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/5", `{"description":"new text","latitude":3.5}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if updated.Description != "new text" || updated.Latitude != 3.5 {
		t.Fatalf("unexpected update %+v", updated)
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 edit rows, got %d", len(edits))
	}
}

func TestEditReportNoChanges(t *testing.T) {
	fs := &fakeStore{
		getDangerZoneFn: func(_ context.Context, id int64) (store.DangerZoneReport, error) {
			return store.DangerZoneReport{ID: id, ApprovalStatus: "pending"}, nil
		},
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodPut, "/api/admin/reports/5", `{}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestModerationQueuePassesFilter(t *testing.T) {
	var got store.QueueFilter
	fs := &fakeStore{
		moderationQueueFn: func(_ context.Context, filter store.QueueFilter) ([]store.QueueRow, store.StatusCounts, error) {
			got = filter
			return []store.QueueRow{}, store.StatusCounts{Pending: 3}, nil
		},
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodGet, "/api/admin/moderation-queue?status=pending&source=extension&flagged=true&sort=created_at&order=asc&page=2&limit=25", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got.Status != "pending" || got.Source != "extension" || !got.Flagged {
		t.Fatalf("unexpected filter %+v", got)
	}
	if got.SortKey != "created_at" || got.SortDir != "asc" {
		t.Fatalf("expected sort created_at asc, got %q %q", got.SortKey, got.SortDir)
	}

	var payload QueueResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.Counts.Pending != 3 {
		t.Fatalf("expected pending count 3, got %d", payload.Counts.Pending)
	}
}

func TestDeleteReportWritesAuditSnapshot(t *testing.T) {
	fs := &fakeStore{
		getDangerZoneFn: func(_ context.Context, id int64) (store.DangerZoneReport, error) {
			return store.DangerZoneReport{ID: id, Description: "trap", ReporterID: "u_reporter"}, nil
		},
		deleteDangerZoneFn: func(_ context.Context, id int64) (store.DeletedSnapshot, error) {
			return store.DeletedSnapshot{DescriptionPrefix: "trap", ReporterID: "u_reporter"}, nil
		},
	}
	var audited store.AuditLogEntry
	fs.insertAuditLogFn = func(_ context.Context, entry store.AuditLogEntry) error {
		audited = entry
		return nil
	}
	server, svc := newTestServer(fs, newFakeUserStore())

	req := adminRequest(t, server, svc, http.MethodDelete, "/api/admin/reports/5", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if audited.ActionType != "delete" {
		t.Fatalf("expected delete audit entry, got %+v", audited)
	}
	if audited.Details["description"] != "trap" {
		t.Fatalf("expected snapshot in audit details, got %+v", audited.Details)
	}
}
