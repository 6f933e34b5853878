package app

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trappertracker/api/internal/account"
	"trappertracker/api/internal/config"
	"trappertracker/api/internal/store"
)

// fakeStore implements dataStore with overridable function fields. Methods
// without an override return zero values, or sql.ErrNoRows for lookups.
type fakeStore struct {
	insertDangerZoneFn       func(context.Context, store.DangerZoneReport) (int64, error)
	insertPetReportFn        func(context.Context, store.PetReport) (int64, error)
	insertAnimalReportFn     func(context.Context, store.AnimalReport) (int64, error)
	getDangerZoneFn          func(context.Context, int64) (store.DangerZoneReport, error)
	mapDataFn                func(context.Context, store.MapFilter) ([]store.DangerZoneReport, []store.PetReport, []store.AnimalReport, error)
	flagDangerZoneFn         func(context.Context, int64) (bool, error)
	createPendingFn          func(context.Context, store.PendingSubmission) (int64, error)
	getPendingFn             func(context.Context, int64) (store.PendingSubmission, error)
	listPendingFn            func(context.Context, string) ([]store.PendingSubmission, error)
	markPendingCompletedFn   func(context.Context, int64) error
	deletePendingFn          func(context.Context, int64, string) (bool, error)
	moderationQueueFn        func(context.Context, store.QueueFilter) ([]store.QueueRow, store.StatusCounts, error)
	approveDangerZoneFn      func(context.Context, int64, string) (string, error)
	rejectDangerZoneFn       func(context.Context, int64, string, string) (string, error)
	reopenDangerZoneFn       func(context.Context, int64) (bool, error)
	deleteDangerZoneFn       func(context.Context, int64) (store.DeletedSnapshot, error)
	updateDangerZoneFieldsFn func(context.Context, store.DangerZoneReport) error
	insertReportEditFn       func(context.Context, store.ReportEdit) error
	listReportEditsFn        func(context.Context, int64) ([]store.ReportEdit, error)
	insertAuditLogFn         func(context.Context, store.AuditLogEntry) error
	listAuditLogFn           func(context.Context, int, int) ([]store.AuditLogEntry, error)
	adjustReviewCountsFn     func(context.Context, string, int, int) error
	getUserByIDFn            func(context.Context, string) (store.User, error)
}

func (f *fakeStore) InsertDangerZone(ctx context.Context, report store.DangerZoneReport) (int64, error) {
	if f.insertDangerZoneFn != nil {
		return f.insertDangerZoneFn(ctx, report)
	}
	return 1, nil
}

func (f *fakeStore) InsertPetReport(ctx context.Context, report store.PetReport) (int64, error) {
	if f.insertPetReportFn != nil {
		return f.insertPetReportFn(ctx, report)
	}
	return 1, nil
}

func (f *fakeStore) InsertAnimalReport(ctx context.Context, report store.AnimalReport) (int64, error) {
	if f.insertAnimalReportFn != nil {
		return f.insertAnimalReportFn(ctx, report)
	}
	return 1, nil
}

func (f *fakeStore) GetDangerZone(ctx context.Context, reportID int64) (store.DangerZoneReport, error) {
	if f.getDangerZoneFn != nil {
		return f.getDangerZoneFn(ctx, reportID)
	}
	return store.DangerZoneReport{}, sql.ErrNoRows
}

func (f *fakeStore) MapData(ctx context.Context, filter store.MapFilter) ([]store.DangerZoneReport, []store.PetReport, []store.AnimalReport, error) {
	if f.mapDataFn != nil {
		return f.mapDataFn(ctx, filter)
	}
	return nil, nil, nil, nil
}

func (f *fakeStore) FlagDangerZone(ctx context.Context, reportID int64) (bool, error) {
	if f.flagDangerZoneFn != nil {
		return f.flagDangerZoneFn(ctx, reportID)
	}
	return false, nil
}

func (f *fakeStore) CreatePendingSubmission(ctx context.Context, sub store.PendingSubmission) (int64, error) {
	if f.createPendingFn != nil {
		return f.createPendingFn(ctx, sub)
	}
	return 1, nil
}

func (f *fakeStore) GetPendingSubmission(ctx context.Context, id int64) (store.PendingSubmission, error) {
	if f.getPendingFn != nil {
		return f.getPendingFn(ctx, id)
	}
	return store.PendingSubmission{}, sql.ErrNoRows
}

func (f *fakeStore) ListPendingSubmissions(ctx context.Context, reporterID string) ([]store.PendingSubmission, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx, reporterID)
	}
	return nil, nil
}

func (f *fakeStore) MarkPendingSubmissionCompleted(ctx context.Context, id int64) error {
	if f.markPendingCompletedFn != nil {
		return f.markPendingCompletedFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) DeletePendingSubmission(ctx context.Context, id int64, reporterID string) (bool, error) {
	if f.deletePendingFn != nil {
		return f.deletePendingFn(ctx, id, reporterID)
	}
	return false, nil
}

func (f *fakeStore) ModerationQueue(ctx context.Context, filter store.QueueFilter) ([]store.QueueRow, store.StatusCounts, error) {
	if f.moderationQueueFn != nil {
		return f.moderationQueueFn(ctx, filter)
	}
	return nil, store.StatusCounts{}, nil
}

func (f *fakeStore) ApproveDangerZone(ctx context.Context, reportID int64, reviewerID string) (string, error) {
	if f.approveDangerZoneFn != nil {
		return f.approveDangerZoneFn(ctx, reportID, reviewerID)
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) RejectDangerZone(ctx context.Context, reportID int64, reviewerID, reason string) (string, error) {
	if f.rejectDangerZoneFn != nil {
		return f.rejectDangerZoneFn(ctx, reportID, reviewerID, reason)
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) ReopenDangerZone(ctx context.Context, reportID int64) (bool, error) {
	if f.reopenDangerZoneFn != nil {
		return f.reopenDangerZoneFn(ctx, reportID)
	}
	return false, nil
}

func (f *fakeStore) DeleteDangerZone(ctx context.Context, reportID int64) (store.DeletedSnapshot, error) {
	if f.deleteDangerZoneFn != nil {
		return f.deleteDangerZoneFn(ctx, reportID)
	}
	return store.DeletedSnapshot{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateDangerZoneFields(ctx context.Context, report store.DangerZoneReport) error {
	if f.updateDangerZoneFieldsFn != nil {
		return f.updateDangerZoneFieldsFn(ctx, report)
	}
	return nil
}

func (f *fakeStore) InsertReportEdit(ctx context.Context, edit store.ReportEdit) error {
	if f.insertReportEditFn != nil {
		return f.insertReportEditFn(ctx, edit)
	}
	return nil
}

func (f *fakeStore) ListReportEdits(ctx context.Context, reportID int64) ([]store.ReportEdit, error) {
	if f.listReportEditsFn != nil {
		return f.listReportEditsFn(ctx, reportID)
	}
	return nil, nil
}

func (f *fakeStore) InsertAuditLog(ctx context.Context, entry store.AuditLogEntry) error {
	if f.insertAuditLogFn != nil {
		return f.insertAuditLogFn(ctx, entry)
	}
	return nil
}

func (f *fakeStore) ListAuditLog(ctx context.Context, page, limit int) ([]store.AuditLogEntry, error) {
	if f.listAuditLogFn != nil {
		return f.listAuditLogFn(ctx, page, limit)
	}
	return nil, nil
}

func (f *fakeStore) AdjustReviewCounts(ctx context.Context, userID string, approvedDelta, rejectedDelta int) error {
	if f.adjustReviewCountsFn != nil {
		return f.adjustReviewCountsFn(ctx, userID, approvedDelta, rejectedDelta)
	}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

// memRevocations is an in-memory revocation list.
type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: make(map[string]time.Time)}
}

func (m *memRevocations) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memRevocations) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

// fakeUserStore backs the account service in handler tests.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]store.User // keyed by lowercase email
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) addUser(email, password string) store.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := store.User{
		ID:           "u_" + email,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "user",
		IsVerified:   true,
	}
	f.mu.Lock()
	f.users[email] = user
	f.mu.Unlock()
	return user
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[user.Email]; exists {
		return store.ErrDuplicateEmail
	}
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	return nil
}

func testConfig() config.Config {
	return config.Config{
		SessionSecret: "test-session-secret",
		AdminSecret:   "test-admin-secret",
		CSRFSecret:    "test-csrf-secret",
		SessionTTL:    time.Hour,
		AdminTTL:      time.Hour,
		CORSOrigin:    "*",
		StaticDir:     "testdata",
	}
}

// newTestServer wires a handler around fakes. The admin account is
// admin@example.com / swordfish.
func newTestServer(fs *fakeStore, us *fakeUserStore) (*HTTPServer, *Service) {
	adminHash, _ := bcrypt.GenerateFromPassword([]byte("swordfish"), bcrypt.MinCost)
	accounts := account.NewService(us, "admin@example.com", string(adminHash))
	svc := NewService(testConfig(), fs, accounts, newMemRevocations())
	server := NewHTTPServer(svc, testConfig(), nil)
	return server, svc
}
