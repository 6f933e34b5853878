package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trappertracker/api/internal/account"
	"trappertracker/api/internal/auth"
	"trappertracker/api/internal/config"
	"trappertracker/api/internal/email"
	"trappertracker/api/internal/photo"
	"trappertracker/api/internal/rbac"
	"trappertracker/api/internal/search"
	"trappertracker/api/internal/store"
	"trappertracker/api/internal/util"
)

// Session is an authenticated caller, either a registered user or the
// administrator.
type Session struct {
	Token     string
	UserID    string
	Email     string
	Role      string
	Admin     bool
	JTI       string
	ExpiresAt time.Time
}

const maxDescriptionLen = 1000

// sanitizeText escapes HTML-significant characters in user free text before
// storage. html.EscapeString leaves the forward slash alone, so closing tags
// would survive it.
func sanitizeText(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "/", "&#x2F;")
}

var allowedReportTypes = map[string]struct{}{
	"dangerZone":      {},
	"lostPet":         {},
	"foundPet":        {},
	"dangerousAnimal": {},
}

type SubmitReportInput struct {
	Type        string  `json:"type"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
	SourceURL   string  `json:"sourceUrl"`
	PhotoKey    string  `json:"photoKey"`
	PetName     string  `json:"petName"`
	Species     string  `json:"species"`
	Contact     string  `json:"contact"`
	AnimalType  string  `json:"animalType"`
}

type MapDataInput struct {
	Bounds          store.MapBounds
	HasBounds       bool
	RecencyHours    int
	ShowDangerZones bool
	ShowLostPets    bool
	ShowFoundPets   bool
	ShowAnimals     bool
}

type MapDataResponse struct {
	DangerZones      []MapPoint `json:"dangerZones"`
	LostPets         []MapPoint `json:"lostPets"`
	FoundPets        []MapPoint `json:"foundPets"`
	DangerousAnimals []MapPoint `json:"dangerousAnimals"`
}

// MapPoint is the public shape of a report on the map. Reporter identity
// is never exposed here.
type MapPoint struct {
	ID          int64   `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
	PhotoKey    string  `json:"photoKey,omitempty"`
	PetName     string  `json:"petName,omitempty"`
	Species     string  `json:"species,omitempty"`
	Contact     string  `json:"contact,omitempty"`
	AnimalType  string  `json:"animalType,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

type dataStore interface {
	InsertDangerZone(ctx context.Context, report store.DangerZoneReport) (int64, error)
	InsertPetReport(ctx context.Context, report store.PetReport) (int64, error)
	InsertAnimalReport(ctx context.Context, report store.AnimalReport) (int64, error)
	GetDangerZone(ctx context.Context, reportID int64) (store.DangerZoneReport, error)
	MapData(ctx context.Context, filter store.MapFilter) ([]store.DangerZoneReport, []store.PetReport, []store.AnimalReport, error)
	FlagDangerZone(ctx context.Context, reportID int64) (bool, error)

	CreatePendingSubmission(ctx context.Context, sub store.PendingSubmission) (int64, error)
	GetPendingSubmission(ctx context.Context, id int64) (store.PendingSubmission, error)
	ListPendingSubmissions(ctx context.Context, reporterID string) ([]store.PendingSubmission, error)
	MarkPendingSubmissionCompleted(ctx context.Context, id int64) error
	DeletePendingSubmission(ctx context.Context, id int64, reporterID string) (bool, error)

	ModerationQueue(ctx context.Context, filter store.QueueFilter) ([]store.QueueRow, store.StatusCounts, error)
	ApproveDangerZone(ctx context.Context, reportID int64, reviewerID string) (string, error)
	RejectDangerZone(ctx context.Context, reportID int64, reviewerID, reason string) (string, error)
	ReopenDangerZone(ctx context.Context, reportID int64) (bool, error)
	DeleteDangerZone(ctx context.Context, reportID int64) (store.DeletedSnapshot, error)
	UpdateDangerZoneFields(ctx context.Context, report store.DangerZoneReport) error
	InsertReportEdit(ctx context.Context, edit store.ReportEdit) error
	ListReportEdits(ctx context.Context, reportID int64) ([]store.ReportEdit, error)
	InsertAuditLog(ctx context.Context, entry store.AuditLogEntry) error
	ListAuditLog(ctx context.Context, page, limit int) ([]store.AuditLogEntry, error)
	AdjustReviewCounts(ctx context.Context, userID string, approvedDelta, rejectedDelta int) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	Ping(ctx context.Context) error
}

// revocationStore holds the session revocation list. Redis when configured,
// otherwise the revoked_access_tokens table.
type revocationStore interface {
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// loginThrottle counts failed login attempts per client so repeated bad
// passwords lock the client out independently of the request rate limiter.
type loginThrottle interface {
	RecordFailedLogin(ctx context.Context, key string, window time.Duration) (int64, error)
	ClearFailedLogins(ctx context.Context, key string) error
}

const (
	maxFailedLogins   = 10
	failedLoginWindow = 15 * time.Minute
)

type Service struct {
	cfg         config.Config
	store       dataStore
	accounts    *account.Service
	revocations revocationStore
	throttle    loginThrottle
	search      *search.Service
	photos      *photo.Service
	email       *email.Service
}

func NewService(cfg config.Config, st dataStore, accounts *account.Service, revocations revocationStore) *Service {
	return &Service{
		cfg:         cfg,
		store:       st,
		accounts:    accounts,
		revocations: revocations,
	}
}

// SetLoginThrottle attaches a failed-login counter, normally Redis backed.
func (s *Service) SetLoginThrottle(t loginThrottle) { s.throttle = t }

// SetSearch attaches the free-text search facade.
func (s *Service) SetSearch(svc *search.Service) { s.search = svc }

// SetPhotos attaches the photo object store.
func (s *Service) SetPhotos(svc *photo.Service) { s.photos = svc }

// SetEmail attaches the SMTP service.
func (s *Service) SetEmail(svc *email.Service) { s.email = svc }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Register creates an account and sends the verification email when SMTP
// is configured.
func (s *Service) Register(ctx context.Context, emailAddr, password string) (*account.RegisterResponse, error) {
	resp, err := s.accounts.Register(ctx, account.RegisterRequest{
		Email:    emailAddr,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	if s.SMTPConfigured() {
		verifyURL := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), resp.VerificationToken)
		if err := s.email.SendVerificationEmail(strings.ToLower(strings.TrimSpace(emailAddr)), verifyURL); err != nil {
			log.Printf("app: send verification email: %v", err)
		}
	}

	return resp, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.accounts.VerifyEmail(ctx, token)
}

// Login checks credentials and issues a signed session token. clientKey
// identifies the caller for the failed-login lockout and may be empty.
func (s *Service) Login(ctx context.Context, emailAddr, password, clientKey string) (Session, error) {
	user, err := s.accounts.Login(ctx, emailAddr, password)
	if err != nil {
		if s.throttle != nil && clientKey != "" && errors.Is(err, account.ErrInvalidCredentials) {
			count, terr := s.throttle.RecordFailedLogin(ctx, clientKey, failedLoginWindow)
			if terr != nil {
				log.Printf("app: record failed login for %s: %v", clientKey, terr)
			} else if count > maxFailedLogins {
				return Session{}, &DomainError{
					Status:  http.StatusTooManyRequests,
					Code:    "RATE_LIMITED",
					Message: "Too many failed attempts, try again later",
				}
			}
		}
		return Session{}, err
	}
	if s.throttle != nil && clientKey != "" {
		if err := s.throttle.ClearFailedLogins(ctx, clientKey); err != nil {
			log.Printf("app: clear failed logins for %s: %v", clientKey, err)
		}
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Sub:  user.ID,
		Role: string(rbac.Normalize(user.Role)),
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue session token: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// AdminLogin checks the environment-configured admin credentials and issues
// a token signed with the separate admin secret.
func (s *Service) AdminLogin(emailAddr, password string) (Session, error) {
	if !s.accounts.CheckAdminCredentials(emailAddr, password) {
		return Session{}, account.ErrInvalidCredentials
	}

	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AdminTTL)
	token, err := auth.IssueToken([]byte(s.cfg.AdminSecret), auth.Claims{
		Sub:   "admin",
		Role:  string(rbac.RoleAdmin),
		Admin: true,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue admin token: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    "admin",
		Email:     strings.ToLower(strings.TrimSpace(emailAddr)),
		Role:      string(rbac.RoleAdmin),
		Admin:     true,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates a user session token against the signature,
// expiry, and the revocation list, then loads the account.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}

	revoked, err := s.revocations.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("load session user: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// AdminSessionFromToken validates an admin token. User session tokens do
// not verify against the admin secret, so the two cannot be swapped.
func (s *Service) AdminSessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AdminSecret), token)
	if err != nil {
		return Session{}, err
	}
	if !claims.Admin {
		return Session{}, auth.ErrInvalidToken
	}

	revoked, err := s.revocations.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Role:      string(rbac.RoleAdmin),
		Admin:     true,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the token's JTI for its remaining lifetime. Works for
// both user and admin tokens.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		claims, err = auth.ParseToken([]byte(s.cfg.AdminSecret), token)
	}
	if err != nil {
		return err
	}
	return s.revocations.RevokeAccessToken(ctx, claims.JTI, time.Unix(claims.Exp, 0))
}

// SubmitReport validates and stores a report of any kind. Free-text fields
// are HTML-escaped before they reach the database.
func (s *Service) SubmitReport(ctx context.Context, session Session, input SubmitReportInput) (int64, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionSubmit) {
		return 0, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := validateReportInput(input); err != nil {
		return 0, err
	}

	switch input.Type {
	case "dangerZone":
		report := store.DangerZoneReport{
			Latitude:    input.Latitude,
			Longitude:   input.Longitude,
			Description: sanitizeText(strings.TrimSpace(input.Description)),
			SourceURL:   strings.TrimSpace(input.SourceURL),
			Source:      "web",
			PhotoKey:    input.PhotoKey,
			ReporterID:  session.UserID,
			SpamScore:   spamScore(input.Description),
		}
		return s.store.InsertDangerZone(ctx, report)
	case "lostPet", "foundPet":
		report := store.PetReport{
			Kind:        input.Type,
			Latitude:    input.Latitude,
			Longitude:   input.Longitude,
			Description: sanitizeText(strings.TrimSpace(input.Description)),
			PetName:     sanitizeText(strings.TrimSpace(input.PetName)),
			Species:     sanitizeText(strings.TrimSpace(input.Species)),
			Contact:     sanitizeText(strings.TrimSpace(input.Contact)),
			PhotoKey:    input.PhotoKey,
			ReporterID:  session.UserID,
		}
		return s.store.InsertPetReport(ctx, report)
	case "dangerousAnimal":
		report := store.AnimalReport{
			Latitude:    input.Latitude,
			Longitude:   input.Longitude,
			Description: sanitizeText(strings.TrimSpace(input.Description)),
			AnimalType:  sanitizeText(strings.TrimSpace(input.AnimalType)),
			PhotoKey:    input.PhotoKey,
			ReporterID:  session.UserID,
		}
		return s.store.InsertAnimalReport(ctx, report)
	}

	return 0, validationError("Unknown report type", nil)
}

func validateReportInput(input SubmitReportInput) error {
	if _, ok := allowedReportTypes[input.Type]; !ok {
		return validationError("Unknown report type", map[string]any{"type": input.Type})
	}
	if err := validateCoordinates(input.Latitude, input.Longitude); err != nil {
		return err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return validationError("Description is required", nil)
	}
	if len(description) > maxDescriptionLen {
		return validationError("Description too long", map[string]any{"max": maxDescriptionLen})
	}
	if sourceURL := strings.TrimSpace(input.SourceURL); sourceURL != "" {
		parsed, err := url.Parse(sourceURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return validationError("Source URL must be an http(s) URL", nil)
		}
	}
	if input.Type == "dangerousAnimal" && strings.TrimSpace(input.AnimalType) == "" {
		return validationError("Animal type is required", nil)
	}
	return nil
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return validationError("Latitude out of range", map[string]any{"latitude": lat})
	}
	if lon < -180 || lon > 180 {
		return validationError("Longitude out of range", map[string]any{"longitude": lon})
	}
	return nil
}

// spamScore is a cheap heuristic used to order the moderation queue. It
// never blocks a submission.
func spamScore(description string) float64 {
	score := 0.0
	lower := strings.ToLower(description)
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") {
		score += 0.4
	}
	if strings.Count(description, "!") > 3 {
		score += 0.3
	}
	letters, uppers := 0, 0
	for _, r := range description {
		if r >= 'a' && r <= 'z' {
			letters++
		}
		if r >= 'A' && r <= 'Z' {
			letters++
			uppers++
		}
	}
	if letters > 20 && float64(uppers)/float64(letters) > 0.7 {
		score += 0.3
	}
	return score
}

// MapData returns approved danger zones plus all pet and animal reports
// inside the requested view.
func (s *Service) MapData(ctx context.Context, input MapDataInput) (MapDataResponse, error) {
	filter := store.MapFilter{
		Bounds:          input.Bounds,
		ShowDangerZones: input.ShowDangerZones,
		ShowLostPets:    input.ShowLostPets,
		ShowFoundPets:   input.ShowFoundPets,
		ShowAnimals:     input.ShowAnimals,
	}
	if !input.HasBounds {
		filter.Bounds = store.MapBounds{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}
	}
	if input.RecencyHours > 0 {
		filter.Recency = time.Duration(input.RecencyHours) * time.Hour
	}

	zones, pets, animals, err := s.store.MapData(ctx, filter)
	if err != nil {
		return MapDataResponse{}, fmt.Errorf("load map data: %w", err)
	}

	resp := MapDataResponse{
		DangerZones:      make([]MapPoint, 0, len(zones)),
		LostPets:         make([]MapPoint, 0),
		FoundPets:        make([]MapPoint, 0),
		DangerousAnimals: make([]MapPoint, 0, len(animals)),
	}
	for _, z := range zones {
		resp.DangerZones = append(resp.DangerZones, MapPoint{
			ID:          z.ID,
			Latitude:    z.Latitude,
			Longitude:   z.Longitude,
			Description: z.Description,
			PhotoKey:    z.PhotoKey,
			CreatedAt:   z.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, p := range pets {
		point := MapPoint{
			ID:          p.ID,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Description: p.Description,
			PhotoKey:    p.PhotoKey,
			PetName:     p.PetName,
			Species:     p.Species,
			Contact:     p.Contact,
			CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if p.Kind == "lostPet" {
			resp.LostPets = append(resp.LostPets, point)
		} else {
			resp.FoundPets = append(resp.FoundPets, point)
		}
	}
	for _, a := range animals {
		resp.DangerousAnimals = append(resp.DangerousAnimals, MapPoint{
			ID:          a.ID,
			Latitude:    a.Latitude,
			Longitude:   a.Longitude,
			Description: a.Description,
			PhotoKey:    a.PhotoKey,
			AnimalType:  a.AnimalType,
			CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

// SearchReports runs a free-text search over approved danger zones.
func (s *Service) SearchReports(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// FlagReport increments the community flag counter on a danger zone report.
func (s *Service) FlagReport(ctx context.Context, reportID int64) error {
	found, err := s.store.FlagDangerZone(ctx, reportID)
	if err != nil {
		return fmt.Errorf("flag report: %w", err)
	}
	if !found {
		return notFoundError("Report not found")
	}
	return nil
}

// UploadPhoto streams a photo to the object store and returns its key.
func (s *Service) UploadPhoto(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if s.photos == nil {
		return "", domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage not configured", nil)
	}
	key, err := s.photos.Upload(ctx, r, size, contentType)
	if errors.Is(err, photo.ErrUnsupportedType) {
		return "", validationError("Photos must be JPEG, PNG, or WebP", nil)
	}
	if errors.Is(err, photo.ErrTooLarge) {
		return "", validationError("Photo exceeds the size limit", map[string]any{"maxBytes": photo.MaxPhotoSize})
	}
	return key, err
}

// GetPhoto opens a stored photo for streaming to the client.
func (s *Service) GetPhoto(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if s.photos == nil {
		return nil, "", notFoundError("Photo not found")
	}
	rc, contentType, err := s.photos.Get(ctx, key)
	if err != nil {
		return nil, "", notFoundError("Photo not found")
	}
	return rc, contentType, nil
}

// ExtensionSubmit records a report that arrived without coordinates. It
// stays pending until the reporter pins it on the map.
func (s *Service) ExtensionSubmit(ctx context.Context, session Session, description, sourceURL string) (int64, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return 0, validationError("Description is required", nil)
	}
	if len(description) > maxDescriptionLen {
		return 0, validationError("Description too long", map[string]any{"max": maxDescriptionLen})
	}
	if sourceURL = strings.TrimSpace(sourceURL); sourceURL != "" {
		parsed, err := url.Parse(sourceURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return 0, validationError("Source URL must be an http(s) URL", nil)
		}
	}

	return s.store.CreatePendingSubmission(ctx, store.PendingSubmission{
		Description: sanitizeText(description),
		SourceURL:   sourceURL,
		ReporterID:  session.UserID,
	})
}

// ListPendingSubmissions returns the caller's open submissions.
func (s *Service) ListPendingSubmissions(ctx context.Context, session Session) ([]store.PendingSubmission, error) {
	return s.store.ListPendingSubmissions(ctx, session.UserID)
}

// CompletePendingSubmission attaches coordinates to a pending submission
// and promotes it to a danger zone report. Only the original reporter may
// complete it.
func (s *Service) CompletePendingSubmission(ctx context.Context, session Session, id int64, lat, lon float64) (int64, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return 0, err
	}

	sub, err := s.store.GetPendingSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFoundError("Pending submission not found")
		}
		return 0, fmt.Errorf("load pending submission: %w", err)
	}
	if sub.ReporterID != session.UserID {
		return 0, notFoundError("Pending submission not found")
	}
	if sub.Completed {
		return 0, validationError("Submission already completed", nil)
	}

	reportID, err := s.store.InsertDangerZone(ctx, store.DangerZoneReport{
		Latitude:    lat,
		Longitude:   lon,
		Description: sub.Description,
		SourceURL:   sub.SourceURL,
		Source:      "extension",
		ReporterID:  sub.ReporterID,
		SpamScore:   spamScore(sub.Description),
	})
	if err != nil {
		return 0, fmt.Errorf("promote pending submission: %w", err)
	}

	if err := s.store.MarkPendingSubmissionCompleted(ctx, id); err != nil {
		return 0, fmt.Errorf("mark submission completed: %w", err)
	}
	return reportID, nil
}

// DeletePendingSubmission removes one of the caller's own submissions.
func (s *Service) DeletePendingSubmission(ctx context.Context, session Session, id int64) error {
	found, err := s.store.DeletePendingSubmission(ctx, id, session.UserID)
	if err != nil {
		return fmt.Errorf("delete pending submission: %w", err)
	}
	if !found {
		return notFoundError("Pending submission not found")
	}
	return nil
}
