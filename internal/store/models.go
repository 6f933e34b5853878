package store

import "time"

type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	Role                  string
	IsVerified            bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	ApprovedCount         int
	RejectedCount         int
	CreatedAt             time.Time
}

// DangerZoneReport is the platform's primary report kind and the only one
// that passes through the moderation workflow.
type DangerZoneReport struct {
	ID              int64
	Latitude        float64
	Longitude       float64
	Description     string
	SourceURL       string
	Source          string // web | extension
	PhotoKey        string
	ReporterID      string
	ApprovalStatus  string // pending | approved | rejected
	FlagCount       int
	SpamScore       float64
	AdminNotes      string
	RejectionReason string
	ReviewerID      string
	ReviewedAt      *time.Time
	EditedAt        *time.Time
	CreatedAt       time.Time
}

// PetReport covers lost and found pet reports, discriminated by Kind.
type PetReport struct {
	ID          int64
	Kind        string // lostPet | foundPet
	Latitude    float64
	Longitude   float64
	Description string
	PetName     string
	Species     string
	Contact     string
	PhotoKey    string
	ReporterID  string
	CreatedAt   time.Time
}

type AnimalReport struct {
	ID          int64
	Latitude    float64
	Longitude   float64
	Description string
	AnimalType  string
	PhotoKey    string
	ReporterID  string
	CreatedAt   time.Time
}

// PendingSubmission is a report captured without coordinates (extension
// path), awaiting completion by its owner.
type PendingSubmission struct {
	ID          int64
	Description string
	SourceURL   string
	ReporterID  string
	Completed   bool
	CreatedAt   time.Time
}

type AuditLogEntry struct {
	ID         int64
	AdminID    string
	ActionType string
	TargetType string
	TargetID   string
	Details    map[string]any
	IP         string
	UserAgent  string
	CreatedAt  time.Time
}

type ReportEdit struct {
	ID        int64
	ReportID  int64
	EditorID  string
	Field     string
	OldValue  string
	NewValue  string
	CreatedAt time.Time
}

type QueueFilter struct {
	Status  string
	Source  string
	Flagged bool
	Search  string
	SortKey string // date | spam_score | flag_count
	SortDir string // asc | desc
	Page    int
	Limit   int
}

// QueueRow is a moderation-queue entry enriched with reporter context.
type QueueRow struct {
	DangerZoneReport
	ReporterEmail   string
	IsNewUser       bool
	PendingDuration int64 // seconds since submission
}

type StatusCounts struct {
	Pending  int
	Approved int
	Rejected int
}

type MapBounds struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

type MapFilter struct {
	Bounds          MapBounds
	Recency         time.Duration // zero means no recency cut
	ShowDangerZones bool
	ShowLostPets    bool
	ShowFoundPets   bool
	ShowAnimals     bool
}

// DeletedSnapshot records the key fields of a removed report for the audit
// trail, since the row no longer exists to inspect.
type DeletedSnapshot struct {
	ID                int64
	DescriptionPrefix string
	ReporterID        string
}
