package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	AvatarURL             string
	PasswordHash          string
	Role                  string
	Domain                string
	RoleRecordID          *string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RoleRecord is a named permission bundle that can be attached to users to
// extend their coarse role.
type RoleRecord struct {
	ID          string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Domain maps a domain name to its lead and member emails. The name is the
// document key.
type Domain struct {
	Name      string
	Lead      string
	Members   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Task struct {
	ID             string
	Title          string
	Description    string
	Domain         string
	DueDate        *time.Time
	AttachmentKey  string
	Assignees      []string
	AssignedToLead bool
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Submission is one piece of submitted work on a task. QualityScore zero
// means "not yet rated" and is excluded from averages.
type Submission struct {
	ID           string
	TaskID       string
	Author       string
	ContentKey   string
	Note         string
	QualityScore int
	RatedBy      string
	SubmittedAt  time.Time
	RatedAt      *time.Time
}

type Suggestion struct {
	ID          string
	Title       string
	Description string
	Category    string
	Priority    string
	Status      string
	SubmittedBy *string
	Anonymous   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SuggestionResponse struct {
	ID           string
	SuggestionID string
	Author       string
	Text         string
	CreatedAt    time.Time
}

type Announcement struct {
	ID            string
	Title         string
	Content       string
	AttachmentKey string
	Audience      string
	Status        string
	Author        string
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocItem is a documentation tree node: either a folder or a file. Files
// carry a storage key and MIME type. An empty ViewableBy list means visible
// to everyone (backward-compatibility default).
type DocItem struct {
	ID         string
	Name       string
	Kind       string
	ParentID   *string
	StorageKey string
	MimeType   string
	ViewableBy []string
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LogEntry is an immutable activity record. Never mutated or deleted by the
// application.
type LogEntry struct {
	ID         int64
	Message    string
	Category   string
	ActorEmail string
	ActorName  string
	ActorRole  string
	CreatedAt  time.Time
}

// LogPage is one keyset-paginated window of the activity log, newest first.
type LogPage struct {
	Entries    []LogEntry
	NextCursor string
	HasMore    bool
}
