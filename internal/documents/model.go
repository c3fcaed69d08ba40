package documents

import (
	"strings"
	"time"
)

// Type is the kind of content a Document points at.
type Type string

const (
	TypeFile Type = "FILE"
	TypeURL  Type = "URL"
)

// Status is a Document's position in the indexing lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeleted    Status = "DELETED"
)

// Audience controls who retrieval may surface the content to.
type Audience string

const (
	AudienceClient       Audience = "CLIENT"
	AudienceSocialWorker Audience = "SOCIAL_WORKER"
	AudienceBoth         Audience = "BOTH"
)

// Document is the local record of one piece of ingested content.
type Document struct {
	ID            string
	Type          Type
	Status        Status
	Audience      Audience
	Title         string
	Description   string
	FileName      string
	MimeType      string
	FileSize      int64
	SourceURL     string
	ContentSHA256 string
	StorageKey    string
	RemoteID      string
	Error         string
	InsertedAt    *time.Time
	AdminID       string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// RemoteKey is the identifier the indexing service knows this document by.
func (d Document) RemoteKey() string {
	if d.RemoteID != "" {
		return d.RemoteID
	}
	return d.ID
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Any live status may move to DELETED; DELETED is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusDeleted {
		return false
	}
	if next == StatusDeleted {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// ParseAudience accepts the audience names case-insensitively.
func ParseAudience(raw string) (Audience, bool) {
	switch a := Audience(strings.ToUpper(strings.TrimSpace(raw))); a {
	case AudienceClient, AudienceSocialWorker, AudienceBoth:
		return a, true
	}
	return "", false
}

// ParseType accepts the document type names case-insensitively.
func ParseType(raw string) (Type, bool) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(raw))); t {
	case TypeFile, TypeURL:
		return t, true
	}
	return "", false
}

// ParseStatus accepts the status names case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	Limit    int
	Audience Audience
	Type     Type
	Status   Status
}

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

// ClampLimit bounds a requested page size to 1..100, defaulting to 25.
func ClampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
