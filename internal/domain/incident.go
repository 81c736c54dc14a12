package domain

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus tracks the lifecycle of an incident.
type IncidentStatus string

const (
	StatusOpen    IncidentStatus = "O"
	StatusBlocked IncidentStatus = "B"
	StatusClosed  IncidentStatus = "C"
)

// Incident is the core tracking entity.
type Incident struct {
	ID                     uuid.UUID      `json:"id"`
	Date                   time.Time      `json:"date"`
	Subject                string         `json:"subject"`
	Description            string         `json:"description"`
	Category               string         `json:"category"`
	Status                 IncidentStatus `json:"status"`
	Severity               int            `json:"severity"`
	IsIncident             bool           `json:"is_incident"`
	Confidential           bool           `json:"confidential"`
	OpenedBy               string         `json:"opened_by"`
	ConcernedBusinessLines []string       `json:"concerned_business_lines"`
	// MainBusinessLines holds the top-level ancestors of the concerned
	// lines, refreshed after every create/update.
	MainBusinessLines []string  `json:"main_business_lines"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IncidentFilter holds field-based query parameters for listing incidents.
type IncidentFilter struct {
	ID           *uuid.UUID
	Category     string
	Subject      string
	Description  string
	BusinessLine string
	Status       IncidentStatus
	HideClosed   bool
	Limit        int
	Offset       int
}

// Comment is an action log entry attached to an incident.
type Comment struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident"`
	Comment    string    `json:"comment"`
	Action     string    `json:"action"`
	OpenedBy   string    `json:"opened_by"`
	Date       time.Time `json:"date"`
}

// Artifact is an observable (ip, hostname, hash...) linked to incidents.
type Artifact struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	Value     string      `json:"value"`
	Incidents []uuid.UUID `json:"incidents"`
}

// ArtifactFilter holds query parameters for listing artifacts.
type ArtifactFilter struct {
	Value      string
	IncidentID *uuid.UUID
	Limit      int
	Offset     int
}

// Label is a categorisation value belonging to a label group
// (actor, plan, detection...).
type Label struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Group string    `json:"group"`
}

// Attribute is a typed key/value measurement attached to an incident.
type Attribute struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident"`
	Name       string    `json:"name"`
	Value      string    `json:"value"`
}

// BusinessLine is a node in the organisation tree incidents are scoped to.
type BusinessLine struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Parent string    `json:"parent,omitempty"`
}

// IncidentCategory classifies incidents (phishing, malware...).
type IncidentCategory struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// IncidentTemplate pre-fills the incident creation form; the available
// template names are exposed to the presentation layer after sign-in.
type IncidentTemplate struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
}

// File is an evidence attachment on an incident.
type File struct {
	ID          uuid.UUID `json:"id"`
	IncidentID  uuid.UUID `json:"incident"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     []byte    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
