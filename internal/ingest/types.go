// Package ingest implements the idempotent webhook ingestion pipeline that
// turns marketplace/portal lead notifications into CRM person and lead
// records. Duplicate deliveries, re-notifications of the same conversation,
// and schema drift in the underlying tables are all absorbed here.
package ingest

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the ledger state of an inbound webhook event.
// A stored row moves exactly once from received to a terminal state.
// StatusDuplicate is only ever a response status for a rejected delivery
// attempt; the original row is left untouched.
type EventStatus string

const (
	StatusReceived  EventStatus = "received"
	StatusDuplicate EventStatus = "duplicate"
	StatusProcessed EventStatus = "processed"
	StatusIgnored   EventStatus = "ignored"
	StatusError     EventStatus = "error"
)

// InboundEvent is one webhook delivery recorded on the event ledger.
// The payload is immutable; status is the only mutable field.
type InboundEvent struct {
	ID               uuid.UUID
	Provider         string
	ExternalEventID  *string
	IdempotencyKey   string
	EventType        string
	Payload          []byte
	Headers          map[string]string
	Status           EventStatus
	ProcessingResult *ProcessingResult
	ErrorMessage     *string
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
}

// ProcessingResult is the snapshot stored on a processed event: which
// entities were matched or created for it.
type ProcessingResult struct {
	LeadID        uuid.UUID  `json:"leadId"`
	PersonID      *uuid.UUID `json:"personId,omitempty"`
	PropertyID    *uuid.UUID `json:"propertyId,omitempty"`
	LinkID        uuid.UUID  `json:"linkId"`
	PersonCreated bool       `json:"personCreated"`
	LeadCreated   bool       `json:"leadCreated"`
}

// Integration is the per-provider configuration row: webhook auth token hash
// and the administrative enabled toggle, read per event.
type Integration struct {
	Provider    string
	DisplayName string
	TokenHash   string
	Enabled     bool
	UpdatedAt   time.Time
}

// LeadLink ties an external portal lead (by provider id or by fingerprint)
// to the CRM lead it resolved to. Once a fingerprint has a link, later
// deliveries reuse the lead and only refresh conversation/property refs.
type LeadLink struct {
	ID                     uuid.UUID
	Provider               string
	ExternalLeadID         *string
	ExternalConversationID *string
	Fingerprint            string
	LeadID                 uuid.UUID
	PropertyID             *uuid.UUID
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PropertyMatch is the outcome of resolving a payload's listing reference.
// A zero match (no PropertyID) is not an error; leads may arrive unattached.
type PropertyMatch struct {
	PropertyID  *uuid.UUID
	ExternalID  string
	OwnerUserID *uuid.UUID
	Title       string
}

// NewPerson carries the fields for a person insert.
type NewPerson struct {
	FullName       string
	PhoneE164      *string
	Email          *string
	DocumentID     *string
	OwnerProfileID *uuid.UUID
	CreatedBy      *uuid.UUID
}

// ResolutionOutcome says how a person was resolved.
type ResolutionOutcome string

const (
	OutcomeFound   ResolutionOutcome = "found"
	OutcomeCreated ResolutionOutcome = "created"
)

// Resolution is the typed result of the person resolver's strategy chain.
type Resolution struct {
	Outcome  ResolutionOutcome
	PersonID uuid.UUID
	Strategy string
}

// LeadAuditEntry is one append-only audit row for a lead mutation.
type LeadAuditEntry struct {
	LeadID  uuid.UUID
	EventID uuid.UUID
	Action  string
	Detail  map[string]any
}

// ProcessResult is what the pipeline returns to transport for one delivery.
type ProcessResult struct {
	EventID   uuid.UUID   `json:"eventId"`
	Status    EventStatus `json:"status"`
	Duplicate bool        `json:"duplicate"`
	LeadID    *uuid.UUID  `json:"leadId,omitempty"`
	PersonID  *uuid.UUID  `json:"personId,omitempty"`
}
