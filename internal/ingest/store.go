package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// The store surfaces exactly two recoverable failure classes to the
// pipeline; everything else is opaque and fatal for the event being
// processed.

// SchemaMissingError reports a write or read that failed because a column
// or relation does not exist in the deployed schema. The pipeline treats
// these as "degrade and continue": drop the field, or treat a lookup as
// not-found. The schema is allowed to evolve independently of this
// service's deployment; it is tolerated here, never created.
type SchemaMissingError struct {
	Object string // column or relation name when the driver reports one
}

func (e *SchemaMissingError) Error() string {
	if e.Object == "" {
		return "schema object missing"
	}
	return fmt.Sprintf("schema object missing: %s", e.Object)
}

// ConflictError reports a unique-constraint violation. The constraint name
// tells the pipeline which dedup/idempotency rule fired.
type ConflictError struct {
	Constraint string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unique constraint violated: %s", e.Constraint)
}

// IsSchemaMissing reports whether err is (or wraps) a SchemaMissingError.
func IsSchemaMissing(err error) bool {
	var se *SchemaMissingError
	return errors.As(err, &se)
}

// AsConflict extracts a ConflictError when err is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Constraint names from migrations/. The lead writer and ledger key their
// recovery paths off these.
const (
	ConstraintEventIdempotency = "webhook_events_provider_idempotency_key_key"
	ConstraintLinkExternalID   = "portal_lead_links_provider_external_lead_id_key"
	ConstraintLinkFingerprint  = "portal_lead_links_provider_lead_fingerprint_key"
	ConstraintLeadPhone        = "leads_phone_e164_key"
)

// EventStore is the event ledger: one row per webhook delivery, unique per
// (provider, idempotency key).
type EventStore interface {
	// InsertEvent records a delivery. When the idempotency key already has
	// a row, it returns that original row with duplicate=true and leaves it
	// untouched.
	InsertEvent(ctx context.Context, event InboundEvent) (InboundEvent, bool, error)
	MarkEventProcessed(ctx context.Context, id uuid.UUID, result ProcessingResult) error
	MarkEventIgnored(ctx context.Context, id uuid.UUID) error
	MarkEventError(ctx context.Context, id uuid.UUID, message string) error
	GetEvent(ctx context.Context, id uuid.UUID) (InboundEvent, error)
	ListEvents(ctx context.Context, provider string, status EventStatus, limit, offset int) ([]InboundEvent, error)
}

// IntegrationStore reads and updates per-provider configuration.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, provider string) (Integration, error)
	ListIntegrations(ctx context.Context) ([]Integration, error)
	SetIntegrationEnabled(ctx context.Context, provider string, enabled bool) error
}

// LinkStore manages portal lead links.
type LinkStore interface {
	FindLinkByExternalLeadID(ctx context.Context, provider, externalLeadID string) (LeadLink, bool, error)
	FindLinkByFingerprint(ctx context.Context, provider, fingerprint string) (LeadLink, bool, error)
	// InsertLink returns a ConflictError when another delivery won the race
	// for the same external lead id or fingerprint.
	InsertLink(ctx context.Context, link LeadLink) (LeadLink, error)
	UpdateLinkRefs(ctx context.Context, id uuid.UUID, externalLeadID, conversationID *string, propertyID *uuid.UUID) error
}

// PersonStore resolves and creates CRM contacts.
type PersonStore interface {
	FindPersonByCPF(ctx context.Context, cpfDigits string) (uuid.UUID, bool, error)
	FindPersonByCNPJ(ctx context.Context, cnpjDigits string) (uuid.UUID, bool, error)
	FindPersonByPhone(ctx context.Context, phoneE164 string) (uuid.UUID, bool, error)
	FindPersonByEmail(ctx context.Context, email string) (uuid.UUID, bool, error)
	InsertPerson(ctx context.Context, person NewPerson, withAttribution bool) (uuid.UUID, error)
}

// PropertyStore provides read-only listing lookups.
type PropertyStore interface {
	GetPropertyByID(ctx context.Context, id uuid.UUID) (PropertyMatch, bool, error)
	FindPropertyByListing(ctx context.Context, provider, externalListingID string) (PropertyMatch, bool, error)
}

// ReferenceStore provides read-only CRM reference data.
type ReferenceStore interface {
	FindLeadSourceBySlug(ctx context.Context, slug string) (*uuid.UUID, error)
	// FindDefaultPipeline returns the default pipeline and its first stage;
	// both nil when no default is configured.
	FindDefaultPipeline(ctx context.Context) (pipelineID, stageID *uuid.UUID, err error)
}

// LeadStore persists leads and their audit trail.
type LeadStore interface {
	// InsertLeadRow builds an insert from the ordered column list. Failures
	// are classified: SchemaMissingError names the offending column,
	// ConflictError names the violated constraint.
	InsertLeadRow(ctx context.Context, columns []LeadColumn) (uuid.UUID, error)
	DeleteLead(ctx context.Context, id uuid.UUID) error
	AppendAuditLog(ctx context.Context, entry LeadAuditEntry) error
}

// Store is the full persistence surface the pipeline needs.
type Store interface {
	EventStore
	IntegrationStore
	LinkStore
	PersonStore
	PropertyStore
	ReferenceStore
	LeadStore
}
