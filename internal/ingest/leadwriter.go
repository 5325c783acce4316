package ingest

import (
	"context"
	"errors"
	"strings"

	"crm_ingest_backend/platform/logger"

	"github.com/google/uuid"
)

// LeadColumn is one column in a lead insert. Required columns survive every
// retry; optional ones may be dropped when the deployed schema lacks them.
type LeadColumn struct {
	Name     string
	Value    any
	Required bool
}

// LeadDraft carries everything the writer needs to persist one lead.
type LeadDraft struct {
	Title        string
	PersonID     uuid.UUID
	PropertyID   *uuid.UUID
	PhoneE164    *string
	RawPhone     string
	Email        *string
	LeadSourceID *uuid.UUID
	PipelineID   *uuid.UUID
	StageID      *uuid.UUID
	Notes        string
	OwnerUserID  *uuid.UUID
}

// LeadWriter persists leads with a classified retry matrix instead of blind
// retries. The deployed lead table is allowed to drift (optional columns
// added or removed) without turning every insert into an incident.
type LeadWriter struct {
	store LeadStore
	log   *logger.Logger
}

// NewLeadWriter creates a lead writer.
func NewLeadWriter(store LeadStore, log *logger.Logger) *LeadWriter {
	return &LeadWriter{store: store, log: log}
}

func (d LeadDraft) columns() []LeadColumn {
	owner := any(nil)
	if d.OwnerUserID != nil {
		owner = *d.OwnerUserID
	}
	cols := []LeadColumn{
		{Name: "title", Value: d.Title, Required: true},
		{Name: "status", Value: "open", Required: true},
		{Name: "person_id", Value: d.PersonID, Required: true},
		{Name: "notes", Value: d.Notes},
		{Name: "pipeline_id", Value: ptrValue(d.PipelineID)},
		{Name: "stage_id", Value: ptrValue(d.StageID)},
		{Name: "property_id", Value: ptrValue(d.PropertyID)},
		{Name: "phone_e164", Value: strPtrValue(d.PhoneE164)},
		{Name: "email", Value: strPtrValue(d.Email)},
		{Name: "lead_source_id", Value: ptrValue(d.LeadSourceID)},
		{Name: "created_by", Value: owner},
		{Name: "assigned_to", Value: owner},
		{Name: "owner_user_id", Value: owner},
		{Name: "allow_duplicate_phone", Value: false},
	}
	return cols
}

// Insert writes the lead, degrading the payload in response to classified
// errors:
//
//   - missing optional column: drop that column and retry
//   - unique violation on the phone column: the number already belongs to
//     another lead; retry with a null phone and the raw number preserved in
//     the notes
//   - anything else: fatal for this event
//
// Required columns (title, status, person linkage) are never dropped; a
// schema-missing error naming one of them is fatal.
func (w *LeadWriter) Insert(ctx context.Context, draft LeadDraft) (uuid.UUID, error) {
	cols := draft.columns()
	phoneRetried := false

	// One retry per droppable column plus one for the phone conflict.
	for attempt := 0; attempt <= len(cols); attempt++ {
		id, err := w.store.InsertLeadRow(ctx, cols)
		if err == nil {
			return id, nil
		}

		var schemaErr *SchemaMissingError
		if errors.As(err, &schemaErr) {
			dropped, ok := dropColumn(cols, schemaErr.Object)
			if !ok {
				return uuid.Nil, err
			}
			w.log.Warn("lead insert: dropping column missing from schema", "column", schemaErr.Object)
			cols = dropped
			continue
		}

		if conflict, ok := AsConflict(err); ok && conflict.Constraint == ConstraintLeadPhone && !phoneRetried {
			w.log.Warn("lead insert: phone already in use, retrying without it", "constraint", conflict.Constraint)
			cols = nullPhoneIntoNotes(cols, draft.RawPhone)
			phoneRetried = true
			continue
		}

		return uuid.Nil, err
	}

	return uuid.Nil, errors.New("lead insert: retry attempts exhausted")
}

// dropColumn removes the named optional column. Required columns cannot be
// dropped; ok is false when the name is required or unknown.
func dropColumn(cols []LeadColumn, name string) ([]LeadColumn, bool) {
	for i, col := range cols {
		if col.Name != name {
			continue
		}
		if col.Required {
			return nil, false
		}
		out := make([]LeadColumn, 0, len(cols)-1)
		out = append(out, cols[:i]...)
		out = append(out, cols[i+1:]...)
		return out, true
	}
	return nil, false
}

// nullPhoneIntoNotes clears phone_e164 and appends the raw phone to the
// notes column so the number is preserved without violating uniqueness.
func nullPhoneIntoNotes(cols []LeadColumn, rawPhone string) []LeadColumn {
	out := make([]LeadColumn, len(cols))
	copy(out, cols)
	for i := range out {
		switch out[i].Name {
		case "phone_e164":
			out[i].Value = nil
		case "notes":
			notes, _ := out[i].Value.(string)
			if rawPhone != "" {
				suffix := "Telefone informado: " + rawPhone
				if strings.TrimSpace(notes) == "" {
					notes = suffix
				} else {
					notes = notes + "\n" + suffix
				}
			}
			out[i].Value = notes
		}
	}
	return out
}

func ptrValue(p *uuid.UUID) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtrValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
