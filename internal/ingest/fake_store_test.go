package ingest

import (
	"context"
	"time"

	"crm_ingest_backend/platform/apperr"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store that enforces the same unique constraints
// the migrations declare, so pipeline tests exercise the real recovery paths.
type fakeStore struct {
	events       map[uuid.UUID]*InboundEvent
	eventsByKey  map[string]uuid.UUID // provider + "\x00" + idempotency key
	integrations map[string]Integration
	links        map[uuid.UUID]*LeadLink
	leads        map[uuid.UUID]map[string]any
	people       *fakePersonStore
	properties   map[string]PropertyMatch // provider + "\x00" + external listing id
	leadSources  map[string]uuid.UUID
	pipelineID   *uuid.UUID
	stageID      *uuid.UUID
	auditLog     []LeadAuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:       map[uuid.UUID]*InboundEvent{},
		eventsByKey:  map[string]uuid.UUID{},
		integrations: map[string]Integration{},
		links:        map[uuid.UUID]*LeadLink{},
		leads:        map[uuid.UUID]map[string]any{},
		people:       &fakePersonStore{},
		properties:   map[string]PropertyMatch{},
		leadSources:  map[string]uuid.UUID{},
	}
}

func eventKey(provider, idempotencyKey string) string {
	return provider + "\x00" + idempotencyKey
}

// --- EventStore ---

func (f *fakeStore) InsertEvent(_ context.Context, event InboundEvent) (InboundEvent, bool, error) {
	key := eventKey(event.Provider, event.IdempotencyKey)
	if existingID, ok := f.eventsByKey[key]; ok {
		return *f.events[existingID], true, nil
	}
	stored := event
	stored.Status = StatusReceived
	f.events[stored.ID] = &stored
	f.eventsByKey[key] = stored.ID
	return stored, false, nil
}

func (f *fakeStore) markTerminal(id uuid.UUID, status EventStatus, result *ProcessingResult, errMsg *string) error {
	event, ok := f.events[id]
	if !ok {
		return apperr.NotFound("event not found")
	}
	if event.Status != StatusReceived {
		return apperr.Conflict("event already finalized")
	}
	event.Status = status
	event.ProcessingResult = result
	event.ErrorMessage = errMsg
	now := time.Now().UTC()
	event.ProcessedAt = &now
	return nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, id uuid.UUID, result ProcessingResult) error {
	return f.markTerminal(id, StatusProcessed, &result, nil)
}

func (f *fakeStore) MarkEventIgnored(_ context.Context, id uuid.UUID) error {
	return f.markTerminal(id, StatusIgnored, nil, nil)
}

func (f *fakeStore) MarkEventError(_ context.Context, id uuid.UUID, message string) error {
	return f.markTerminal(id, StatusError, nil, &message)
}

func (f *fakeStore) GetEvent(_ context.Context, id uuid.UUID) (InboundEvent, error) {
	event, ok := f.events[id]
	if !ok {
		return InboundEvent{}, apperr.NotFound("event not found")
	}
	return *event, nil
}

func (f *fakeStore) ListEvents(_ context.Context, provider string, status EventStatus, limit, offset int) ([]InboundEvent, error) {
	var out []InboundEvent
	for _, event := range f.events {
		if provider != "" && event.Provider != provider {
			continue
		}
		if status != "" && event.Status != status {
			continue
		}
		out = append(out, *event)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- IntegrationStore ---

func (f *fakeStore) GetIntegration(_ context.Context, provider string) (Integration, error) {
	integration, ok := f.integrations[provider]
	if !ok {
		return Integration{}, apperr.NotFound("unknown provider")
	}
	return integration, nil
}

func (f *fakeStore) ListIntegrations(_ context.Context) ([]Integration, error) {
	out := make([]Integration, 0, len(f.integrations))
	for _, integration := range f.integrations {
		out = append(out, integration)
	}
	return out, nil
}

func (f *fakeStore) SetIntegrationEnabled(_ context.Context, provider string, enabled bool) error {
	integration, ok := f.integrations[provider]
	if !ok {
		return apperr.NotFound("unknown provider")
	}
	integration.Enabled = enabled
	f.integrations[provider] = integration
	return nil
}

// --- LinkStore ---

func (f *fakeStore) FindLinkByExternalLeadID(_ context.Context, provider, externalLeadID string) (LeadLink, bool, error) {
	for _, link := range f.links {
		if link.Provider == provider && link.ExternalLeadID != nil && *link.ExternalLeadID == externalLeadID {
			return *link, true, nil
		}
	}
	return LeadLink{}, false, nil
}

func (f *fakeStore) FindLinkByFingerprint(_ context.Context, provider, fingerprint string) (LeadLink, bool, error) {
	for _, link := range f.links {
		if link.Provider == provider && link.Fingerprint == fingerprint {
			return *link, true, nil
		}
	}
	return LeadLink{}, false, nil
}

func (f *fakeStore) InsertLink(_ context.Context, link LeadLink) (LeadLink, error) {
	for _, existing := range f.links {
		if existing.Provider != link.Provider {
			continue
		}
		if existing.Fingerprint == link.Fingerprint {
			return LeadLink{}, &ConflictError{Constraint: ConstraintLinkFingerprint}
		}
		if existing.ExternalLeadID != nil && link.ExternalLeadID != nil && *existing.ExternalLeadID == *link.ExternalLeadID {
			return LeadLink{}, &ConflictError{Constraint: ConstraintLinkExternalID}
		}
	}
	stored := link
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	f.links[stored.ID] = &stored
	return stored, nil
}

func (f *fakeStore) UpdateLinkRefs(_ context.Context, id uuid.UUID, externalLeadID, conversationID *string, propertyID *uuid.UUID) error {
	link, ok := f.links[id]
	if !ok {
		return apperr.NotFound("link not found")
	}
	if externalLeadID != nil {
		link.ExternalLeadID = externalLeadID
	}
	if conversationID != nil {
		link.ExternalConversationID = conversationID
	}
	if propertyID != nil {
		link.PropertyID = propertyID
	}
	link.UpdatedAt = time.Now().UTC()
	return nil
}

// --- PersonStore (delegated so person tests and pipeline tests share one fake) ---

func (f *fakeStore) FindPersonByCPF(ctx context.Context, cpf string) (uuid.UUID, bool, error) {
	return f.people.FindPersonByCPF(ctx, cpf)
}

func (f *fakeStore) FindPersonByCNPJ(ctx context.Context, cnpj string) (uuid.UUID, bool, error) {
	return f.people.FindPersonByCNPJ(ctx, cnpj)
}

func (f *fakeStore) FindPersonByPhone(ctx context.Context, phone string) (uuid.UUID, bool, error) {
	return f.people.FindPersonByPhone(ctx, phone)
}

func (f *fakeStore) FindPersonByEmail(ctx context.Context, email string) (uuid.UUID, bool, error) {
	return f.people.FindPersonByEmail(ctx, email)
}

func (f *fakeStore) InsertPerson(ctx context.Context, person NewPerson, withAttribution bool) (uuid.UUID, error) {
	id, err := f.people.InsertPerson(ctx, person, withAttribution)
	if err != nil {
		return uuid.Nil, err
	}
	// Make the new person findable by later deliveries.
	if person.PhoneE164 != nil {
		if f.people.byPhone == nil {
			f.people.byPhone = map[string]uuid.UUID{}
		}
		f.people.byPhone[*person.PhoneE164] = id
	}
	if person.Email != nil {
		if f.people.byEmail == nil {
			f.people.byEmail = map[string]uuid.UUID{}
		}
		f.people.byEmail[*person.Email] = id
	}
	return id, nil
}

// --- PropertyStore ---

func (f *fakeStore) GetPropertyByID(_ context.Context, id uuid.UUID) (PropertyMatch, bool, error) {
	for _, match := range f.properties {
		if match.PropertyID != nil && *match.PropertyID == id {
			return match, true, nil
		}
	}
	return PropertyMatch{}, false, nil
}

func (f *fakeStore) FindPropertyByListing(_ context.Context, provider, externalListingID string) (PropertyMatch, bool, error) {
	match, ok := f.properties[provider+"\x00"+externalListingID]
	return match, ok, nil
}

// --- ReferenceStore ---

func (f *fakeStore) FindLeadSourceBySlug(_ context.Context, slug string) (*uuid.UUID, error) {
	if id, ok := f.leadSources[slug]; ok {
		return &id, nil
	}
	return nil, nil
}

func (f *fakeStore) FindDefaultPipeline(context.Context) (*uuid.UUID, *uuid.UUID, error) {
	return f.pipelineID, f.stageID, nil
}

// --- LeadStore ---

func (f *fakeStore) InsertLeadRow(_ context.Context, columns []LeadColumn) (uuid.UUID, error) {
	row := make(map[string]any, len(columns))
	for _, col := range columns {
		row[col.Name] = col.Value
	}
	if phone, ok := row["phone_e164"].(string); ok && phone != "" {
		for _, existing := range f.leads {
			if existingPhone, ok := existing["phone_e164"].(string); ok && existingPhone == phone {
				return uuid.Nil, &ConflictError{Constraint: ConstraintLeadPhone}
			}
		}
	}
	id := uuid.New()
	f.leads[id] = row
	return id, nil
}

func (f *fakeStore) DeleteLead(_ context.Context, id uuid.UUID) error {
	delete(f.leads, id)
	return nil
}

func (f *fakeStore) AppendAuditLog(_ context.Context, entry LeadAuditEntry) error {
	f.auditLog = append(f.auditLog, entry)
	return nil
}

var _ Store = (*fakeStore)(nil)
