package ingest

import (
	"context"
	"strings"
	"time"

	"crm_ingest_backend/platform/apperr"
	"crm_ingest_backend/platform/config"
	"crm_ingest_backend/platform/logger"

	"github.com/google/uuid"
)

// Service orchestrates the ingestion pipeline for one webhook delivery:
// normalize, resolve property, build keys, record on the ledger, then (for
// new events) resolve the person, write the lead, and link it back to the
// portal identity. Every delivery is an independent unit of work; all
// cross-delivery coordination lives in the store's unique constraints.
type Service struct {
	store     Store
	extractor *Extractor
	people    *PersonResolver
	props     *PropertyResolver
	leads     *LeadWriter
	log       *logger.Logger
}

// NewService creates the pipeline service.
func NewService(store Store, cfg config.IngestConfig, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		extractor: NewExtractor(cfg.GetDefaultPhoneRegion()),
		people:    NewPersonResolver(store, log),
		props:     NewPropertyResolver(store, log),
		leads:     NewLeadWriter(store, log),
		log:       log,
	}
}

// Process ingests one delivery for an authenticated provider integration.
//
// The ledger insert is the idempotency gate: a duplicate delivery is
// answered with the original event's outcome and performs no side effects.
// A disabled integration still gets its ledger row (then ignored) so that
// replays after re-enabling dedupe against the same key. Fatal errors are
// recorded on the event row and surfaced as typed internal errors; they
// never escape as panics or affect other deliveries.
func (s *Service) Process(ctx context.Context, integration Integration, body []byte, headers map[string]string) (ProcessResult, error) {
	provider := integration.Provider
	log := s.log.WithProvider(provider)

	payload, err := ParseValue(body)
	if err != nil {
		return ProcessResult{}, apperr.Wrap(apperr.KindUnprocessable, "payload is not valid JSON", err).WithOp("ingest.Process")
	}

	extracted := s.extractor.Extract(provider, payload)

	property, err := s.props.Resolve(ctx, provider, extracted.PropertyRef)
	if err != nil {
		log.DatabaseError("resolve property", err)
		return ProcessResult{}, apperr.Wrap(apperr.KindInternal, "property resolution failed", err).WithOp("ingest.Process")
	}

	inputs := extracted.KeyInputs(provider, payload)
	idempotencyKey := BuildIdempotencyKey(inputs)
	fingerprint := BuildLeadFingerprint(provider, inputs.Email, inputs.PhoneFingerprint, inputs.PropertyExternalID, inputs.MessageFingerprint)

	event := InboundEvent{
		ID:              uuid.New(),
		Provider:        provider,
		ExternalEventID: optional(extracted.ExternalEventID),
		IdempotencyKey:  idempotencyKey,
		EventType:       extracted.EventType,
		Payload:         body,
		Headers:         headers,
		Status:          StatusReceived,
		ReceivedAt:      time.Now().UTC(),
	}

	stored, duplicate, err := s.store.InsertEvent(ctx, event)
	if err != nil {
		log.DatabaseError("insert inbound event", err)
		return ProcessResult{}, apperr.Wrap(apperr.KindInternal, "event ledger insert failed", err).WithOp("ingest.Process")
	}
	if duplicate {
		// The original row already carries the outcome; this attempt never
		// became durable state.
		log.WebhookEvent(provider, idempotencyKey, string(StatusDuplicate))
		result := ProcessResult{EventID: stored.ID, Status: StatusDuplicate, Duplicate: true}
		if stored.ProcessingResult != nil {
			leadID := stored.ProcessingResult.LeadID
			result.LeadID = &leadID
			result.PersonID = stored.ProcessingResult.PersonID
		}
		return result, nil
	}

	if !integration.Enabled {
		if err := s.store.MarkEventIgnored(ctx, stored.ID); err != nil {
			log.DatabaseError("mark event ignored", err)
			return ProcessResult{}, apperr.Wrap(apperr.KindInternal, "event ledger update failed", err).WithOp("ingest.Process")
		}
		log.WebhookEvent(provider, idempotencyKey, string(StatusIgnored))
		return ProcessResult{EventID: stored.ID, Status: StatusIgnored}, nil
	}

	outcome, err := s.resolveAndPersist(ctx, integration, stored, extracted, property, fingerprint)
	if err != nil {
		message := err.Error()
		if markErr := s.store.MarkEventError(ctx, stored.ID, message); markErr != nil {
			log.DatabaseError("mark event error", markErr)
		}
		log.WebhookEvent(provider, idempotencyKey, string(StatusError))
		return ProcessResult{EventID: stored.ID, Status: StatusError},
			apperr.Wrap(apperr.KindInternal, "event processing failed", err).WithOp("ingest.Process").WithDetails(map[string]string{"eventId": stored.ID.String()})
	}

	if err := s.store.MarkEventProcessed(ctx, stored.ID, outcome); err != nil {
		log.DatabaseError("mark event processed", err)
		return ProcessResult{}, apperr.Wrap(apperr.KindInternal, "event ledger update failed", err).WithOp("ingest.Process")
	}
	log.WebhookEvent(provider, idempotencyKey, string(StatusProcessed))

	leadID := outcome.LeadID
	return ProcessResult{
		EventID:  stored.ID,
		Status:   StatusProcessed,
		LeadID:   &leadID,
		PersonID: outcome.PersonID,
	}, nil
}

// resolveAndPersist does the person/lead work for a new, enabled event.
func (s *Service) resolveAndPersist(ctx context.Context, integration Integration, event InboundEvent, extracted ExtractedLead, property PropertyMatch, fingerprint string) (ProcessingResult, error) {
	// An existing link means this fingerprint (or portal lead id) already
	// produced a lead; converge on it instead of creating a second one.
	link, found, err := s.findLink(ctx, integration.Provider, extracted.ExternalLeadID, fingerprint)
	if err != nil {
		return ProcessingResult{}, err
	}
	if found {
		if err := s.refreshLink(ctx, link, extracted, property); err != nil {
			return ProcessingResult{}, err
		}
		s.audit(ctx, LeadAuditEntry{
			LeadID:  link.LeadID,
			EventID: event.ID,
			Action:  "lead_converged",
			Detail:  map[string]any{"fingerprint": fingerprint, "externalLeadId": extracted.ExternalLeadID},
		})
		return ProcessingResult{
			LeadID:     link.LeadID,
			PropertyID: property.PropertyID,
			LinkID:     link.ID,
		}, nil
	}

	person, err := s.people.Resolve(ctx, PersonInput{
		FullName:    extracted.FullName,
		PhoneE164:   extracted.Phone.E164,
		RawPhone:    extracted.Phone.Raw,
		Email:       extracted.Email,
		CPFDigits:   extracted.CPFDigits,
		CNPJDigits:  extracted.CNPJDigits,
		OwnerUserID: property.OwnerUserID,
	})
	if err != nil {
		return ProcessingResult{}, err
	}

	leadSourceID, err := s.leadSource(ctx, integration.Provider)
	if err != nil {
		return ProcessingResult{}, err
	}
	pipelineID, stageID, err := s.defaultPipeline(ctx)
	if err != nil {
		return ProcessingResult{}, err
	}

	var phoneE164 *string
	if extracted.Phone.Valid {
		v := extracted.Phone.E164
		phoneE164 = &v
	}
	draft := LeadDraft{
		Title:        buildLeadTitle(integration.DisplayName, extracted.FullName, property.Title),
		PersonID:     person.PersonID,
		PropertyID:   property.PropertyID,
		PhoneE164:    phoneE164,
		RawPhone:     extracted.Phone.Raw,
		Email:        optionalValue(extracted.Email),
		LeadSourceID: leadSourceID,
		PipelineID:   pipelineID,
		StageID:      stageID,
		Notes:        buildLeadNotes(extracted),
		OwnerUserID:  property.OwnerUserID,
	}

	leadID, err := s.leads.Insert(ctx, draft)
	if err != nil {
		return ProcessingResult{}, err
	}

	newLink := LeadLink{
		ID:                     uuid.New(),
		Provider:               integration.Provider,
		ExternalLeadID:         optional(extracted.ExternalLeadID),
		ExternalConversationID: optional(extracted.ExternalConversationID),
		Fingerprint:            fingerprint,
		LeadID:                 leadID,
		PropertyID:             property.PropertyID,
	}
	insertedLink, err := s.store.InsertLink(ctx, newLink)
	leadCreated := true
	if err != nil {
		if _, ok := AsConflict(err); !ok {
			return ProcessingResult{}, err
		}
		// A concurrent delivery for the same fingerprint won the link
		// insert. Converge on its lead and remove the one we just wrote so
		// at most one lead exists for the fingerprint.
		winner, foundWinner, findErr := s.findLink(ctx, integration.Provider, extracted.ExternalLeadID, fingerprint)
		if findErr != nil {
			return ProcessingResult{}, findErr
		}
		if !foundWinner {
			return ProcessingResult{}, err
		}
		if delErr := s.store.DeleteLead(ctx, leadID); delErr != nil {
			s.log.Warn("could not remove superseded lead", "leadId", leadID.String(), "error", delErr.Error())
		}
		insertedLink = winner
		leadID = winner.LeadID
		leadCreated = false
	}

	personID := person.PersonID
	s.audit(ctx, LeadAuditEntry{
		LeadID:  leadID,
		EventID: event.ID,
		Action:  "lead_created",
		Detail: map[string]any{
			"fingerprint":    fingerprint,
			"personStrategy": person.Strategy,
			"provider":       integration.Provider,
		},
	})

	return ProcessingResult{
		LeadID:        leadID,
		PersonID:      &personID,
		PropertyID:    property.PropertyID,
		LinkID:        insertedLink.ID,
		PersonCreated: person.Outcome == OutcomeCreated,
		LeadCreated:   leadCreated,
	}, nil
}

func (s *Service) findLink(ctx context.Context, provider, externalLeadID, fingerprint string) (LeadLink, bool, error) {
	if externalLeadID != "" {
		link, found, err := s.store.FindLinkByExternalLeadID(ctx, provider, externalLeadID)
		if err != nil && !IsSchemaMissing(err) {
			return LeadLink{}, false, err
		}
		if found {
			return link, true, nil
		}
	}
	link, found, err := s.store.FindLinkByFingerprint(ctx, provider, fingerprint)
	if err != nil {
		if IsSchemaMissing(err) {
			return LeadLink{}, false, nil
		}
		return LeadLink{}, false, err
	}
	return link, found, nil
}

// refreshLink backfills identifiers a later delivery knows that the link
// row does not: the portal lead id, conversation id, or property.
func (s *Service) refreshLink(ctx context.Context, link LeadLink, extracted ExtractedLead, property PropertyMatch) error {
	var externalLeadID, conversationID *string
	var propertyID *uuid.UUID

	if extracted.ExternalLeadID != "" && link.ExternalLeadID == nil {
		externalLeadID = optional(extracted.ExternalLeadID)
	}
	if extracted.ExternalConversationID != "" &&
		(link.ExternalConversationID == nil || *link.ExternalConversationID != extracted.ExternalConversationID) {
		conversationID = optional(extracted.ExternalConversationID)
	}
	if property.PropertyID != nil && link.PropertyID == nil {
		propertyID = property.PropertyID
	}

	if externalLeadID == nil && conversationID == nil && propertyID == nil {
		return nil
	}
	return s.store.UpdateLinkRefs(ctx, link.ID, externalLeadID, conversationID, propertyID)
}

func (s *Service) leadSource(ctx context.Context, provider string) (*uuid.UUID, error) {
	id, err := s.store.FindLeadSourceBySlug(ctx, provider)
	if err != nil {
		if IsSchemaMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	return id, nil
}

func (s *Service) defaultPipeline(ctx context.Context) (*uuid.UUID, *uuid.UUID, error) {
	pipelineID, stageID, err := s.store.FindDefaultPipeline(ctx)
	if err != nil {
		if IsSchemaMissing(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return pipelineID, stageID, nil
}

// audit writes are best-effort; a failed audit row never fails the event.
func (s *Service) audit(ctx context.Context, entry LeadAuditEntry) {
	if err := s.store.AppendAuditLog(ctx, entry); err != nil {
		s.log.Warn("audit log write failed", "leadId", entry.LeadID.String(), "error", err.Error())
	}
}

func buildLeadTitle(providerName, personName, propertyTitle string) string {
	name := strings.TrimSpace(personName)
	if name == "" {
		name = fallbackPersonName
	}
	title := "Lead " + providerName + " - " + name
	if propertyTitle != "" {
		title += " (" + propertyTitle + ")"
	}
	return title
}

func buildLeadNotes(extracted ExtractedLead) string {
	var parts []string
	if extracted.Message != "" {
		parts = append(parts, extracted.Message)
	}
	// Invalid phones are preserved as free text instead of being dropped.
	if !extracted.Phone.Valid && extracted.Phone.Raw != "" {
		parts = append(parts, "Telefone informado: "+extracted.Phone.Raw)
	}
	return strings.Join(parts, "\n")
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func optionalValue(s string) *string {
	return optional(s)
}

// ---- Admin operations (operator surface over the ledger and toggles) ----

// ListIntegrations returns every provider integration.
func (s *Service) ListIntegrations(ctx context.Context) ([]Integration, error) {
	list, err := s.store.ListIntegrations(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list integrations failed", err).WithOp("ingest.ListIntegrations")
	}
	return list, nil
}

// SetIntegrationEnabled flips the per-provider toggle.
func (s *Service) SetIntegrationEnabled(ctx context.Context, provider string, enabled bool) error {
	if err := s.store.SetIntegrationEnabled(ctx, provider, enabled); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		return apperr.Wrap(apperr.KindInternal, "update integration failed", err).WithOp("ingest.SetIntegrationEnabled")
	}
	return nil
}

// ListEvents pages through the event ledger for inspection.
func (s *Service) ListEvents(ctx context.Context, provider string, status EventStatus, limit, offset int) ([]InboundEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.store.ListEvents(ctx, provider, status, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list events failed", err).WithOp("ingest.ListEvents")
	}
	return events, nil
}

// GetEvent fetches one ledger row with its payload.
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (InboundEvent, error) {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return InboundEvent{}, err
		}
		return InboundEvent{}, apperr.Wrap(apperr.KindInternal, "get event failed", err).WithOp("ingest.GetEvent")
	}
	return event, nil
}
