package ingest

import (
	"context"
	"testing"

	"crm_ingest_backend/platform/apperr"
	"crm_ingest_backend/platform/logger"

	"github.com/google/uuid"
)

type testIngestConfig struct{}

func (testIngestConfig) GetDefaultPhoneRegion() string { return "BR" }
func (testIngestConfig) GetWebhookRateRPS() float64    { return 10 }
func (testIngestConfig) GetWebhookRateBurst() int      { return 20 }

func newTestService(store *fakeStore) *Service {
	return NewService(store, testIngestConfig{}, logger.New("test"))
}

func enabledIntegration(provider string) Integration {
	return Integration{Provider: provider, DisplayName: "Grupo OLX", Enabled: true}
}

const olxPayload = `{
	"event_id": "evt-1",
	"lead": {
		"id": "ext-1",
		"name": "Maria Silva",
		"phone": "+55 11 99999-8888",
		"email": "maria@example.com",
		"message": "Tenho interesse no imóvel."
	},
	"ad": {"list_id": "OLX-555"}
}`

func TestProcessCreatesPersonLeadAndLink(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	result, err := service.Process(context.Background(), enabledIntegration("grupoolx"), []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != StatusProcessed {
		t.Fatalf("Status = %q, want processed", result.Status)
	}
	if result.LeadID == nil || result.PersonID == nil {
		t.Fatal("result missing lead or person id")
	}
	if len(store.leads) != 1 {
		t.Fatalf("leads = %d, want 1", len(store.leads))
	}
	if len(store.links) != 1 {
		t.Fatalf("links = %d, want 1", len(store.links))
	}
	if len(store.people.inserted) != 1 {
		t.Fatalf("people created = %d, want 1", len(store.people.inserted))
	}

	event, err := store.GetEvent(context.Background(), result.EventID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if event.Status != StatusProcessed {
		t.Errorf("ledger status = %q, want processed", event.Status)
	}
	if event.ProcessingResult == nil || !event.ProcessingResult.LeadCreated {
		t.Error("ledger row missing LeadCreated outcome")
	}
}

func TestProcessDuplicateDeliveryReturnsOriginalOutcome(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()
	integration := enabledIntegration("grupoolx")

	first, err := service.Process(ctx, integration, []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	second, err := service.Process(ctx, integration, []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Duplicate || second.Status != StatusDuplicate {
		t.Fatalf("second delivery = %+v, want duplicate", second)
	}
	if second.EventID != first.EventID {
		t.Error("duplicate response does not reference the original event")
	}
	if second.LeadID == nil || *second.LeadID != *first.LeadID {
		t.Error("duplicate response does not carry the original lead id")
	}
	if len(store.leads) != 1 {
		t.Errorf("leads = %d, want 1 (no side effects on duplicate)", len(store.leads))
	}
	if len(store.events) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(store.events))
	}
}

func TestProcessConvergesDeliveryWithoutLeadID(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()
	integration := enabledIntegration("grupoolx")

	first, err := service.Process(ctx, integration, []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	// Same enquiry re-notified without the portal's event and lead ids. The
	// fingerprint (contact + listing + message) must land it on the same lead.
	withoutIDs := `{
		"lead": {
			"name": "Maria Silva",
			"phone": "+55 11 99999-8888",
			"email": "maria@example.com",
			"message": "Tenho interesse no imóvel."
		},
		"ad": {"list_id": "OLX-555"}
	}`
	second, err := service.Process(ctx, integration, []byte(withoutIDs), nil)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.Status != StatusProcessed {
		t.Fatalf("Status = %q, want processed", second.Status)
	}
	if second.Duplicate {
		t.Fatal("distinct delivery wrongly classified as duplicate")
	}
	if second.LeadID == nil || *second.LeadID != *first.LeadID {
		t.Errorf("second delivery lead = %v, want convergence on %v", second.LeadID, first.LeadID)
	}
	if len(store.leads) != 1 {
		t.Errorf("leads = %d, want 1 after convergence", len(store.leads))
	}
	if len(store.events) != 2 {
		t.Errorf("ledger rows = %d, want one per distinct delivery", len(store.events))
	}
}

func TestProcessBackfillsExternalLeadIDOnConvergedLink(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()
	integration := enabledIntegration("grupoolx")

	// First delivery has no portal lead id.
	withoutIDs := `{
		"lead": {
			"name": "Maria Silva",
			"phone": "+55 11 99999-8888",
			"email": "maria@example.com"
		},
		"ad": {"list_id": "OLX-555"}
	}`
	if _, err := service.Process(ctx, integration, []byte(withoutIDs), nil); err != nil {
		t.Fatalf("first Process: %v", err)
	}

	withIDs := `{
		"event_id": "evt-2",
		"lead": {
			"id": "ext-9",
			"name": "Maria Silva",
			"phone": "+55 11 99999-8888",
			"email": "maria@example.com"
		},
		"ad": {"list_id": "OLX-555"}
	}`
	if _, err := service.Process(ctx, integration, []byte(withIDs), nil); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if len(store.links) != 1 {
		t.Fatalf("links = %d, want 1", len(store.links))
	}
	for _, link := range store.links {
		if link.ExternalLeadID == nil || *link.ExternalLeadID != "ext-9" {
			t.Errorf("link ExternalLeadID = %v, want backfilled ext-9", link.ExternalLeadID)
		}
	}
}

func TestProcessDisabledIntegrationIgnoresButRecords(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()
	disabled := Integration{Provider: "grupoolx", DisplayName: "Grupo OLX", Enabled: false}

	result, err := service.Process(ctx, disabled, []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != StatusIgnored {
		t.Fatalf("Status = %q, want ignored", result.Status)
	}
	if len(store.leads) != 0 || len(store.people.inserted) != 0 {
		t.Error("disabled integration produced CRM writes")
	}

	// The ledger row exists, so the same delivery replayed after the
	// provider is re-enabled is still deduplicated.
	replay, err := service.Process(ctx, enabledIntegration("grupoolx"), []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("replay Process: %v", err)
	}
	if !replay.Duplicate {
		t.Error("replay after re-enable not recognized as duplicate")
	}
}

func TestProcessInvalidJSONIsUnprocessable(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	_, err := service.Process(context.Background(), enabledIntegration("grupoolx"), []byte(`{"broken`), nil)
	if !apperr.Is(err, apperr.KindUnprocessable) {
		t.Fatalf("err = %v, want unprocessable", err)
	}
	if len(store.events) != 0 {
		t.Error("unparseable payload reached the ledger")
	}
}

func TestProcessFatalPersistErrorMarksEventError(t *testing.T) {
	store := newFakeStore()
	// Abort the pipeline inside resolveAndPersist.
	store.people.lookupErrs = map[string]error{"phone": context.DeadlineExceeded}
	service := newTestService(store)

	result, err := service.Process(context.Background(), enabledIntegration("grupoolx"), []byte(olxPayload), nil)
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("err = %v, want internal", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %q, want error", result.Status)
	}

	event, getErr := store.GetEvent(context.Background(), result.EventID)
	if getErr != nil {
		t.Fatalf("GetEvent: %v", getErr)
	}
	if event.Status != StatusError {
		t.Errorf("ledger status = %q, want error", event.Status)
	}
	if event.ErrorMessage == nil {
		t.Error("ledger row missing error message")
	}
}

func TestProcessAttachesPropertyAndOwner(t *testing.T) {
	store := newFakeStore()
	propertyID := uuid.New()
	ownerID := uuid.New()
	store.properties["grupoolx\x00OLX-555"] = PropertyMatch{
		PropertyID:  &propertyID,
		ExternalID:  "OLX-555",
		OwnerUserID: &ownerID,
		Title:       "Apartamento Centro",
	}
	sourceID := uuid.New()
	store.leadSources["grupoolx"] = sourceID
	service := newTestService(store)

	result, err := service.Process(context.Background(), enabledIntegration("grupoolx"), []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	lead := store.leads[*result.LeadID]
	if lead == nil {
		t.Fatal("lead row not stored")
	}
	if got, _ := lead["property_id"].(uuid.UUID); got != propertyID {
		t.Errorf("property_id = %v, want %v", lead["property_id"], propertyID)
	}
	if got, _ := lead["owner_user_id"].(uuid.UUID); got != ownerID {
		t.Errorf("owner_user_id = %v, want %v", lead["owner_user_id"], ownerID)
	}
	if got, _ := lead["lead_source_id"].(uuid.UUID); got != sourceID {
		t.Errorf("lead_source_id = %v, want %v", lead["lead_source_id"], sourceID)
	}
	title, _ := lead["title"].(string)
	if title != "Lead Grupo OLX - Maria Silva (Apartamento Centro)" {
		t.Errorf("title = %q", title)
	}
	if len(store.people.inserted) == 0 || store.people.inserted[0].CreatedBy == nil || *store.people.inserted[0].CreatedBy != ownerID {
		t.Error("person not attributed to the listing owner")
	}
}

func TestProcessPhoneConflictPreservesNumberInNotes(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()

	// Occupy the phone number with an unrelated lead.
	if _, err := store.InsertLeadRow(ctx, []LeadColumn{
		{Name: "title", Value: "Lead antigo"},
		{Name: "phone_e164", Value: "+5511999998888"},
	}); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	result, err := service.Process(ctx, enabledIntegration("grupoolx"), []byte(olxPayload), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != StatusProcessed {
		t.Fatalf("Status = %q, want processed", result.Status)
	}

	lead := store.leads[*result.LeadID]
	if lead["phone_e164"] != nil {
		t.Errorf("phone_e164 = %v, want nil after conflict", lead["phone_e164"])
	}
	notes, _ := lead["notes"].(string)
	if notes == "" {
		t.Fatal("notes empty, want raw phone preserved")
	}
}

func TestSetIntegrationEnabledUnknownProvider(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	err := service.SetIntegrationEnabled(context.Background(), "nonexistent", true)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListEventsClampsLimit(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()
	integration := enabledIntegration("grupoolx")

	for _, payload := range []string{
		`{"event_id": "a", "name": "Ana"}`,
		`{"event_id": "b", "name": "Bia"}`,
	} {
		if _, err := service.Process(ctx, integration, []byte(payload), nil); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	events, err := service.ListEvents(ctx, "grupoolx", "", -5, -1)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}
