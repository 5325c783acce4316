package ingest

import (
	"regexp"
	"strings"

	"crm_ingest_backend/platform/phone"
	"crm_ingest_backend/platform/sanitize"
)

// maxMessageLen caps stored message text. Portal messages are occasionally
// entire email threads; storage stays bounded.
const maxMessageLen = 1600

// ExtractedLead is the normalized view of one provider payload.
type ExtractedLead struct {
	EventType              string
	ExternalEventID        string
	ExternalLeadID         string
	ExternalConversationID string
	FullName               string
	Phone                  phone.Normalized
	Email                  string
	CPFDigits              string
	CNPJDigits             string
	Message                string
	PropertyRef            string
}

// providerProfile lists, per semantic field, the payload paths to try in
// order. Providers nest the same fields at different depths; an ordered
// lookup tolerates that drift without one normalizer per provider schema.
type providerProfile struct {
	eventID        []string
	leadID         []string
	conversationID []string
	eventType      []string
	name           []string
	phoneField     []string
	email          []string
	document       []string
	message        []string
	propertyRef    []string
}

// defaultProfile covers the generic form-post shape most small portals use.
var defaultProfile = providerProfile{
	eventID:        []string{"event_id", "eventId", "id", "webhook_id"},
	leadID:         []string{"lead.id", "lead_id", "leadId", "lead.external_id"},
	conversationID: []string{"conversation_id", "conversationId", "lead.conversation_id", "chat_id"},
	eventType:      []string{"event_type", "eventType", "event", "type", "action"},
	name:           []string{"lead.name", "name", "contact.name", "customer.name", "full_name", "nome"},
	phoneField:     []string{"lead.phone", "phone", "contact.phone", "customer.phone", "phone_number", "telefone", "celular"},
	email:          []string{"lead.email", "email", "contact.email", "customer.email", "e_mail"},
	document:       []string{"lead.document", "document", "contact.document", "cpf", "cnpj", "documento"},
	message:        []string{"lead.message", "message", "comments", "description", "mensagem", "observacao"},
	propertyRef:    []string{"property_id", "propertyId", "listing_id", "listingId", "property.id", "imovel_id", "codigo_imovel"},
}

// providerProfiles holds per-provider overrides. Missing fields fall back to
// the default paths at lookup time.
var providerProfiles = map[string]providerProfile{
	"grupoolx": {
		eventID:        []string{"event_id", "id"},
		leadID:         []string{"lead.id", "lead_id", "ad_reply_id"},
		conversationID: []string{"conversation_id", "chat.id"},
		name:           []string{"lead.name", "buyer.name", "name"},
		phoneField:     []string{"lead.phone", "buyer.phone", "phone"},
		email:          []string{"lead.email", "buyer.email", "email"},
		message:        []string{"lead.message", "message", "ad_reply_message"},
		propertyRef:    []string{"property_id", "ad.list_id", "listing_id"},
	},
	"vivareal": {
		eventID:     []string{"notification_id", "event_id", "id"},
		leadID:      []string{"lead.id", "leadId", "lead_id"},
		name:        []string{"lead.name", "leadName", "name"},
		phoneField:  []string{"lead.phoneNumber", "lead.phone", "leadPhone", "phone"},
		email:       []string{"lead.email", "leadEmail", "email"},
		message:     []string{"lead.message", "leadMessage", "message"},
		propertyRef: []string{"listing.id", "listingId", "externalId", "property_id"},
	},
	"zapimoveis": {
		eventID:     []string{"eventId", "event_id", "id"},
		leadID:      []string{"lead.id", "leadId"},
		name:        []string{"lead.name", "consumer.name", "name"},
		phoneField:  []string{"lead.phone", "consumer.phone", "phone"},
		email:       []string{"lead.email", "consumer.email", "email"},
		message:     []string{"lead.message", "message"},
		propertyRef: []string{"listing.externalId", "listingId", "property_id"},
	},
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Extractor normalizes opaque provider payloads into typed lead fields.
type Extractor struct {
	phoneRegion string
}

// NewExtractor creates an extractor; region is the default for
// national-format phone numbers.
func NewExtractor(phoneRegion string) *Extractor {
	if phoneRegion == "" {
		phoneRegion = phone.DefaultRegion
	}
	return &Extractor{phoneRegion: phoneRegion}
}

// Extract pulls the semantic fields out of a payload using the provider's
// path table. Missing fields are simply empty; validation failures degrade
// (invalid email dropped, invalid phone preserved as raw text) and never
// abort ingestion.
func (e *Extractor) Extract(provider string, payload Value) ExtractedLead {
	profile := providerProfiles[provider]

	lead := ExtractedLead{
		EventType:              lookup(payload, profile.eventType, defaultProfile.eventType),
		ExternalEventID:        lookup(payload, profile.eventID, defaultProfile.eventID),
		ExternalLeadID:         lookup(payload, profile.leadID, defaultProfile.leadID),
		ExternalConversationID: lookup(payload, profile.conversationID, defaultProfile.conversationID),
		FullName:               sanitize.Text(lookup(payload, profile.name, defaultProfile.name)),
		PropertyRef:            lookup(payload, profile.propertyRef, defaultProfile.propertyRef),
	}
	if lead.EventType == "" {
		lead.EventType = "lead.created"
	}

	if rawPhone := lookup(payload, profile.phoneField, defaultProfile.phoneField); rawPhone != "" {
		lead.Phone = phone.Normalize(rawPhone, e.phoneRegion)
	}

	if email := strings.ToLower(lookup(payload, profile.email, defaultProfile.email)); email != "" {
		if emailRegex.MatchString(email) {
			lead.Email = email
		}
	}

	if doc := lookup(payload, profile.document, defaultProfile.document); doc != "" {
		switch digits := digitsOnly(doc); len(digits) {
		case 11:
			lead.CPFDigits = digits
		case 14:
			lead.CNPJDigits = digits
		}
	}

	if msg := lookup(payload, profile.message, defaultProfile.message); msg != "" {
		lead.Message = sanitize.Compact(msg, maxMessageLen)
	}

	return lead
}

// PhoneFingerprint returns the digit fingerprint for the extracted phone:
// the E.164 digits when the number validated, the raw digits otherwise.
func (l ExtractedLead) PhoneFingerprint() string {
	if l.Phone.Valid {
		return PhoneFingerprint(l.Phone.E164)
	}
	return PhoneFingerprint(l.Phone.Raw)
}

// KeyInputs assembles the identity signals for idempotency-key and
// fingerprint construction.
func (l ExtractedLead) KeyInputs(provider string, payload Value) KeyInputs {
	return KeyInputs{
		Provider:               provider,
		EventType:              l.EventType,
		ExternalEventID:        l.ExternalEventID,
		ExternalLeadID:         l.ExternalLeadID,
		ExternalConversationID: l.ExternalConversationID,
		PropertyExternalID:     l.PropertyRef,
		Email:                  l.Email,
		PhoneFingerprint:       l.PhoneFingerprint(),
		MessageFingerprint:     MessageFingerprint(l.Message),
		Payload:                payload,
	}
}

func lookup(payload Value, paths, fallback []string) string {
	if len(paths) == 0 {
		paths = fallback
	}
	return FirstString(payload, paths...)
}
