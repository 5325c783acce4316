package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// CanonicalJSON serializes a Value with object keys sorted alphabetically at
// every depth, so structurally equal payloads produce identical bytes
// regardless of the key order the sender happened to use.
func CanonicalJSON(v Value) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindString:
		encoded, _ := json.Marshal(v.str)
		b.Write(encoded)
	case KindNumber:
		b.WriteString(v.num.String())
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodedKey, _ := json.Marshal(k)
			b.Write(encodedKey)
			b.WriteByte(':')
			writeCanonical(b, v.obj[k])
		}
		b.WriteByte('}')
	case KindArray:
		b.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// KeyInputs are the identity signals available for one delivery.
type KeyInputs struct {
	Provider               string
	EventType              string
	ExternalEventID        string
	ExternalLeadID         string
	ExternalConversationID string
	PropertyExternalID     string
	Email                  string
	PhoneFingerprint       string
	MessageFingerprint     string
	Payload                Value
}

// BuildIdempotencyKey derives the ledger's dedup key for a delivery.
//
// When the provider supplies its own event id, that id is trusted:
// "{provider}:event:{id}". Otherwise the key is a canonical hash over the
// normalized identity fields plus the full payload:
// "{provider}:hash:{sha256}". The weak path is deliberately deterministic
// and nothing more: two genuinely distinct events with byte-identical
// normalized content will collide and the later one is reported as a
// duplicate. That is a known property of id-less form-post providers, not
// something this function tries to out-guess with extra entropy.
func BuildIdempotencyKey(in KeyInputs) string {
	if id := strings.TrimSpace(in.ExternalEventID); id != "" {
		return in.Provider + ":event:" + id
	}

	fields := Object(map[string]Value{
		"eventType":          String(in.EventType),
		"externalLeadId":     String(in.ExternalLeadID),
		"conversationId":     String(in.ExternalConversationID),
		"propertyExternalId": String(in.PropertyExternalID),
		"email":              String(strings.ToLower(in.Email)),
		"phone":              String(in.PhoneFingerprint),
		"message":            String(in.MessageFingerprint),
		"payload":            in.Payload,
	})
	return in.Provider + ":hash:" + sha256Hex(CanonicalJSON(fields))
}

// BuildLeadFingerprint derives the business identity of a lead: the hash
// that makes retried deliveries and re-notifications of the same
// conversation converge on one CRM lead.
//
// The hash covers only contact/property identity. Delivery-scoped ids
// (external lead id, conversation id) are carried on the link row but kept
// out of the hash, so a provider that sends the same enquiry once with its
// lead id and once without still lands on the same lead.
func BuildLeadFingerprint(provider, email, phoneFingerprint, propertyExternalID, messageFingerprint string) string {
	fields := Object(map[string]Value{
		"email":              String(strings.ToLower(email)),
		"phone":              String(phoneFingerprint),
		"propertyExternalId": String(propertyExternalID),
		"message":            String(messageFingerprint),
	})
	return sha256Hex(provider + "|" + CanonicalJSON(fields))
}

// PhoneFingerprint reduces a phone value to bare digits for hashing, so
// "+55 11 99999-8888" and "5511999998888" fingerprint identically.
func PhoneFingerprint(raw string) string {
	return digitsOnly(raw)
}

// MessageFingerprint hashes a compacted, case-folded message body. Empty
// messages fingerprint to the empty string so they add no identity signal.
func MessageFingerprint(message string) string {
	compact := strings.ToLower(strings.Join(strings.Fields(message), " "))
	if compact == "" {
		return ""
	}
	return sha256Hex(compact)[:16]
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
