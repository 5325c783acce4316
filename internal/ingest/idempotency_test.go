package ingest

import (
	"strings"
	"testing"
)

func TestCanonicalJSONStableUnderKeyOrder(t *testing.T) {
	a, err := ParseValue([]byte(`{"a": 1, "b": 2, "nested": {"y": [1, 2], "x": "v"}}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	b, err := ParseValue([]byte(`{"nested": {"x": "v", "y": [1, 2]}, "b": 2, "a": 1}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}

	if CanonicalJSON(a) != CanonicalJSON(b) {
		t.Errorf("canonical forms differ:\n%s\n%s", CanonicalJSON(a), CanonicalJSON(b))
	}
	if want := `{"a":1,"b":2,"nested":{"x":"v","y":[1,2]}}`; CanonicalJSON(a) != want {
		t.Errorf("CanonicalJSON = %s, want %s", CanonicalJSON(a), want)
	}
}

func TestCanonicalJSONPreservesArrayOrder(t *testing.T) {
	a, _ := ParseValue([]byte(`[1, 2, 3]`))
	b, _ := ParseValue([]byte(`[3, 2, 1]`))
	if CanonicalJSON(a) == CanonicalJSON(b) {
		t.Error("arrays with different element order must not canonicalize identically")
	}
}

func TestBuildIdempotencyKeyStrongPath(t *testing.T) {
	key := BuildIdempotencyKey(KeyInputs{
		Provider:        "grupoolx",
		ExternalEventID: "evt-42",
	})
	if key != "grupoolx:event:evt-42" {
		t.Errorf("key = %q, want grupoolx:event:evt-42", key)
	}
}

func TestBuildIdempotencyKeyWeakPathIsDeterministic(t *testing.T) {
	payloadA, _ := ParseValue([]byte(`{"name": "Maria", "phone": "11999998888"}`))
	payloadB, _ := ParseValue([]byte(`{"phone": "11999998888", "name": "Maria"}`))

	inputs := KeyInputs{
		Provider:         "vivareal",
		EventType:        "lead.created",
		Email:            "maria@example.com",
		PhoneFingerprint: "5511999998888",
	}

	inputs.Payload = payloadA
	keyA := BuildIdempotencyKey(inputs)
	inputs.Payload = payloadB
	keyB := BuildIdempotencyKey(inputs)

	if keyA != keyB {
		t.Errorf("weak keys differ for reordered payloads:\n%s\n%s", keyA, keyB)
	}
	if !strings.HasPrefix(keyA, "vivareal:hash:") {
		t.Errorf("weak key %q missing hash prefix", keyA)
	}
}

func TestBuildIdempotencyKeyWeakPathDiffersPerContent(t *testing.T) {
	payloadA, _ := ParseValue([]byte(`{"name": "Maria"}`))
	payloadB, _ := ParseValue([]byte(`{"name": "Joana"}`))

	keyA := BuildIdempotencyKey(KeyInputs{Provider: "vivareal", Payload: payloadA})
	keyB := BuildIdempotencyKey(KeyInputs{Provider: "vivareal", Payload: payloadB})
	if keyA == keyB {
		t.Error("distinct payloads produced the same weak key")
	}
}

func TestLeadFingerprintIgnoresDeliveryScopedIDs(t *testing.T) {
	// The same enquiry delivered once with the portal's lead id and once
	// without must land on the same fingerprint.
	a := BuildLeadFingerprint("grupoolx", "maria@example.com", "5511999998888", "prop-1", "")
	b := BuildLeadFingerprint("grupoolx", "maria@example.com", "5511999998888", "prop-1", "")
	if a != b {
		t.Error("identical identity fields produced different fingerprints")
	}

	c := BuildLeadFingerprint("grupoolx", "maria@example.com", "5511999998888", "prop-2", "")
	if a == c {
		t.Error("different property produced the same fingerprint")
	}

	d := BuildLeadFingerprint("vivareal", "maria@example.com", "5511999998888", "prop-1", "")
	if a == d {
		t.Error("different provider produced the same fingerprint")
	}
}

func TestLeadFingerprintCaseFoldsEmail(t *testing.T) {
	a := BuildLeadFingerprint("grupoolx", "Maria@Example.com", "", "", "")
	b := BuildLeadFingerprint("grupoolx", "maria@example.com", "", "", "")
	if a != b {
		t.Error("email casing changed the fingerprint")
	}
}

func TestPhoneFingerprint(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+55 11 99999-8888", "5511999998888"},
		{"5511999998888", "5511999998888"},
		{"(11) 99999-8888", "11999998888"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := PhoneFingerprint(tc.in); got != tc.want {
			t.Errorf("PhoneFingerprint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMessageFingerprint(t *testing.T) {
	a := MessageFingerprint("Tenho interesse  no imóvel.\n")
	b := MessageFingerprint("tenho interesse no imóvel.")
	if a != b {
		t.Error("whitespace/case variations changed the message fingerprint")
	}
	if MessageFingerprint("   ") != "" {
		t.Error("blank message must fingerprint to empty")
	}
}
