package ingest

import (
	"testing"
)

func TestGetPathTraversesNestedObjects(t *testing.T) {
	payload, err := ParseValue([]byte(`{
		"lead": {"contact": {"email": "a@b.com", "phones": ["111", "222"]}},
		"listing_id": 48213,
		"active": true
	}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}

	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"lead.contact.email", "a@b.com", true},
		{"lead.contact.phones.0", "111", true},
		{"lead.contact.phones.1", "222", true},
		{"listing_id", "48213", true},
		{"active", "true", true},
		{"lead.contact.missing", "", false},
		{"lead.contact.phones.5", "", false},
		{"missing.deep.path", "", false},
	}

	for _, tc := range cases {
		got, ok := GetPath(payload, tc.path)
		if ok != tc.ok {
			t.Errorf("GetPath(%q) ok = %v, want %v", tc.path, ok, tc.ok)
			continue
		}
		if ok && got.Text() != tc.want {
			t.Errorf("GetPath(%q).Text() = %q, want %q", tc.path, got.Text(), tc.want)
		}
	}
}

func TestValueTextPreservesNumberLiterals(t *testing.T) {
	// Large ids must not be rounded through float64.
	payload, err := ParseValue([]byte(`{"id": 9007199254740993, "price": 1250.50}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}

	id, _ := GetPath(payload, "id")
	if id.Text() != "9007199254740993" {
		t.Errorf("id literal = %q, want 9007199254740993", id.Text())
	}
	price, _ := GetPath(payload, "price")
	if price.Text() != "1250.50" {
		t.Errorf("price literal = %q, want 1250.50", price.Text())
	}
}

func TestFirstStringTriesPathsInOrder(t *testing.T) {
	payload, err := ParseValue([]byte(`{"contact": {"email": "second@b.com"}, "customer": {"email": "third@b.com"}}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}

	got := FirstString(payload, "lead.email", "contact.email", "customer.email")
	if got != "second@b.com" {
		t.Errorf("FirstString = %q, want second@b.com", got)
	}

	if got := FirstString(payload, "nope", "also.nope"); got != "" {
		t.Errorf("FirstString on missing paths = %q, want empty", got)
	}
}

func TestFirstStringSkipsEmptyAndNonScalar(t *testing.T) {
	payload, err := ParseValue([]byte(`{"a": "  ", "b": {"nested": true}, "c": "value"}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}

	if got := FirstString(payload, "a", "b", "c"); got != "value" {
		t.Errorf("FirstString = %q, want value", got)
	}
}

func TestParseValueRejectsInvalidJSON(t *testing.T) {
	for _, raw := range []string{"", "{", `{"a":}`, `{"a":1} trailing`} {
		if _, err := ParseValue([]byte(raw)); err == nil {
			t.Errorf("ParseValue(%q) succeeded, want error", raw)
		}
	}
}
