// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when the caller does not supply a region hint.
// Marketplace portals served by this backend are Brazilian.
const DefaultRegion = "BR"

// Normalized is the outcome of parsing a raw phone value.
// When Valid is false, E164 is empty and Raw carries the trimmed input so
// callers can preserve it as free text instead of dropping it.
type Normalized struct {
	E164  string
	Raw   string
	Valid bool
}

// Normalize parses input against the given region (E.164 input needs no
// region). Invalid numbers are never an error: the trimmed input survives
// in Raw.
func Normalize(input, region string) Normalized {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Normalized{}
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return Normalized{Raw: trimmed}
	}

	if !phonenumbers.IsValidNumber(number) {
		return Normalized{Raw: trimmed}
	}

	return Normalized{
		E164:  phonenumbers.Format(number, phonenumbers.E164),
		Raw:   trimmed,
		Valid: true,
	}
}

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns
// the trimmed input.
func NormalizeE164(input, region string) string {
	n := Normalize(input, region)
	if n.Valid {
		return n.E164
	}
	return n.Raw
}
