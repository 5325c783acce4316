// Package sanitize provides text sanitization utilities for user-provided
// free-text fields.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// htmlTagRegex matches HTML tags
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	// spaceRegex matches runs of whitespace, including newlines
	spaceRegex = regexp.MustCompile(`\s+`)
)

// StripHTML removes all HTML tags from a string, making it safe for text-only
// display. This is a defense-in-depth measure; frontend should also escape
// output.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	// Decode common HTML entities
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text sanitizes a string for safe text storage by stripping HTML.
// Use for user-provided text fields like descriptions, notes, and comments.
func Text(s string) string {
	return StripHTML(s)
}

// Compact strips HTML, collapses all whitespace runs to single spaces, and
// caps the result at max runes. Use for message bodies coming from webhook
// payloads, which may carry arbitrary formatting and unbounded length.
func Compact(s string, max int) string {
	result := spaceRegex.ReplaceAllString(StripHTML(s), " ")
	result = strings.TrimSpace(result)
	if max > 0 {
		runes := []rune(result)
		if len(runes) > max {
			result = string(runes[:max])
		}
	}
	return result
}
