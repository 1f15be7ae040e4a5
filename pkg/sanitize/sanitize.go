// Package sanitize scrubs request input before it reaches storage or other
// users' screens. Persistence goes through parameterized queries, so the
// concern here is markup, control characters, and path tricks.
package sanitize

import (
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// SanitizeText cleans free-form text such as message bodies and symptom
// descriptions. Newlines and tabs survive; other control characters do not.
func SanitizeText(input string) string {
	input = strings.TrimSpace(input)

	var result strings.Builder
	for _, r := range input {
		if r == '\n' || r == '\t' {
			result.WriteRune(r)
			continue
		}
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}

	return html.EscapeString(result.String())
}

// SanitizeDisplayName cleans a user-visible name: trims, collapses runs of
// whitespace, and strips control characters and markup brackets.
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	name = regexp.MustCompile(`\s+`).ReplaceAllString(name, " ")
	name = strings.NewReplacer("<", "", ">", "").Replace(name)
	return StripControlCharacters(name)
}

// SanitizeFilename reduces a client-supplied filename to a safe base name.
func SanitizeFilename(filename string) string {
	filename = strings.TrimSpace(filename)
	filename = filepath.Base(filename)

	// Base can still return "." or ".." for degenerate input
	if filename == "." || filename == ".." || filename == string(filepath.Separator) {
		return ""
	}

	reg := regexp.MustCompile(`[\x00-\x1f\x7f]`)
	return reg.ReplaceAllString(filename, "")
}

// SanitizeEmail normalizes email input for lookups.
func SanitizeEmail(email string) string {
	email = strings.TrimSpace(email)
	email = strings.ToLower(email)
	return regexp.MustCompile(`[<>;\\]`).ReplaceAllString(email, "")
}

// ValidateStringLength checks if string length is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	if len(input) < minLen {
		return false
	}
	if len(input) > maxLen {
		return false
	}
	return true
}

// ValidateEmailFormat checks if email format is valid
func ValidateEmailFormat(email string) bool {
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailRegex.MatchString(email)
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
