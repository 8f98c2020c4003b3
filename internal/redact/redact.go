// Package redact removes credentials and personal attribute values from
// strings before they are logged. Engine errors can echo fragments of a
// record, and connection errors can echo a DSN, so both pass through here.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedSSNPlaceholder        = "[REDACTED_SSN]"
	RedactedPhonePlaceholder      = "[REDACTED_PHONE]"
)

type rule struct {
	re          *regexp.Regexp
	placeholder string
}

// rules are applied in order; credentials go first so that the user part of
// a DSN is not mistaken for an email address.
var rules = []rule{
	{regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss)://[^@\s]+@`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), RedactedSSNPlaceholder},
	{regexp.MustCompile(`\b\d{3}[-. ]\d{3}[-. ]\d{4}\b`), RedactedPhonePlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
