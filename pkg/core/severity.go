package core

import "strings"

// =============================================================================
// Severity
// =============================================================================

// Severity is the backend-assigned importance of a message.
// Values follow the 0..25 scale used by the primary relational engine:
// 10 and below are informational, 11..16 are user errors, 17 and above are
// resource or system failures.
type Severity int

// Well-known severities used by providers that do not report a numeric class.
const (
	// SeverityInfo is used for notices and PRINT output.
	SeverityInfo Severity = 0
	// SeverityWarning is used for warnings that did not fail the statement.
	SeverityWarning Severity = 10
	// SeverityError is the default for a failed statement.
	SeverityError Severity = 16
	// SeverityFatal is used when the connection itself is no longer usable.
	SeverityFatal Severity = 20
)

// IsError reports whether the severity denotes a failed statement.
func (s Severity) IsError() bool {
	return s > SeverityWarning
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch {
	case s >= SeverityFatal:
		return "fatal"
	case s > SeverityWarning:
		return "error"
	case s == SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// ParseSeverity converts a string to a Severity value.
// Returns the severity and true if valid, or SeverityInfo and false if invalid.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(s) {
	case "fatal", "panic":
		return SeverityFatal, true
	case "error":
		return SeverityError, true
	case "warning":
		return SeverityWarning, true
	case "info", "notice", "debug", "log":
		return SeverityInfo, true
	default:
		return SeverityInfo, false
	}
}
