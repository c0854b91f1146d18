package finding

import "fmt"

// Severity represents the severity level of a finding.
type Severity string

const (
	// SeverityInformation is evidence without direct security impact.
	SeverityInformation Severity = "information"

	// SeverityLow indicates a minor issue.
	SeverityLow Severity = "low"

	// SeverityMedium indicates a moderate issue.
	SeverityMedium Severity = "medium"

	// SeverityHigh indicates a high-impact issue.
	SeverityHigh Severity = "high"

	// SeverityCritical indicates an issue requiring immediate attention.
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities from information (1) to critical (5).
var severityRanks = map[Severity]int{
	SeverityInformation: 1,
	SeverityLow:         2,
	SeverityMedium:      3,
	SeverityHigh:        4,
	SeverityCritical:    5,
}

// IsValid returns true if the severity level is valid.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank returns the position of the severity in the information < low <
// medium < high < critical order. Returns 0 for invalid severity levels.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a string into a Severity value.
// Returns an error if the string is not a valid severity level.
func ParseSeverity(s string) (Severity, error) {
	severity := Severity(s)
	if !severity.IsValid() {
		return "", fmt.Errorf("invalid severity: %s", s)
	}
	return severity, nil
}

// CompareSeverity compares two severity levels.
// Returns:
//   - negative if s1 < s2
//   - zero if s1 == s2
//   - positive if s1 > s2
func CompareSeverity(s1, s2 Severity) int {
	return s1.Rank() - s2.Rank()
}

// AllSeverities returns all valid severity levels in order from critical to information.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInformation,
	}
}
