package security

import "fmt"

// Severity classifies how serious a finding is. Only the orchestrator
// decides whether a given severity aborts an installation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category identifies the class of problem a finding describes.
type Category string

const (
	CategoryPathTraversal     Category = "path-traversal"
	CategorySymlinkEscape     Category = "symlink-escape"
	CategoryOversizedEntry    Category = "oversized-entry"
	CategoryDisallowedScheme  Category = "disallowed-scheme"
	CategorySuspiciousContent Category = "suspicious-content"
)

// Finding describes one dangerous path, entry, or file content match.
// Findings are produced in bulk and never mutated after creation.
type Finding struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// String renders the finding for human display.
func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s (%s)", f.Severity, f.Category, f.Message, f.Path)
}

// HasCritical reports whether any finding in the slice is critical.
func HasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
