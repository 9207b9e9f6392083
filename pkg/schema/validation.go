package schema

import "fmt"

// ValidationSeverity indicates whether an issue blocks activation.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationError is a single authoring problem attributed to a node
// (and, for connection problems, to an edge).
type ValidationError struct {
	NodeID   string             `json:"nodeId,omitempty"`
	EdgeID   string             `json:"edgeId,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (v ValidationError) String() string {
	switch {
	case v.NodeID != "":
		return fmt.Sprintf("node %s: %s", v.NodeID, v.Message)
	case v.EdgeID != "":
		return fmt.Sprintf("edge %s: %s", v.EdgeID, v.Message)
	default:
		return v.Message
	}
}

// ValidationResult aggregates errors and warnings produced by the compiler.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors. Warnings are acceptable.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue for a node.
func (r *ValidationResult) AddError(nodeID, code, message string) {
	r.Errors = append(r.Errors, ValidationError{
		NodeID: nodeID, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddEdgeError appends an error-severity issue for an edge.
func (r *ValidationResult) AddEdgeError(edgeID, code, message string) {
	r.Errors = append(r.Errors, ValidationError{
		EdgeID: edgeID, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue for a node.
func (r *ValidationResult) AddWarning(nodeID, code, message string) {
	r.Warnings = append(r.Warnings, ValidationError{
		NodeID: nodeID, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ForNode returns the error messages attributed to nodeID.
func (r *ValidationResult) ForNode(nodeID string) []string {
	var out []string
	for _, e := range r.Errors {
		if e.NodeID == nodeID {
			out = append(out, e.Message)
		}
	}
	return out
}

// ToError converts the result to a FlowError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	code := r.Errors[0].Code
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
		code = ErrCodeValidation
	}

	return NewError(code, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
