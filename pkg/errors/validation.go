package errors

import (
	"strings"
	"unicode"
)

// ValidateNodeID validates a document node identifier for safety and
// correctness. Node ids are opaque strings assigned by the
// content-management collaborator, but they flow into cache keys and
// durable table rows, so hostile or malformed ids are rejected early.
//
// The validation rules are intentionally conservative:
//   - No empty ids
//   - No control characters or null bytes
//   - No '|' (reserved as the canonical edge-key separator)
//   - Maximum length of 256 characters
func ValidateNodeID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidNode, "node id cannot be empty")
	}

	if len(id) > 256 {
		return New(ErrCodeInvalidNode, "node id too long (max 256 characters)")
	}

	for _, r := range id {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidNode, "node id contains invalid control characters")
		}
	}

	if strings.Contains(id, "|") {
		return New(ErrCodeInvalidNode, "node id cannot contain %q", "|")
	}

	return nil
}

// ValidateScore validates a relationship strength or confidence value.
// Scores outside [0,1] are an integrity violation.
func ValidateScore(name string, v float64) error {
	if v < 0 || v > 1 {
		return New(ErrCodeInvalidEdge, "%s %v out of range [0,1]", name, v)
	}
	return nil
}

// ValidateGraphPath validates a graph file path supplied on the command
// line. It prevents path traversal out of the working tree and rejects
// unreasonable lengths.
func ValidateGraphPath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	return nil
}
