package aggregation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGroupExpression marks a malformed group-by expression.
// Returned from the configurator before any stream starts — a bad
// expression is never discovered mid-stream.
var ErrInvalidGroupExpression = errors.New("invalid group expression")

// ParseGroupExpression decomposes a dotted group-by expression into a
// GroupField. Every segment before the last names a relationship to
// traverse; the last segment is the field read for the group key.
//
//	"region"          → GroupField{Field: "region"}
//	"addresses.state" → GroupField{Path: ["addresses"], Field: "state"}
func ParseGroupExpression(expr string) (GroupField, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return GroupField{}, fmt.Errorf("%w: empty expression", ErrInvalidGroupExpression)
	}

	segments := strings.Split(expr, ".")
	for _, seg := range segments {
		if !validSegment(seg) {
			return GroupField{}, fmt.Errorf("%w: %q", ErrInvalidGroupExpression, expr)
		}
	}

	last := len(segments) - 1
	gf := GroupField{Field: segments[last]}
	if last > 0 {
		gf.Path = segments[:last]
	}
	return gf, nil
}

// ExtractRelationshipDependencies returns the ordered relationship-name
// prefix of a group-by expression. A plain field yields an empty list.
func ExtractRelationshipDependencies(expr string) ([]string, error) {
	gf, err := ParseGroupExpression(expr)
	if err != nil {
		return nil, err
	}
	return gf.Path, nil
}

// validSegment accepts identifier-shaped segments: letters, digits and
// underscores, not starting with a digit.
func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i, r := range seg {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
