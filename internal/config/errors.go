package config

import (
	"errors"
	"fmt"
)

// ErrLocked is returned when writing to a node that has been locked read-only.
var ErrLocked = errors.New("config node is locked")

// TypeConflictError reports a value whose inferred kind differs from the
// kind already recorded for a parameter.
type TypeConflictError struct {
	Param string
	Want  Kind
	Got   Kind
}

func (e *TypeConflictError) Error() string {
	return fmt.Sprintf("parameter %q: cannot assign %s value to %s parameter", e.Param, e.Got, e.Want)
}

// MappingValueError reports an attempt to store a key-value mapping as a
// parameter value. Mappings must be expressed as child nodes instead.
type MappingValueError struct {
	Param string
	Type  string
}

func (e *MappingValueError) Error() string {
	return fmt.Sprintf("parameter %q: mapping value of type %s is not allowed, use a child node", e.Param, e.Type)
}

// KeyNotFoundError reports a dotted path segment that could not be resolved.
type KeyNotFoundError struct {
	Path    string
	Segment string
}

func (e *KeyNotFoundError) Error() string {
	if e.Segment == e.Path {
		return fmt.Sprintf("key %q not found", e.Path)
	}
	return fmt.Sprintf("key %q not found: unresolved segment %q", e.Path, e.Segment)
}

// EnumerationError reports a tree that cannot be expanded into concrete
// configurations, typically a malformed named-branch axis.
type EnumerationError struct {
	Axis   string
	Reason string
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("cannot enumerate axis %q: %s", e.Axis, e.Reason)
}
