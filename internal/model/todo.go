package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority is the optional importance of a todo
type Priority int

const (
	PriorityUnset Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityNormal: "NORMAL",
	PriorityHigh:   "HIGH",
}

// String returns the enum name, or "" when unset
func (p Priority) String() string {
	return priorityNames[p]
}

// ParsePriority converts an enum name (case-insensitive) to a Priority.
// The empty string parses to PriorityUnset.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return PriorityUnset, nil
	}
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityUnset, fmt.Errorf("%w: unknown priority %q", ErrInvalidRecord, s)
}

// MarshalJSON encodes the priority as its enum name or null
func (p Priority) MarshalJSON() ([]byte, error) {
	if p == PriorityUnset {
		return []byte("null"), nil
	}
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes an enum name or null
func (p *Priority) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = PriorityUnset
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: priority must be a string", ErrInvalidRecord)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Todo is the single synced entity.
// Version, Deleted and the timestamps are owned by the remote endpoint; a record
// that was never acknowledged carries Version 0 and local clock timestamps.
type Todo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   *string   `json:"description"`
	Priority      Priority  `json:"priority"`
	Version       int64     `json:"_version"`
	Deleted       bool      `json:"_deleted"`
	LastChangedAt int64     `json:"_lastChangedAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewTodo creates an unacknowledged todo with local timestamps
func NewTodo(id string, fields Fields) Todo {
	now := time.Now().UTC().Truncate(time.Millisecond)
	t := Todo{
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastChangedAt: now.UnixMilli(),
	}
	fields.Apply(&t)
	return t
}

// IsPending returns true if the remote has never acknowledged the record
func (t *Todo) IsPending() bool {
	return t.Version == 0
}

// MarkDeleted turns the record into a tombstone
func (t *Todo) MarkDeleted() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	t.Deleted = true
	t.UpdatedAt = now
	t.LastChangedAt = now.UnixMilli()
}

// SameContent reports whether two records carry the same client-visible fields
func (t Todo) SameContent(o Todo) bool {
	if t.ID != o.ID || t.Name != o.Name || t.Priority != o.Priority || t.Deleted != o.Deleted {
		return false
	}
	switch {
	case t.Description == nil && o.Description == nil:
		return true
	case t.Description == nil || o.Description == nil:
		return false
	default:
		return *t.Description == *o.Description
	}
}

// DescriptionText returns the description or "" when unset
func (t Todo) DescriptionText() string {
	if t.Description == nil {
		return ""
	}
	return *t.Description
}

// Fields is a partial set of client-writable fields. ClearDescription
// removes the description and excludes setting one.
type Fields struct {
	Name             *string   `json:"name,omitempty"`
	Description      *string   `json:"description,omitempty"`
	ClearDescription bool      `json:"clearDescription,omitempty"`
	Priority         *Priority `json:"priority,omitempty"`
}

// Apply copies every set field onto t
func (f Fields) Apply(t *Todo) {
	if f.Name != nil {
		t.Name = strings.TrimSpace(*f.Name)
	}
	if f.Description != nil {
		d := *f.Description
		t.Description = &d
	}
	if f.ClearDescription {
		t.Description = nil
	}
	if f.Priority != nil {
		t.Priority = *f.Priority
	}
}

// IsEmpty returns true if no field is set
func (f Fields) IsEmpty() bool {
	return f.Name == nil && f.Description == nil && !f.ClearDescription && f.Priority == nil
}

// Validate checks the field set. A create requires a name.
func (f Fields) Validate(create bool) error {
	if create && f.Name == nil {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if f.Name != nil && strings.TrimSpace(*f.Name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrInvalidRecord)
	}
	if f.ClearDescription && f.Description != nil {
		return fmt.Errorf("%w: description cannot be both set and cleared", ErrInvalidRecord)
	}
	if f.Priority != nil {
		if _, ok := priorityNames[*f.Priority]; !ok && *f.Priority != PriorityUnset {
			return fmt.Errorf("%w: invalid priority %d", ErrInvalidRecord, int(*f.Priority))
		}
	}
	return nil
}

// String returns a pointer to s, for building Fields
func String(s string) *string {
	return &s
}

// PriorityOf returns a pointer to p, for building Fields
func PriorityOf(p Priority) *Priority {
	return &p
}
