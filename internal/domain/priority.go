package domain

import (
	"encoding/json"
	"fmt"
)

// Priority is the closed set of todo priorities. The zero value means the
// todo has no priority.
type Priority uint8

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

// ParsePriority maps the wire spelling onto a Priority. An empty string is
// treated as "no priority".
func ParsePriority(raw string) (Priority, error) {
	switch raw {
	case "":
		return PriorityNone, nil
	case "Low":
		return PriorityLow, nil
	case "Medium":
		return PriorityMedium, nil
	case "High":
		return PriorityHigh, nil
	default:
		return PriorityNone, invalidPriority(raw)
	}
}

// PriorityFromNullable is the inverse of Nullable, used when scanning rows.
func PriorityFromNullable(raw *string) (Priority, error) {
	if raw == nil {
		return PriorityNone, nil
	}
	return ParsePriority(*raw)
}

func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return ""
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}
}

func (p Priority) IsSet() bool {
	return p != PriorityNone
}

// Nullable returns nil for PriorityNone and the wire spelling otherwise.
func (p Priority) Nullable() *string {
	if !p.IsSet() {
		return nil
	}
	s := p.String()
	return &s
}

func (p Priority) MarshalJSON() ([]byte, error) {
	switch p {
	case PriorityNone:
		return []byte("null"), nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return json.Marshal(p.String())
	default:
		return nil, fmt.Errorf("marshal priority: unknown value %d", uint8(p))
	}
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := PriorityFromNullable(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func invalidPriority(raw any) error {
	return &ValidationError{Msg: fmt.Sprintf("invalid priority: %v. Must be one of Low, Medium, High", raw)}
}
