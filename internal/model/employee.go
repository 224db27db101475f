package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a server-assigned employee identifier. The collaborator sends ids as
// JSON numbers; caches key them by their string form.
type ID string

func (id ID) String() string { return string(id) }

// MarshalJSON writes canonical integer ids as JSON numbers and anything else,
// including "007" or "+5", as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

// Number is a numeric attribute that tolerates being sent as a quoted string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decoding number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// Gender is the enumerated employee gender.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Level is a skill proficiency level.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// Skill is owned by exactly one Employee and has no identity of its own.
type Skill struct {
	Name  string `json:"name"`
	Level Level  `json:"level"`
	Years Number `json:"years"`
}

// Employee is the record exchanged with the REST collaborator. The server is
// the sole source of truth; the client never assigns IDs.
type Employee struct {
	ID           ID      `json:"id,omitempty"`
	Name         string  `json:"employee_name"`
	FirstName    string  `json:"employee_firstname,omitempty"`
	LastName     string  `json:"employee_lastname,omitempty"`
	Age          int     `json:"employee_age"`
	DOB          string  `json:"employee_dob,omitempty"` // ISO-8601 date-time
	Gender       Gender  `json:"employee_gender,omitempty"`
	Phone        string  `json:"employee_phone,omitempty"`
	Salary       Number  `json:"employee_salary"`
	Skills       []Skill `json:"employee_skills,omitempty"`
	ProfileImage string  `json:"profile_image,omitempty"`
}

// Clone returns a copy of e that shares no slices with it.
func (e Employee) Clone() Employee {
	if e.Skills != nil {
		e.Skills = append([]Skill(nil), e.Skills...)
	}
	return e
}

// DecodeEmployee decodes a server record and returns both the typed value and
// the raw fields the server actually sent. Records without an id are rejected.
func DecodeEmployee(raw json.RawMessage) (Employee, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Employee{}, nil, fmt.Errorf("decoding employee fields: %w", err)
	}
	var e Employee
	if err := json.Unmarshal(raw, &e); err != nil {
		return Employee{}, nil, fmt.Errorf("decoding employee: %w", err)
	}
	if e.ID == "" {
		return Employee{}, nil, fmt.Errorf("employee record has no id")
	}
	return e, fields, nil
}

// MergeFields applies fields onto base the way a shallow object assign would:
// every key present in fields replaces the corresponding attribute, and every
// attribute not mentioned is left untouched.
func MergeFields(base Employee, fields map[string]json.RawMessage) (Employee, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return Employee{}, fmt.Errorf("encoding base employee: %w", err)
	}
	current := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &current); err != nil {
		return Employee{}, fmt.Errorf("splitting base employee: %w", err)
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return Employee{}, fmt.Errorf("encoding merged employee: %w", err)
	}
	var out Employee
	if err := json.Unmarshal(merged, &out); err != nil {
		return Employee{}, fmt.Errorf("decoding merged employee: %w", err)
	}
	return out, nil
}
