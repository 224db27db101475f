package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var phonePattern = regexp.MustCompile(`^\d{11}$`)

// EmployeeInput is the create/edit form contract. It is validated before any
// payload reaches the remote client.
type EmployeeInput struct {
	FirstName string
	LastName  string
	Phone     string
	Gender    Gender
	DOB       string
	Salary    float64
	Skills    []Skill
}

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks every field and returns all failures joined together.
func (in EmployeeInput) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(in.FirstName) == "" {
		add("employee_firstname", "must not be empty")
	}
	if strings.TrimSpace(in.LastName) == "" {
		add("employee_lastname", "must not be empty")
	}
	if !phonePattern.MatchString(in.Phone) {
		add("employee_phone", "phone number must contain 11 digits")
	}
	if !in.Gender.Valid() {
		add("employee_gender", "must be one of male, female, other")
	}
	if _, err := ParseDOB(in.DOB); err != nil {
		add("employee_dob", "must be an ISO-8601 date-time")
	}
	if len(in.Skills) == 0 {
		add("employee_skills", "at least one skill is required")
	}
	for i, s := range in.Skills {
		if strings.TrimSpace(s.Name) == "" {
			add(fmt.Sprintf("employee_skills[%d].name", i), "must not be empty")
		}
		if !s.Level.Valid() {
			add(fmt.Sprintf("employee_skills[%d].level", i), "must be one of beginner, intermediate, advanced")
		}
	}
	return errors.Join(errs...)
}

// Payload validates the input and builds the outbound employee record.
// The age is recomputed from the date of birth at submit time.
func (in EmployeeInput) Payload(now time.Time) (Employee, error) {
	if err := in.Validate(); err != nil {
		return Employee{}, err
	}
	dob, _ := ParseDOB(in.DOB)
	return Employee{
		Name:      in.FirstName + " " + in.LastName,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Age:       AgeAt(dob, now),
		DOB:       in.DOB,
		Gender:    in.Gender,
		Phone:     in.Phone,
		Salary:    Number(in.Salary),
		Skills:    append([]Skill(nil), in.Skills...),
	}, nil
}

// ParseDOB parses an ISO-8601 date-time as sent by the form.
func ParseDOB(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// AgeAt returns the number of whole years between dob and now.
func AgeAt(dob, now time.Time) int {
	now = now.In(dob.Location())
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
