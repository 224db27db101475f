// Package form holds the editable state of the create/edit employee screen.
package form

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"empctl/internal/emp"
	"empctl/internal/model"
)

// SkillField is one skill row. Key identifies the row while the form is
// open and is never sent to the server.
type SkillField struct {
	Key   string
	Skill model.Skill
}

// Form is a create or edit session for one employee.
type Form struct {
	FirstName string
	LastName  string
	Phone     string
	Gender    model.Gender
	DOB       string
	Salary    float64

	skills  []SkillField
	editing model.ID
	ids     emp.IDGenerator
}

// New starts a create session with one empty skill row.
func New(ids emp.IDGenerator) *Form {
	f := &Form{ids: ids}
	f.AddSkill()
	return f
}

// FromEmployee starts an edit session pre-filled from e.
func FromEmployee(e model.Employee, ids emp.IDGenerator) *Form {
	f := &Form{
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Phone:     e.Phone,
		Gender:    e.Gender,
		DOB:       e.DOB,
		Salary:    float64(e.Salary),
		editing:   e.ID,
		ids:       ids,
	}
	if f.FirstName == "" && f.LastName == "" {
		parts := strings.Split(e.Name, " ")
		f.FirstName = parts[0]
		if len(parts) > 1 {
			f.LastName = parts[1]
		}
	}
	for _, s := range e.Skills {
		f.skills = append(f.skills, SkillField{Key: ids.New(), Skill: s})
	}
	if len(f.skills) == 0 {
		f.AddSkill()
	}
	return f
}

// Editing returns the id of the employee being edited. ok is false for a
// create session.
func (f *Form) Editing() (id model.ID, ok bool) {
	return f.editing, f.editing != ""
}

// Skills returns the skill rows in order.
func (f *Form) Skills() []SkillField {
	return slices.Clone(f.skills)
}

// AddSkill appends an empty row and returns its key.
func (f *Form) AddSkill() string {
	key := f.ids.New()
	f.skills = append(f.skills, SkillField{Key: key})
	return key
}

// RemoveSkill deletes the row with key. It reports whether a row was removed.
func (f *Form) RemoveSkill(key string) bool {
	i := f.index(key)
	if i < 0 {
		return false
	}
	f.skills = slices.Delete(f.skills, i, i+1)
	return true
}

// SetSkill replaces the contents of the row with key.
func (f *Form) SetSkill(key string, s model.Skill) error {
	i := f.index(key)
	if i < 0 {
		return fmt.Errorf("no skill row %q", key)
	}
	f.skills[i].Skill = s
	return nil
}

func (f *Form) index(key string) int {
	return slices.IndexFunc(f.skills, func(sf SkillField) bool { return sf.Key == key })
}

// Input returns the form contents without row keys.
func (f *Form) Input() model.EmployeeInput {
	skills := make([]model.Skill, len(f.skills))
	for i, sf := range f.skills {
		skills[i] = sf.Skill
	}
	return model.EmployeeInput{
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Phone:     f.Phone,
		Gender:    f.Gender,
		DOB:       f.DOB,
		Salary:    f.Salary,
		Skills:    skills,
	}
}

// Submit validates the form and builds the outbound record. Edit sessions
// carry the employee id.
func (f *Form) Submit(now time.Time) (model.Employee, error) {
	e, err := f.Input().Payload(now)
	if err != nil {
		return model.Employee{}, err
	}
	e.ID = f.editing
	return e, nil
}

// ParseSkill parses "name:level:years", e.g. "Go:advanced:5".
func ParseSkill(s string) (model.Skill, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return model.Skill{}, fmt.Errorf("skill %q: want name:level:years", s)
	}
	years, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return model.Skill{}, fmt.Errorf("skill %q: years: %w", s, err)
	}
	return model.Skill{
		Name:  parts[0],
		Level: model.Level(parts[1]),
		Years: model.Number(years),
	}, nil
}
