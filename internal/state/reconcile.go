package state

import (
	"encoding/json"
	"fmt"

	"empctl/internal/model"
)

// Reconciler patches cached reads after a successful mutation so the UI sees
// the new data without a refetch.
type Reconciler interface {
	ApplyCreated(e model.Employee)
	ApplyUpdated(e model.Employee, fields map[string]json.RawMessage)
}

var _ Reconciler = (*Store)(nil)

// ApplyCreated prepends e to the List Cache when it is populated and upserts
// it into the Detail Cache. Failures are logged and swallowed.
func (s *Store) ApplyCreated(e model.Employee) {
	s.patch(EmployeeCreated{Employee: e, At: s.clock.Now()})
}

// ApplyUpdated merges fields onto the matching List Cache entry and replaces
// the Detail Cache entry with e. A nil fields map merges every attribute of e.
// Failures are logged and swallowed.
func (s *Store) ApplyUpdated(e model.Employee, fields map[string]json.RawMessage) {
	s.patch(EmployeeUpdated{Employee: e, Fields: fields, At: s.clock.Now()})
}

func (s *Store) patch(a Action) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("cache patch panicked", "action", a.Type(), "panic", fmt.Sprint(r))
		}
	}()
	if err := s.Dispatch(a); err != nil {
		s.logger.Debug("cache patch failed", "action", a.Type(), "error", err)
	}
}

func fieldsOf(e model.Employee) map[string]json.RawMessage {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}
