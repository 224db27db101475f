package state

import (
	"encoding/json"
	"time"

	"empctl/internal/model"
)

// Action is a state transition request. Actions are plain values; Reduce
// decides what they do.
type Action interface {
	Type() string
}

// LoginFulfilled records a successful login.
type LoginFulfilled struct {
	Username string
	Token    string
}

// LoggedOut clears the session and every cached read.
type LoggedOut struct{}

// APIReset empties the cache partition without touching the session.
type APIReset struct{}

// ListFulfilled stores the result of the list query.
type ListFulfilled struct {
	Employees []model.Employee
	At        time.Time
}

// DetailFulfilled stores the result of a detail query.
type DetailFulfilled struct {
	Employee model.Employee
	At       time.Time
}

// EmployeeCreated patches the caches with a record the server just created.
type EmployeeCreated struct {
	Employee model.Employee
	At       time.Time
}

// EmployeeUpdated patches the caches with a record the server just updated.
// Fields holds exactly the attributes the server returned.
type EmployeeUpdated struct {
	Employee model.Employee
	Fields   map[string]json.RawMessage
	At       time.Time
}

// TagsInvalidated marks every cached read providing one of Tags as stale.
type TagsInvalidated struct {
	Tags []Tag
}

// Rehydrated replaces partitions with values restored from storage. Nil
// partitions keep their current value.
type Rehydrated struct {
	Auth *AuthState
	API  *APIState
}

func (LoginFulfilled) Type() string  { return "auth/loginFulfilled" }
func (LoggedOut) Type() string       { return "auth/logout" }
func (APIReset) Type() string        { return "api/resetApiState" }
func (ListFulfilled) Type() string   { return "api/listFulfilled" }
func (DetailFulfilled) Type() string { return "api/detailFulfilled" }
func (EmployeeCreated) Type() string { return "api/employeeCreated" }
func (EmployeeUpdated) Type() string { return "api/employeeUpdated" }
func (TagsInvalidated) Type() string { return "api/invalidateTags" }
func (Rehydrated) Type() string      { return "persist/rehydrate" }
