// Package state is the client-side state container: the authentication
// partition, the cached API reads, and the pure transitions between them.
package state

import (
	"maps"
	"time"

	"empctl/internal/model"
)

// Partition names of the root state. They double as persistence keys.
const (
	PartitionAuth = "auth"
	PartitionAPI  = "api"
)

// Tag types and ids used for cache invalidation.
const (
	TagEmployee = "Employee"
	TagListID   = "LIST"
)

// Tag associates a cached read with the resource that can invalidate it.
// An empty ID matches every tag of the same type.
type Tag struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ListTag is provided by the employee list query.
func ListTag() Tag { return Tag{Type: TagEmployee, ID: TagListID} }

// EmployeeTag is provided by the detail query for id.
func EmployeeTag(id model.ID) Tag { return Tag{Type: TagEmployee, ID: id.String()} }

func (t Tag) matches(other Tag) bool {
	return t.Type == other.Type && (t.ID == "" || other.ID == "" || t.ID == other.ID)
}

// AuthState is the session partition.
type AuthState struct {
	IsLoggedIn  bool              `json:"isLoggedIn"`
	UserData    map[string]string `json:"userData"`
	AccessToken string            `json:"accessToken,omitempty"`
}

// InitialAuthState is the logged-out session.
func InitialAuthState() AuthState {
	return AuthState{UserData: map[string]string{}}
}

// Session is the view of AuthState handed to callers.
type Session struct {
	IsLoggedIn bool
	UserData   map[string]string
}

// ListEntry is the cached result of the "all employees" query.
type ListEntry struct {
	Data        []model.Employee `json:"data"`
	FulfilledAt time.Time        `json:"fulfilledAt"`
	Stale       bool             `json:"stale,omitempty"`
}

// DetailEntry is the cached result of one detail query.
type DetailEntry struct {
	Data        model.Employee `json:"data"`
	FulfilledAt time.Time      `json:"fulfilledAt"`
	Stale       bool           `json:"stale,omitempty"`
}

// APIState is the cache partition. A nil List means the list query has never
// succeeded.
type APIState struct {
	List    *ListEntry               `json:"list,omitempty"`
	Details map[model.ID]DetailEntry `json:"details"`
}

// InitialAPIState is the empty cache.
func InitialAPIState() APIState {
	return APIState{Details: map[model.ID]DetailEntry{}}
}

// RootState is the aggregate of all partitions.
type RootState struct {
	Auth AuthState `json:"auth"`
	API  APIState  `json:"api"`
}

// InitialState is the state before rehydration.
func InitialState() RootState {
	return RootState{Auth: InitialAuthState(), API: InitialAPIState()}
}

func (s APIState) withDetail(e model.Employee, at time.Time) APIState {
	details := maps.Clone(s.Details)
	if details == nil {
		details = map[model.ID]DetailEntry{}
	}
	details[e.ID] = DetailEntry{Data: e.Clone(), FulfilledAt: at}
	s.Details = details
	return s
}
