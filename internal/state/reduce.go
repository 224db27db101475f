package state

import (
	"fmt"
	"maps"

	"empctl/internal/model"
)

// Reduce computes the state that follows s after a. It never mutates s: every
// slice or map that changes is copied first, so values previously handed out
// by a Store stay valid.
func Reduce(s RootState, a Action) (RootState, error) {
	switch a := a.(type) {
	case LoginFulfilled:
		s.Auth = AuthState{
			IsLoggedIn:  true,
			UserData:    map[string]string{"username": a.Username},
			AccessToken: a.Token,
		}
	case LoggedOut:
		s.Auth = InitialAuthState()
		s.API = InitialAPIState()
	case APIReset:
		s.API = InitialAPIState()
	case ListFulfilled:
		data := make([]model.Employee, len(a.Employees))
		for i, e := range a.Employees {
			data[i] = e.Clone()
		}
		s.API.List = &ListEntry{Data: data, FulfilledAt: a.At}
	case DetailFulfilled:
		s.API = s.API.withDetail(a.Employee, a.At)
	case EmployeeCreated:
		if s.API.List != nil {
			data := make([]model.Employee, 0, len(s.API.List.Data)+1)
			data = append(data, a.Employee.Clone())
			data = append(data, s.API.List.Data...)
			list := *s.API.List
			list.Data = data
			s.API.List = &list
		}
		s.API = s.API.withDetail(a.Employee, a.At)
	case EmployeeUpdated:
		if s.API.List != nil {
			for i, e := range s.API.List.Data {
				if e.ID != a.Employee.ID {
					continue
				}
				fields := a.Fields
				if fields == nil {
					fields = fieldsOf(a.Employee)
				}
				merged, err := model.MergeFields(e, fields)
				if err != nil {
					return s, fmt.Errorf("patching list entry %s: %w", e.ID, err)
				}
				data := append([]model.Employee(nil), s.API.List.Data...)
				data[i] = merged
				list := *s.API.List
				list.Data = data
				s.API.List = &list
				break
			}
		}
		s.API = s.API.withDetail(a.Employee, a.At)
	case TagsInvalidated:
		s.API = invalidate(s.API, a.Tags)
	case Rehydrated:
		if a.Auth != nil {
			auth := *a.Auth
			if auth.UserData == nil {
				auth.UserData = map[string]string{}
			}
			s.Auth = auth
		}
		if a.API != nil {
			api := *a.API
			if api.Details == nil {
				api.Details = map[model.ID]DetailEntry{}
			}
			s.API = api
		}
	default:
		return s, fmt.Errorf("unknown action %T", a)
	}
	return s, nil
}

func invalidate(api APIState, tags []Tag) APIState {
	if api.List != nil && !api.List.Stale && anyMatch(tags, ListTag()) {
		list := *api.List
		list.Stale = true
		api.List = &list
	}
	var details map[model.ID]DetailEntry
	for id, entry := range api.Details {
		if entry.Stale || !anyMatch(tags, EmployeeTag(id)) {
			continue
		}
		if details == nil {
			details = maps.Clone(api.Details)
		}
		entry.Stale = true
		details[id] = entry
	}
	if details != nil {
		api.Details = details
	}
	return api
}

func anyMatch(tags []Tag, provided Tag) bool {
	for _, t := range tags {
		if t.matches(provided) {
			return true
		}
	}
	return false
}
