package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"empctl/internal/emp"
	"empctl/internal/model"
)

// Store holds the current RootState and serializes transitions.
type Store struct {
	mu        sync.Mutex
	state     RootState
	clock     emp.Clock
	logger    emp.Logger
	listeners map[int]func(Action)
	nextID    int
}

// NewStore returns a Store holding InitialState.
func NewStore(clock emp.Clock, logger emp.Logger) *Store {
	return &Store{
		state:     InitialState(),
		clock:     clock,
		logger:    logger,
		listeners: make(map[int]func(Action)),
	}
}

// Dispatch applies a. When Reduce fails the state is left unchanged and no
// subscriber is notified.
func (s *Store) Dispatch(a Action) error {
	listeners, err := s.apply(a)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Type(), err)
	}
	for _, fn := range listeners {
		fn(a)
	}
	return nil
}

func (s *Store) apply(a Action) ([]func(Action), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Reduce(s.state, a)
	if err != nil {
		return nil, err
	}
	s.state = next
	listeners := make([]func(Action), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners, nil
}

// Subscribe registers fn to be called after every successful transition.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Action)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// State returns the current state. Callers must treat it as read-only.
func (s *Store) State() RootState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the current Session State.
func (s *Store) Session() Session {
	auth := s.State().Auth
	return Session{IsLoggedIn: auth.IsLoggedIn, UserData: maps.Clone(auth.UserData)}
}

// AccessToken returns the bearer token of the current session, if any.
func (s *Store) AccessToken() string {
	return s.State().Auth.AccessToken
}

// CachedList returns the List Cache. ok is false when the list query has never
// succeeded or its entry was invalidated.
func (s *Store) CachedList() (employees []model.Employee, ok bool) {
	list := s.State().API.List
	if list == nil || list.Stale {
		return nil, false
	}
	out := make([]model.Employee, len(list.Data))
	for i, e := range list.Data {
		out[i] = e.Clone()
	}
	return out, true
}

// CachedDetail returns the Detail Cache entry for id when present and fresh.
func (s *Store) CachedDetail(id model.ID) (model.Employee, bool) {
	entry, ok := s.State().API.Details[id]
	if !ok || entry.Stale {
		return model.Employee{}, false
	}
	return entry.Data.Clone(), true
}

// Partitions returns the root state keyed by partition name, ready to be
// persisted.
func (s *Store) Partitions() map[string]any {
	st := s.State()
	return map[string]any{
		PartitionAuth: st.Auth,
		PartitionAPI:  st.API,
	}
}

// Rehydrate restores partitions previously produced by Partitions and passed
// through storage. Values arrive as generic JSON-shaped data; a partition that
// cannot be decoded is logged and left at its current value.
func (s *Store) Rehydrate(parts map[string]any) error {
	var action Rehydrated
	if raw, ok := parts[PartitionAuth]; ok && raw != nil {
		var auth AuthState
		if err := redecode(raw, &auth); err != nil {
			s.logger.Warn("discarding stored partition", "partition", PartitionAuth, "error", err)
		} else {
			action.Auth = &auth
		}
	}
	if raw, ok := parts[PartitionAPI]; ok && raw != nil {
		var api APIState
		if err := redecode(raw, &api); err != nil {
			s.logger.Warn("discarding stored partition", "partition", PartitionAPI, "error", err)
		} else {
			action.API = &api
		}
	}
	return s.Dispatch(action)
}

func redecode(raw any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding stored value: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding stored value: %w", err)
	}
	return nil
}
