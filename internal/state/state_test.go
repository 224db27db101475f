package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empctl/internal/emp"
	"empctl/internal/model"
	"empctl/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *testutil.RecordingLogger) {
	t.Helper()
	logger := testutil.NewRecordingLogger()
	return NewStore(testutil.FixedClock(), logger), logger
}

func employees(ids ...string) []model.Employee {
	out := make([]model.Employee, len(ids))
	for i, id := range ids {
		out[i] = model.Employee{ID: model.ID(id), Name: "Employee " + id, Age: 30, Salary: 1000}
	}
	return out
}

func ids(list []model.Employee) []model.ID {
	out := make([]model.ID, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func TestStore_LoginAndLogout(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Dispatch(LoginFulfilled{Username: "alice", Token: "tok"}))
	assert.Equal(t, Session{IsLoggedIn: true, UserData: map[string]string{"username": "alice"}}, s.Session())
	assert.Equal(t, "tok", s.AccessToken())

	require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1", "2")}))
	require.NoError(t, s.Dispatch(DetailFulfilled{Employee: employees("1")[0]}))

	require.NoError(t, s.Dispatch(LoggedOut{}))
	assert.Equal(t, Session{IsLoggedIn: false, UserData: map[string]string{}}, s.Session())
	assert.Empty(t, s.AccessToken())

	_, ok := s.CachedList()
	assert.False(t, ok, "list cache must be emptied on logout")
	_, ok = s.CachedDetail("1")
	assert.False(t, ok, "detail cache must be emptied on logout")
}

func TestStore_SessionIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Dispatch(LoginFulfilled{Username: "alice"}))

	sess := s.Session()
	sess.UserData["username"] = "mallory"

	assert.Equal(t, "alice", s.Session().UserData["username"])
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	before, err := Reduce(InitialState(), ListFulfilled{Employees: employees("1", "2")})
	require.NoError(t, err)
	before, err = Reduce(before, DetailFulfilled{Employee: employees("1")[0]})
	require.NoError(t, err)

	created := model.Employee{ID: "3", Name: "New"}
	after, err := Reduce(before, EmployeeCreated{Employee: created})
	require.NoError(t, err)

	assert.Equal(t, []model.ID{"1", "2"}, ids(before.API.List.Data))
	assert.Len(t, before.API.Details, 1)
	assert.Equal(t, []model.ID{"3", "1", "2"}, ids(after.API.List.Data))
	assert.Len(t, after.API.Details, 2)
}

func TestReduce_UnknownAction(t *testing.T) {
	type bogus struct{ LoggedOut }
	_, err := Reduce(InitialState(), bogus{})
	assert.Error(t, err)
}

func TestStore_ApplyCreated(t *testing.T) {
	t.Run("prepends to populated list", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1", "2")}))

		s.ApplyCreated(model.Employee{ID: "42", Name: "Jane Doe"})

		list, ok := s.CachedList()
		require.True(t, ok)
		assert.Equal(t, []model.ID{"42", "1", "2"}, ids(list))

		detail, ok := s.CachedDetail("42")
		require.True(t, ok)
		assert.Equal(t, "Jane Doe", detail.Name)
	})

	t.Run("unpopulated list only fills detail", func(t *testing.T) {
		s, logger := newTestStore(t)

		s.ApplyCreated(model.Employee{ID: "42", Name: "Jane Doe"})

		_, ok := s.CachedList()
		assert.False(t, ok)
		assert.Nil(t, s.State().API.List)
		_, ok = s.CachedDetail("42")
		assert.True(t, ok)
		assert.Zero(t, logger.Count("DEBUG"), logger.String())
	})
}

func TestStore_ApplyUpdated(t *testing.T) {
	t.Run("merges returned fields in place", func(t *testing.T) {
		s, _ := newTestStore(t)
		list := employees("1", "2", "3")
		list[1].Phone = "01234567890"
		require.NoError(t, s.Dispatch(ListFulfilled{Employees: list}))

		fields := map[string]json.RawMessage{
			"id":              json.RawMessage(`2`),
			"employee_name":   json.RawMessage(`"Renamed"`),
			"employee_salary": json.RawMessage(`5000`),
		}
		server := model.Employee{ID: "2", Name: "Renamed", Salary: 5000}
		s.ApplyUpdated(server, fields)

		got, ok := s.CachedList()
		require.True(t, ok)
		assert.Equal(t, []model.ID{"1", "2", "3"}, ids(got))
		assert.Equal(t, "Renamed", got[1].Name)
		assert.Equal(t, model.Number(5000), got[1].Salary)
		assert.Equal(t, "01234567890", got[1].Phone, "fields absent from the response are kept")
		assert.Equal(t, 30, got[1].Age)

		detail, ok := s.CachedDetail("2")
		require.True(t, ok)
		assert.Equal(t, server, detail, "detail cache holds the full server record")
	})

	t.Run("id not in list leaves list untouched", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1")}))

		s.ApplyUpdated(model.Employee{ID: "9", Name: "Other"}, nil)

		got, ok := s.CachedList()
		require.True(t, ok)
		assert.Equal(t, employees("1"), got)
		_, ok = s.CachedDetail("9")
		assert.True(t, ok)
	})

	t.Run("unpopulated list stays empty", func(t *testing.T) {
		s, _ := newTestStore(t)

		s.ApplyUpdated(model.Employee{ID: "5", Name: "Solo"}, nil)

		_, ok := s.CachedList()
		assert.False(t, ok)
		assert.Nil(t, s.State().API.List)
		detail, ok := s.CachedDetail("5")
		require.True(t, ok)
		assert.Equal(t, "Solo", detail.Name)
	})

	t.Run("nil fields merges the whole record", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1")}))

		s.ApplyUpdated(model.Employee{ID: "1", Name: "Whole", Age: 41}, nil)

		got, _ := s.CachedList()
		assert.Equal(t, "Whole", got[0].Name)
		assert.Equal(t, 41, got[0].Age)
	})

	t.Run("patch failure is swallowed", func(t *testing.T) {
		s, logger := newTestStore(t)
		require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1")}))
		before := s.State()

		s.ApplyUpdated(model.Employee{ID: "1"}, map[string]json.RawMessage{
			"employee_age": json.RawMessage(`"not a number"`),
		})

		assert.Equal(t, before, s.State())
		assert.Equal(t, 1, logger.Count("DEBUG"), logger.String())
	})
}

func TestStore_InvalidateTags(t *testing.T) {
	tests := []struct {
		name      string
		tags      []Tag
		listStale bool
		staleIDs  []model.ID
		freshIDs  []model.ID
	}{
		{name: "list tag", tags: []Tag{ListTag()}, listStale: true, freshIDs: []model.ID{"1", "2"}},
		{name: "one employee", tags: []Tag{EmployeeTag("2")}, staleIDs: []model.ID{"2"}, freshIDs: []model.ID{"1"}},
		{name: "whole type", tags: []Tag{{Type: TagEmployee}}, listStale: true, staleIDs: []model.ID{"1", "2"}},
		{name: "unrelated type", tags: []Tag{{Type: "Department"}}, freshIDs: []model.ID{"1", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1", "2")}))
			for _, e := range employees("1", "2") {
				require.NoError(t, s.Dispatch(DetailFulfilled{Employee: e}))
			}

			require.NoError(t, s.Dispatch(TagsInvalidated{Tags: tt.tags}))

			_, ok := s.CachedList()
			assert.Equal(t, !tt.listStale, ok)
			for _, id := range tt.staleIDs {
				_, ok := s.CachedDetail(id)
				assert.False(t, ok, "detail %s should be stale", id)
			}
			for _, id := range tt.freshIDs {
				_, ok := s.CachedDetail(id)
				assert.True(t, ok, "detail %s should be fresh", id)
			}
		})
	}
}

func TestStore_RefetchClearsStale(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1")}))
	require.NoError(t, s.Dispatch(TagsInvalidated{Tags: []Tag{ListTag()}}))
	require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1", "2")}))

	list, ok := s.CachedList()
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestStore_APIResetKeepsSession(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Dispatch(LoginFulfilled{Username: "alice"}))
	require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1")}))

	require.NoError(t, s.Dispatch(APIReset{}))

	assert.True(t, s.Session().IsLoggedIn)
	_, ok := s.CachedList()
	assert.False(t, ok)
}

func TestStore_Subscribe(t *testing.T) {
	s, _ := newTestStore(t)
	var seen []string
	unsubscribe := s.Subscribe(func(a Action) { seen = append(seen, a.Type()) })

	require.NoError(t, s.Dispatch(LoginFulfilled{Username: "alice"}))
	unsubscribe()
	require.NoError(t, s.Dispatch(LoggedOut{}))

	assert.Equal(t, []string{"auth/loginFulfilled"}, seen)
}

func TestStore_PartitionsRehydrateRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Dispatch(LoginFulfilled{Username: "alice", Token: "tok"}))
	require.NoError(t, s.Dispatch(ListFulfilled{Employees: employees("1", "2")}))
	require.NoError(t, s.Dispatch(DetailFulfilled{Employee: employees("2")[0]}))

	// Simulate the trip through storage: partitions come back as generic JSON.
	raw, err := json.Marshal(s.Partitions())
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))

	restored := NewStore(testutil.FixedClock(), emp.NewNopLogger())
	require.NoError(t, restored.Rehydrate(generic))

	assert.Equal(t, s.State(), restored.State())
}

func TestStore_RehydrateSkipsBadPartitions(t *testing.T) {
	s, logger := newTestStore(t)

	err := s.Rehydrate(map[string]any{
		PartitionAuth: map[string]any{"isLoggedIn": true, "userData": map[string]any{"username": "bob"}},
		PartitionAPI:  "garbage",
	})
	require.NoError(t, err)

	assert.True(t, s.Session().IsLoggedIn)
	assert.Equal(t, InitialAPIState(), s.State().API)
	assert.Equal(t, 1, logger.Count("WARN"), logger.String())
}

func TestStore_RehydrateNilPartitionsKeepInitialState(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Rehydrate(map[string]any{PartitionAuth: nil}))
	assert.Equal(t, InitialState(), s.State())
}
