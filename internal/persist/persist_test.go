package persist

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empctl/internal/emp"
	"empctl/internal/state"
	"empctl/internal/storage"
	"empctl/internal/testutil"
	"empctl/internal/transform"
)

type authPartition struct {
	IsLoggedIn bool              `json:"isLoggedIn"`
	UserData   map[string]string `json:"userData"`
}

type upperTransform struct{}

func (upperTransform) Applies(string) bool { return true }
func (upperTransform) Out(_ string, v any) (any, error) {
	return strings.ToUpper(v.(string)), nil
}
func (upperTransform) In(_ string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return strings.ToLower(s)
}

type failingTransform struct{}

func (failingTransform) Applies(string) bool { return true }
func (failingTransform) Out(string, any) (any, error) {
	return nil, errors.New("boom")
}
func (failingTransform) In(_ string, v any) any { return v }

type failingStorage struct{ emp.Storage }

func (failingStorage) SetItem(context.Context, string, string) error {
	return errors.New("disk full")
}

func newPolicy(t *testing.T) (*Policy, *storage.MemoryStorage, *storage.MemoryStorage) {
	t.Helper()
	general := testutil.NewTestStorage()
	secure := testutil.NewTestStorage()
	p, err := NewPolicy(PolicyConfig{
		Key:              "root",
		Version:          1,
		SecureKey:        "token",
		SecurePartitions: []string{"auth"},
		General:          general,
		Secure:           secure,
		Transforms:       []Transform{transform.NewCompress(transform.Config{})},
	})
	require.NoError(t, err)
	return p, general, secure
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Storage: testutil.NewTestStorage()})
	assert.Error(t, err)

	_, err = New(Config{Key: "root"})
	assert.Error(t, err)
}

func TestPersister_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStorage()
	p, err := New(Config{Key: "root", Version: 3, Storage: store})
	require.NoError(t, err)

	require.NoError(t, p.Save(ctx, map[string]any{
		"auth": authPartition{IsLoggedIn: true, UserData: map[string]string{"username": "alice"}},
		"misc": []int{1, 2},
	}))

	raw, ok, err := store.GetItem(ctx, "persist:root")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t,
		`{"auth":{"isLoggedIn":true,"userData":{"username":"alice"}},"misc":[1,2],"_persist":{"version":3}}`,
		raw)

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"auth": map[string]any{"isLoggedIn": true, "userData": map[string]any{"username": "alice"}},
		"misc": []any{json.Number("1"), json.Number("2")},
	}, got)
}

func TestPersister_LoadNothingStored(t *testing.T) {
	p, err := New(Config{Key: "root", Storage: testutil.NewTestStorage()})
	require.NoError(t, err)

	got, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersister_WhitelistBlacklist(t *testing.T) {
	tests := []struct {
		name      string
		whitelist []string
		blacklist []string
		want      []string
	}{
		{name: "everything", want: []string{"a", "b", "c"}},
		{name: "whitelist", whitelist: []string{"a"}, want: []string{"a"}},
		{name: "blacklist", blacklist: []string{"b"}, want: []string{"a", "c"}},
		{name: "both", whitelist: []string{"a", "b"}, blacklist: []string{"b"}, want: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p, err := New(Config{
				Key:       "root",
				Storage:   testutil.NewTestStorage(),
				Whitelist: tt.whitelist,
				Blacklist: tt.blacklist,
			})
			require.NoError(t, err)

			require.NoError(t, p.Save(ctx, map[string]any{"a": "1", "b": "2", "c": "3"}))
			got, err := p.Load(ctx)
			require.NoError(t, err)

			var names []string
			for name := range got {
				names = append(names, name)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestPersister_TransformOrder(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStorage()
	p, err := New(Config{Key: "root", Storage: store, Transforms: []Transform{upperTransform{}}})
	require.NoError(t, err)

	require.NoError(t, p.Save(ctx, map[string]any{"x": "hello"}))
	raw, _, _ := store.GetItem(ctx, "persist:root")
	assert.Contains(t, raw, `"HELLO"`)

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["x"])
}

func TestPersister_SaveErrors(t *testing.T) {
	ctx := context.Background()

	p, err := New(Config{Key: "root", Storage: testutil.NewTestStorage(), Transforms: []Transform{failingTransform{}}})
	require.NoError(t, err)
	assert.ErrorContains(t, p.Save(ctx, map[string]any{"x": 1}), "boom")

	p, err = New(Config{Key: "root", Storage: failingStorage{testutil.NewTestStorage()}})
	require.NoError(t, err)
	assert.ErrorContains(t, p.Save(ctx, map[string]any{"x": 1}), "disk full")
}

func TestPersister_VersionMismatchWipes(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStorage()
	logger := testutil.NewRecordingLogger()

	old, err := New(Config{Key: "root", Version: 1, Storage: store})
	require.NoError(t, err)
	require.NoError(t, old.Save(ctx, map[string]any{"x": 1}))

	current, err := New(Config{Key: "root", Version: 2, Storage: store, Logger: logger})
	require.NoError(t, err)
	got, err := current.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, ok, err := store.GetItem(ctx, "persist:root")
	require.NoError(t, err)
	assert.False(t, ok, "stale document must be removed")
	assert.Equal(t, 1, logger.Count("WARN"), logger.String())
}

func TestPersister_UnreadableDocument(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStorage()
	require.NoError(t, store.SetItem(ctx, "persist:root", "{not json"))

	p, err := New(Config{Key: "root", Storage: store})
	require.NoError(t, err)
	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersister_CorruptSecureDocumentIsDiscarded(t *testing.T) {
	ctx := context.Background()
	inner := testutil.NewTestStorage()
	secure := storage.NewSecureStorage(inner, testutil.NewTestEncryptor())
	require.NoError(t, secure.Unlock(testutil.TestPassphrase))
	require.NoError(t, inner.SetItem(ctx, "persist:token", "garbage"))

	logger := testutil.NewRecordingLogger()
	p, err := New(Config{Key: "token", Storage: secure, Logger: logger})
	require.NoError(t, err)

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, logger.Count("WARN"), logger.String())

	_, ok, err := inner.GetItem(ctx, "persist:token")
	require.NoError(t, err)
	assert.False(t, ok, "corrupt document must be removed")
}

func TestPolicy_RoutesPartitions(t *testing.T) {
	ctx := context.Background()
	p, general, secure := newPolicy(t)

	assert.True(t, p.IsSecure("auth"))
	assert.False(t, p.IsSecure("api"))

	require.NoError(t, p.Save(ctx, map[string]any{
		"auth": authPartition{IsLoggedIn: true, UserData: map[string]string{"username": "alice"}},
		"api":  map[string]any{"details": map[string]any{}},
	}))

	rawGeneral, ok, err := general.GetItem(ctx, "persist:root")
	require.NoError(t, err)
	require.True(t, ok)
	var generalDoc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(rawGeneral), &generalDoc))
	assert.NotContains(t, generalDoc, "auth", "secure partitions never reach general storage")
	assert.NotContains(t, rawGeneral, "alice")
	var compressed string
	require.NoError(t, json.Unmarshal(generalDoc["api"], &compressed), "api partition is stored compressed")
	assert.NotEmpty(t, compressed)
	assert.NotContains(t, compressed, "details")

	rawSecure, ok, err := secure.GetItem(ctx, "persist:token")
	require.NoError(t, err)
	require.True(t, ok)
	var secureDoc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(rawSecure), &secureDoc))
	assert.NotContains(t, secureDoc, "api")
	assert.JSONEq(t, `{"isLoggedIn":true,"userData":{"username":"alice"}}`, string(secureDoc["auth"]))

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"isLoggedIn": true, "userData": map[string]any{"username": "alice"}}, got["auth"])
	assert.Equal(t, map[string]any{"details": map[string]any{}}, got["api"])
}

func TestPolicy_StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPolicy(t)

	src := state.NewStore(testutil.FixedClock(), emp.NewNopLogger())
	require.NoError(t, src.Dispatch(state.LoginFulfilled{Username: "alice", Token: "tok"}))
	src.ApplyCreated(model42())
	require.NoError(t, p.Save(ctx, src.Partitions()))

	parts, err := p.Load(ctx)
	require.NoError(t, err)
	dst := state.NewStore(testutil.FixedClock(), emp.NewNopLogger())
	require.NoError(t, dst.Rehydrate(parts))

	assert.Equal(t, src.State(), dst.State())
}

func TestPolicy_CorruptGeneralPartitionYieldsNil(t *testing.T) {
	ctx := context.Background()
	p, general, _ := newPolicy(t)
	require.NoError(t, general.SetItem(ctx, "persist:root", `{"api":"definitely not lz-string output {","_persist":{"version":1}}`))

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, "api")
	assert.Nil(t, got["api"])
}

func TestPolicy_LockedSecureStorage(t *testing.T) {
	ctx := context.Background()
	general := testutil.NewTestStorage()
	enc := testutil.NewTestEncryptor()
	require.NoError(t, enc.Setup(testutil.TestPassphrase))
	secure := storage.NewSecureStorage(testutil.NewTestStorage(), enc)

	p, err := NewPolicy(PolicyConfig{
		Key: "root", Version: 1, SecureKey: "token", SecurePartitions: []string{"auth"},
		General: general, Secure: secure,
	})
	require.NoError(t, err)

	err = p.Save(ctx, map[string]any{"auth": "x", "api": "y"})
	assert.ErrorIs(t, err, emp.ErrLocked)

	_, ok, _ := general.GetItem(ctx, "persist:root")
	assert.True(t, ok, "general document is still written")
}

func TestPolicy_Purge(t *testing.T) {
	ctx := context.Background()
	p, general, secure := newPolicy(t)
	require.NoError(t, p.Save(ctx, map[string]any{"auth": "x", "api": "y"}))

	require.NoError(t, p.Purge(ctx))
	assert.Zero(t, general.Len())
	assert.Zero(t, secure.Len())
}

func TestPolicy_NoSecurePartitions(t *testing.T) {
	ctx := context.Background()
	general := testutil.NewTestStorage()
	secure := testutil.NewTestStorage()
	p, err := NewPolicy(PolicyConfig{Key: "root", SecureKey: "token", General: general, Secure: secure})
	require.NoError(t, err)

	require.NoError(t, p.Save(ctx, map[string]any{"auth": "x"}))
	raw, _, _ := secure.GetItem(ctx, "persist:token")
	assert.JSONEq(t, `{"_persist":{"version":0}}`, raw)
	raw, _, _ = general.GetItem(ctx, "persist:root")
	assert.Contains(t, raw, `"auth"`)
}

func TestPolicy_SQLiteAndEncryptedBackends(t *testing.T) {
	ctx := context.Background()
	general := testutil.NewTestSQLiteStorage(t)
	secure := testutil.NewTestSecureStorage(t)

	p, err := NewPolicy(PolicyConfig{
		Key: "root", Version: 1, SecureKey: "token", SecurePartitions: []string{"auth"},
		General: general, Secure: secure,
		Transforms: []Transform{transform.NewCompress(transform.Config{})},
	})
	require.NoError(t, err)

	parts := map[string]any{
		"auth": authPartition{IsLoggedIn: true, UserData: map[string]string{"username": "alice"}},
		"api":  map[string]any{"details": map[string]any{}},
	}
	require.NoError(t, p.Save(ctx, parts))

	_, ok, err := general.UpdatedAt(ctx, "persist:root")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"isLoggedIn": true, "userData": map[string]any{"username": "alice"}}, got["auth"])
	assert.Equal(t, map[string]any{"details": map[string]any{}}, got["api"])
}
