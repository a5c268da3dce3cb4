package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (brokenStore) Put(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

func TestLoadSave_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	type payload struct {
		Code  string `json:"code"`
		Count int    `json:"count"`
	}

	require.NoError(t, Save(ctx, store, "k", payload{Code: "SAVE10", Count: 2}))

	var got payload
	found, err := Load(ctx, store, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{Code: "SAVE10", Count: 2}, got)
}

func TestLoad_MissingKeyKeepsDefault(t *testing.T) {
	got := []string{"default"}

	found, err := Load(context.Background(), NewMemoryStore(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []string{"default"}, got)
}

func TestLoad_CorruptValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte("{not json")))

	var got map[string]string
	_, err := Load(ctx, store, "k", &got)
	assert.ErrorContains(t, err, "decode k")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadSave_PropagatesBackendErrors(t *testing.T) {
	ctx := context.Background()

	var v int
	_, err := Load(ctx, brokenStore{}, "k", &v)
	assert.ErrorContains(t, err, "disk on fire")
	assert.NotErrorIs(t, err, ErrCorrupt)

	err = Save(ctx, brokenStore{}, "k", 1)
	assert.ErrorContains(t, err, "save k")
}

func TestMemoryStore_CopiesBytes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte(`"abc"`)
	require.NoError(t, store.Put(ctx, "k", data))
	data[1] = 'z'

	got, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `"abc"`, string(got))
	assert.Equal(t, 1, store.Len())
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session:abc:cart_items", SessionKey("abc", "cart_items"))
}
