package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/shapeschat/internal/store"
)

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Validate("", false), ErrEmptyCredential)
	require.ErrorIs(t, Validate("   ", true), ErrEmptyCredential)
	require.NoError(t, Validate("anything goes", false))

	require.NoError(t, Validate("19623b2e-9e48-46bf-847c-5cd78cb3eecf", true))
	require.NoError(t, Validate("sk-shapes-abc123", true))
	require.ErrorIs(t, Validate("sk-shapes-", true), ErrInvalidCredentialFormat)
	require.ErrorIs(t, Validate("hunter2", true), ErrInvalidCredentialFormat)
	require.ErrorIs(t, Validate("urn:uuid:19623b2e-9e48-46bf-847c-5cd78cb3eecf", true), ErrInvalidCredentialFormat)
}

func TestStore_SetPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	s := NewStore(ctx, st, false, "")
	require.False(t, s.Has())

	require.NoError(t, s.Set(ctx, "  sk-shapes-0123456789  "))
	require.Equal(t, "sk-shapes-0123456789", s.Get())
	require.Equal(t, "sk-s...6789", s.Masked())

	reloaded := NewStore(ctx, st, false, "from-config")
	require.Equal(t, "sk-shapes-0123456789", reloaded.Get())

	reloaded.Clear(ctx)
	require.False(t, reloaded.Has())
	_, ok, _ := st.Get(ctx, store.KeyAPIKey)
	require.False(t, ok)
}

func TestStore_Fallback(t *testing.T) {
	s := NewStore(context.Background(), store.NewMemory(), false, " from-config ")
	require.Equal(t, "from-config", s.Get())
}

func TestStore_RejectsWithoutChange(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, store.NewMemory(), true, "")
	require.NoError(t, s.Set(ctx, "sk-shapes-good"))
	require.ErrorIs(t, s.Set(ctx, "bad"), ErrInvalidCredentialFormat)
	require.Equal(t, "sk-shapes-good", s.Get())
}

type brokenStore struct{ store.Memory }

func (*brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("unavailable")
}
func (*brokenStore) Set(context.Context, string, string) error { return errors.New("unavailable") }

func TestStore_KeepsKeyInMemoryWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, &brokenStore{}, false, "")
	require.NoError(t, s.Set(ctx, "key"))
	require.Equal(t, "key", s.Get())
}
