package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/auth"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/storage"
)

func newTestRegistry(store storage.Store) *Registry {
	return NewRegistry(catalog.Default(), store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := newTestRegistry(store)

	first, err := reg.Get(ctx, "abc")
	require.NoError(t, err)
	second, err := reg.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, first.Cart.Add(ctx, "prod1", 2))
	require.NoError(t, first.SignIn(ctx, auth.User{ID: "user_1", Email: "a@example.com"}))

	restarted := newTestRegistry(store)
	restored, err := restarted.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Cart.Quantity("prod1"))
	require.NotNil(t, restored.UserID())
	assert.Equal(t, "user_1", *restored.UserID())
}

func TestSession_SignOutClearsCart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sess, err := newTestRegistry(store).Get(ctx, "abc")
	require.NoError(t, err)

	require.NoError(t, sess.SignIn(ctx, auth.User{ID: "user_1"}))
	require.NoError(t, sess.Cart.Add(ctx, "prod2", 1))

	require.NoError(t, sess.SignOut(ctx))

	assert.Nil(t, sess.User())
	assert.Nil(t, sess.UserID())
	assert.Empty(t, sess.Cart.Items())

	restored, err := newTestRegistry(store).Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, restored.User())
}

func TestRegistry_Middleware(t *testing.T) {
	reg := newTestRegistry(storage.NewMemoryStore())

	var seen string
	handler := reg.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := reg.From(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen = sess.ID
	}))

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		req.Header.Set(Header, "session-1")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if seen != "session-1" {
			t.Errorf("expected session-1, got %s", seen)
		}
		if rec.Header().Get(Header) != "session-1" {
			t.Errorf("expected header to be echoed, got %q", rec.Header().Get(Header))
		}
	})

	t.Run("mints an id when missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if seen == "" || rec.Header().Get(Header) != seen {
			t.Errorf("expected minted id in header, got %q and %q", seen, rec.Header().Get(Header))
		}
	})
}

func TestRegistry_FromWithoutMiddleware(t *testing.T) {
	reg := newTestRegistry(storage.NewMemoryStore())

	_, err := reg.CartFor(httptest.NewRequest(http.MethodGet, "/cart", nil))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegistry_CorruptUserIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, storage.SessionKey("abc", KeyUser), []byte("{")))

	sess, err := newTestRegistry(store).Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, sess.User())
}

func TestRegistry_EvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(catalog.Default(), store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return now }))

	idle, err := reg.Get(ctx, "idle")
	require.NoError(t, err)
	require.NoError(t, idle.Cart.Add(ctx, "prod1", 3))

	now = now.Add(20 * time.Minute)
	_, err = reg.Get(ctx, "busy")
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, reg.Evict(30*time.Minute))
	assert.Equal(t, 1, reg.Len())

	reloaded, err := reg.Get(ctx, "idle")
	require.NoError(t, err)
	assert.NotSame(t, idle, reloaded)
	assert.Equal(t, 3, reloaded.Cart.Quantity("prod1"))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_RunEvictionStopsWithContext(t *testing.T) {
	reg := newTestRegistry(storage.NewMemoryStore())
	_, err := reg.Get(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.RunEviction(ctx, 0, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}
