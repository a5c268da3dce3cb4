// Package session binds a cart engine, an order engine and the signed-in user to a session id,
// restoring all three from the durable store the first time a session is seen.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/auth"
	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/storage"
)

const (
	Header  = "X-Session-ID"
	KeyUser = "auth_user"

	maxIDLength = 128
)

var ErrNoSession = errors.New("request has no session")

type Session struct {
	ID     string
	Cart   *cart.Engine
	Orders *orders.Engine

	mu       sync.Mutex
	checkout sync.Mutex
	store    storage.Store
	logger   *slog.Logger
	user     *auth.User

	// guarded by Registry.mu
	lastUsed time.Time
}

func (s *Session) User() *auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// UserID is the signed-in user's id, or nil for a guest.
func (s *Session) UserID() *string {
	if u := s.User(); u != nil {
		return &u.ID
	}
	return nil
}

func (s *Session) SignIn(ctx context.Context, user auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.Save(ctx, s.store, storage.SessionKey(s.ID, KeyUser), &user); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	s.user = &user
	s.logger.Info("user signed in", "session_id", s.ID, "user_id", user.ID)
	return nil
}

// LockCheckout serializes checkouts of this session. Call the returned func to release it.
func (s *Session) LockCheckout() func() {
	s.checkout.Lock()
	return s.checkout.Unlock
}

// SignOut forgets the user and resets the cart.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.Save(ctx, s.store, storage.SessionKey(s.ID, KeyUser), (*auth.User)(nil)); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.user = nil

	if err := s.Cart.Clear(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.logger.Info("user signed out", "session_id", s.ID)
	return nil
}

type Option func(*Registry)

func WithCartOptions(opts ...cart.Option) Option {
	return func(r *Registry) {
		r.cartOpts = append(r.cartOpts, opts...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithOrderOptions(opts ...orders.Option) Option {
	return func(r *Registry) {
		r.orderOpts = append(r.orderOpts, opts...)
	}
}

type Registry struct {
	catalog   cart.Catalog
	store     storage.Store
	logger    *slog.Logger
	cartOpts  []cart.Option
	orderOpts []orders.Option
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(catalog cart.Catalog, store storage.Store, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		catalog:  catalog,
		store:    store,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the live session for id, loading it from the store on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		sess.lastUsed = r.now()
	}
	r.mu.Unlock()
	if ok {
		return sess, nil
	}

	loaded, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.lastUsed = r.now()
		return sess, nil
	}
	loaded.lastUsed = r.now()
	r.sessions[id] = loaded
	return loaded, nil
}

// Len is the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions not used for longer than idle. Their state is already in the store, so the
// next request for an evicted id reloads it. A request still holding an evicted session keeps
// working on its copy; idle should be far longer than any request.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, sess := range r.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("idle sessions evicted", "count", evicted, "remaining", len(r.sessions))
	}
	return evicted
}

// RunEviction calls Evict every interval until ctx ends.
func (r *Registry) RunEviction(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(idle)
		}
	}
}

func (r *Registry) load(ctx context.Context, id string) (*Session, error) {
	c, err := cart.Load(ctx, id, r.catalog, r.store, r.logger, r.cartOpts...)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	o, err := orders.Load(ctx, id, r.store, r.logger, r.orderOpts...)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	sess := &Session{ID: id, Cart: c, Orders: o, store: r.store, logger: r.logger}
	if _, err := storage.Load(ctx, r.store, storage.SessionKey(id, KeyUser), &sess.user); err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		r.logger.Warn("discarding unreadable user", "error", err, "session_id", id)
		sess.user = nil
	}

	r.logger.Info("session loaded", "session_id", id, "signed_in", sess.user != nil)
	return sess, nil
}

type contextKey struct{}

// Middleware makes sure every request carries a session id, minting one when the header is
// missing or unusable, and echoes it back on the response.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(Header)
		if id == "" || len(id) > maxIDLength {
			id = uuid.NewString()
		}

		w.Header().Set(Header, id)
		ctx := context.WithValue(req.Context(), contextKey{}, id)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// From resolves the session of a request that went through Middleware.
func (r *Registry) From(req *http.Request) (*Session, error) {
	id, ok := IDFromContext(req.Context())
	if !ok {
		return nil, ErrNoSession
	}
	return r.Get(req.Context(), id)
}

func (r *Registry) CartFor(req *http.Request) (*cart.Engine, error) {
	sess, err := r.From(req)
	if err != nil {
		return nil, err
	}
	return sess.Cart, nil
}

func (r *Registry) OrdersFor(req *http.Request) (*orders.Engine, error) {
	sess, err := r.From(req)
	if err != nil {
		return nil, err
	}
	return sess.Orders, nil
}

func (r *Registry) UserIDFor(req *http.Request) (*string, error) {
	sess, err := r.From(req)
	if err != nil {
		return nil, err
	}
	return sess.UserID(), nil
}

func (r *Registry) SignIn(req *http.Request, user auth.User) error {
	sess, err := r.From(req)
	if err != nil {
		return err
	}
	return sess.SignIn(req.Context(), user)
}

func (r *Registry) SignOut(req *http.Request) error {
	sess, err := r.From(req)
	if err != nil {
		return err
	}
	return sess.SignOut(req.Context())
}

func (r *Registry) CurrentUser(req *http.Request) (*auth.User, error) {
	sess, err := r.From(req)
	if err != nil {
		return nil, err
	}
	return sess.User(), nil
}
