// Package auth is a simulated accounts directory. The rest of the storefront only ever sees the
// opaque user id it hands out.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	SeedEmail    = "test@example.com"
	SeedPassword = "password123"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredentials
	KindEmailExists
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindEmailExists:
		return "email_exists"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of an *Error anywhere in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type account struct {
	user User
	hash []byte
}

type Option func(*Directory)

// WithDelay sets the simulated round trip applied to every login and registration.
func WithDelay(d time.Duration) Option {
	return func(dir *Directory) {
		dir.delay = d
	}
}

// WithCost sets the bcrypt cost used for stored passwords.
func WithCost(cost int) Option {
	return func(dir *Directory) {
		dir.cost = cost
	}
}

type Directory struct {
	mu       sync.RWMutex
	accounts map[string]account
	delay    time.Duration
	cost     int
	logger   *slog.Logger
}

// NewDirectory returns a directory holding the seeded test account.
func NewDirectory(logger *slog.Logger, opts ...Option) (*Directory, error) {
	dir := &Directory{
		accounts: make(map[string]account),
		delay:    500 * time.Millisecond,
		cost:     bcrypt.DefaultCost,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(dir)
	}

	if _, err := dir.add(SeedEmail, SeedPassword); err != nil {
		return nil, err
	}
	return dir, nil
}

func (d *Directory) Login(ctx context.Context, email, password string) (User, error) {
	if err := d.wait(ctx); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	acct, ok := d.accounts[normalize(email)]
	d.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		d.logger.Info("login failed", "email", email)
		return User{}, &Error{Kind: KindInvalidCredentials, Msg: "invalid email or password"}
	}

	d.logger.Info("login succeeded", "user_id", acct.user.ID)
	return acct.user, nil
}

// Register creates an account. The caller decides whether to sign the new user in.
func (d *Directory) Register(ctx context.Context, email, password string) (User, error) {
	if err := d.wait(ctx); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	_, exists := d.accounts[normalize(email)]
	d.mu.RUnlock()
	if exists {
		return User{}, &Error{Kind: KindEmailExists, Msg: "an account with this email already exists"}
	}

	if err := domain.Validate(credentials{Email: email, Password: password}); err != nil {
		return User{}, &Error{Kind: KindInvalidInput, Msg: "registration failed due to invalid input", Err: err}
	}

	user, err := d.add(email, password)
	if err != nil {
		return User{}, err
	}

	d.logger.Info("account registered", "user_id", user.ID)
	return user, nil
}

func (d *Directory) add(email, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return User{}, err
	}

	key := normalize(email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.accounts[key]; exists {
		return User{}, &Error{Kind: KindEmailExists, Msg: "an account with this email already exists"}
	}

	user := User{ID: "user_" + uuid.NewString(), Email: strings.TrimSpace(email)}
	d.accounts[key] = account{user: user, hash: hash}
	return user, nil
}

func (d *Directory) wait(ctx context.Context) error {
	if d.delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
