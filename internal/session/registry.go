// Package session owns the per-visitor state: one cart store and at most one
// live checkout attempt per session. Sessions are created explicitly and torn
// down at logout or deletion, which is also when background cart sync stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrNotLoggedIn   = errors.New("session is not logged in")
	ErrUserMismatch  = errors.New("session belongs to another user")
	ErrNoCheckout    = errors.New("no checkout in progress")
	ErrMirrorMissing = errors.New("no server cart configured")
)

type Session struct {
	ID   string
	Cart *cart.Store

	mu       sync.Mutex
	userID   string
	checkout *checkout.Checkout
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Checkout returns the current attempt or ErrNoCheckout.
func (s *Session) Checkout() (*checkout.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout == nil {
		return nil, ErrNoCheckout
	}
	return s.checkout, nil
}

type Registry struct {
	mirror cart.Mirror
	retry  cart.RetryPolicy
	rec    *checkout.Reconciler
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(mirror cart.Mirror, retry cart.RetryPolicy, rec *checkout.Reconciler, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		mirror:   mirror,
		retry:    retry,
		rec:      rec,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create opens a guest session with an empty local cart.
func (r *Registry) Create() *Session {
	s := &Session{
		ID:   uuid.NewString(),
		Cart: cart.NewStore(r.mirror, r.retry, r.logger),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Login loads the user's server cart and merges the guest cart into it. It
// runs once per login; logging in again as the same user is answered with
// the current entries.
func (r *Registry) Login(ctx context.Context, id, userID string) ([]cart.Entry, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if r.mirror == nil {
		return nil, ErrMirrorMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.userID {
	case "":
	case userID:
		return s.Cart.Entries(), nil
	default:
		return nil, ErrUserMismatch
	}

	server, err := r.mirror.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load server cart: %w", err)
	}
	merged, err := s.Cart.ReconcileOnLogin(userID, server)
	if err != nil {
		return nil, err
	}
	s.userID = userID
	// a guest checkout does not carry over into the user's session
	s.abandonCheckoutLocked()
	r.logger.Printf("session=%s login user=%s lines=%d", s.ID, userID, len(merged))
	return merged, nil
}

// Logout flushes the cart to the server, stops sync and leaves the session
// as an empty guest session.
func (r *Registry) Logout(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == "" {
		return ErrNotLoggedIn
	}
	s.abandonCheckoutLocked()
	err = s.Cart.Logout(ctx)
	r.logger.Printf("session=%s logout user=%s", s.ID, s.userID)
	s.userID = ""
	return err
}

// Delete tears the session down. A logged-in cart is flushed first.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonCheckoutLocked()
	if s.userID != "" {
		if err := s.Cart.Logout(ctx); err != nil {
			r.logger.Printf("session=%s flush on delete: %v", s.ID, err)
		}
		s.userID = ""
		return nil
	}
	s.Cart.Close()
	return nil
}

// StartCheckout returns the session's live attempt, or starts a new one when
// there is none or the last one committed.
func (r *Registry) StartCheckout(id string) (*checkout.Checkout, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkout != nil && s.checkout.State() != checkout.StateCommitted {
		return s.checkout, nil
	}
	s.checkout = r.rec.Start(s.Cart, s.userID)
	return s.checkout, nil
}

// FindByClientSecret locates the attempt that created a payment intent, for
// payment results that arrive asynchronously. Attempts the session has
// already dropped are still found so late charges can be refunded.
func (r *Registry) FindByClientSecret(secret string) (*checkout.Checkout, bool) {
	return r.rec.FindByClientSecret(secret)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close flushes every logged-in cart and stops all sync workers.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Printf("session=%s close: %v", id, err)
		}
	}
}

func (s *Session) abandonCheckoutLocked() {
	if s.checkout == nil {
		return
	}
	if err := s.checkout.Cancel(); err != nil && !errors.Is(err, checkout.ErrInvalidTransition) {
		// a captured payment still has to settle; keep the attempt reachable
		return
	}
	s.checkout = nil
}
