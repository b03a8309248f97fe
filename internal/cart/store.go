package cart

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Mirror is the server-side copy of an authenticated user's cart.
type Mirror interface {
	Load(ctx context.Context, userID string) ([]Entry, error)
	Save(ctx context.Context, userID string, entries []Entry) error
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
}

// Store holds the line items of one session. Local mutations are always
// applied immediately; in synced mode a background worker pushes the latest
// snapshot to the Mirror and tracks which version the server has seen.
type Store struct {
	mu       sync.Mutex
	pushMu   sync.Mutex
	order    []LineItemKey
	quantity map[LineItemKey]int

	mode       Mode
	userID     string
	reconciled bool
	version    uint64
	synced     uint64

	mirror Mirror
	retry  RetryPolicy
	logger *log.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStore(mirror Mirror, retry RetryPolicy, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Store{
		quantity: make(map[LineItemKey]int),
		mirror:   mirror,
		retry:    retry,
		logger:   logger,
	}
}

func (s *Store) AddItem(productID int64, variant string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := LineItemKey{ProductID: productID, Variant: variant}
	s.setLocked(key, s.quantity[key]+1)
	s.touchLocked()
	return Entry{Key: key, Quantity: s.quantity[key]}
}

// RemoveItem decrements the quantity for key and drops the entry at zero.
// Unknown keys are ignored.
func (s *Store) RemoveItem(key LineItemKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quantity[key]
	if !ok {
		return
	}
	s.setLocked(key, q-1)
	s.touchLocked()
}

// SetQuantity sets an absolute quantity. Zero removes the entry.
func (s *Store) SetQuantity(key LineItemKey, n int) error {
	if n < 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quantity[key]; !ok && n == 0 {
		return nil
	}
	s.setLocked(key, n)
	s.touchLocked()
	return nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.quantity = make(map[LineItemKey]int)
	s.touchLocked()
}

// Subtract takes each entry's quantity off the cart, dropping lines that
// reach zero. Lines added or raised since the entries were read survive.
func (s *Store) Subtract(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, e := range entries {
		q, ok := s.quantity[e.Key]
		if !ok || e.Quantity <= 0 {
			continue
		}
		s.setLocked(e.Key, q-e.Quantity)
		changed = true
	}
	if changed {
		s.touchLocked()
	}
}

// Entries returns the current entries in first-seen order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Quantity(key LineItemKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantity[key]
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SyncPending reports whether local state has changes the server has not
// acknowledged yet.
func (s *Store) SyncPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

// ReconcileOnLogin merges the guest cart into the server cart by summing
// quantities per key. Server entries keep their order; guest-only keys follow
// in the order they were first added. The merged cart becomes authoritative
// and is pushed back to the server. It may run once per login.
func (s *Store) ReconcileOnLogin(userID string, serverCart []Entry) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconciled {
		return nil, ErrAlreadyReconciled
	}

	order := make([]LineItemKey, 0, len(serverCart)+len(s.order))
	quantity := make(map[LineItemKey]int, len(serverCart)+len(s.order))
	merge := func(key LineItemKey, n int) {
		if n <= 0 {
			return
		}
		if _, ok := quantity[key]; !ok {
			order = append(order, key)
		}
		quantity[key] += n
	}

	for _, e := range serverCart {
		merge(e.Key, e.Quantity)
	}
	for _, key := range s.order {
		merge(key, s.quantity[key])
	}

	s.order = order
	s.quantity = quantity
	s.mode = ModeSynced
	s.userID = userID
	s.reconciled = true
	s.synced = 0
	s.startWorkerLocked()
	s.touchLocked()

	s.logger.Printf("cart reconciled user=%s server_lines=%d merged_lines=%d", userID, len(serverCart), len(order))
	return s.snapshotLocked(), nil
}

// Flush pushes any unsynced state to the mirror once, synchronously.
func (s *Store) Flush(ctx context.Context) error {
	_, err := s.push(ctx)
	return err
}

// Logout flushes pending changes best-effort, stops background sync and
// returns the store to an empty local cart.
func (s *Store) Logout(ctx context.Context) error {
	err := s.Flush(ctx)
	if err != nil {
		s.logger.Printf("cart flush on logout user=%s: %v", s.UserID(), err)
	}
	s.Close()

	s.mu.Lock()
	s.order = nil
	s.quantity = make(map[LineItemKey]int)
	s.mode = ModeLocal
	s.userID = ""
	s.reconciled = false
	s.version = 0
	s.synced = 0
	s.mu.Unlock()
	return err
}

// Close stops the sync worker, if any, and waits for it to exit.
func (s *Store) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.kick = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Store) setLocked(key LineItemKey, n int) {
	if n <= 0 {
		if _, ok := s.quantity[key]; !ok {
			return
		}
		delete(s.quantity, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return
	}
	if _, ok := s.quantity[key]; !ok {
		s.order = append(s.order, key)
	}
	s.quantity[key] = n
}

func (s *Store) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, Entry{Key: key, Quantity: s.quantity[key]})
	}
	return out
}

func (s *Store) touchLocked() {
	s.version++
	if s.mode != ModeSynced || s.kick == nil {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Store) pendingLocked() bool {
	return s.mode == ModeSynced && s.mirror != nil && s.version != s.synced
}
