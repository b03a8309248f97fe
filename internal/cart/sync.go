package cart

import (
	"context"
	"time"
)

func (s *Store) startWorkerLocked() {
	if s.mirror == nil || s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.kick = make(chan struct{}, 1)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.kick, s.done)
}

func (s *Store) run(ctx context.Context, kick <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			s.syncWithRetry(ctx)
		}
	}
}

// syncWithRetry pushes the newest snapshot, backing off exponentially between
// failed attempts. When attempts run out the pending flag stays set and the
// next mutation kicks another round.
func (s *Store) syncWithRetry(ctx context.Context) {
	delay := s.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		pushed, err := s.push(ctx)
		if !pushed || err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= s.retry.MaxAttempts {
			s.logger.Printf("cart sync giving up user=%s attempts=%d: %v", s.UserID(), attempt, err)
			return
		}
		s.logger.Printf("cart sync retry user=%s attempt=%d: %v", s.UserID(), attempt, err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay *= 2
	}
}

// push saves the newest snapshot if the mirror is behind. Pushes are
// serialized so an older snapshot never lands after a newer one.
func (s *Store) push(ctx context.Context) (bool, error) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	userID, version, entries, ok := s.pending()
	if !ok {
		return false, nil
	}
	if err := s.mirror.Save(ctx, userID, entries); err != nil {
		return true, err
	}
	s.markSynced(userID, version)
	return true, nil
}

func (s *Store) pending() (string, uint64, []Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingLocked() {
		return "", 0, nil, false
	}
	return s.userID, s.version, s.snapshotLocked(), true
}

func (s *Store) markSynced(userID string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID || version <= s.synced {
		return
	}
	s.synced = version
}
