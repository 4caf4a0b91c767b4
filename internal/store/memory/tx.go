package memory

import (
	"context"
	"fmt"
	"sync"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
	"saldo/backend/internal/xid"
)

// keyedLocks hands out one lock per key. A lock is a one-slot channel so
// waiting can be abandoned when the context ends. A slot is dropped once no
// unit holds or waits for it.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]*lockSlot)}
}

func (k *keyedLocks) ref(key string) *lockSlot {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (k *keyedLocks) unref(key string, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *keyedLocks) acquire(ctx context.Context, key string) error {
	slot := k.ref(key)
	select {
	case slot.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.unref(key, slot)
		return fmt.Errorf("%w: waiting for lock %s: %v", store.ErrTransient, key, ctx.Err())
	}
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-slot.ch
	k.unref(key, slot)
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func lockKey(acc domain.Account, date calendar.Date) string {
	return acc.Key() + "@" + date.String()
}

type memTx struct {
	s    *Store
	held map[string]struct{}
	undo []func()
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) releaseLocks() {
	for key := range t.held {
		t.s.locks.release(key)
	}
	t.held = nil
}

func (t *memTx) LockAccountDay(ctx context.Context, acc domain.Account, date calendar.Date) error {
	key := lockKey(acc, date)
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, entry domain.JournalEntry) (domain.JournalEntry, error) {
	if _, ok := t.held[lockKey(entry.Account, entry.Date)]; !ok {
		return domain.JournalEntry{}, fmt.Errorf("%w: %s", store.ErrLockNotHeld, lockKey(entry.Account, entry.Date))
	}
	if !entry.Before.Add(entry.Change).Equal(entry.After) || entry.After.IsNegative() {
		return domain.JournalEntry{}, fmt.Errorf("journal entry violates balance invariant: before=%s change=%s after=%s",
			entry.Before, entry.Change, entry.After)
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("je")
	}
	s.seq++
	entry.Seq = s.seq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	key := lockKey(entry.Account, entry.Date)
	prevLast, hadLast := s.lastCreatedAt[key]
	if hadLast && entry.CreatedAt.Before(prevLast) {
		entry.CreatedAt = prevLast
	}
	s.lastCreatedAt[key] = entry.CreatedAt
	s.entries = append(s.entries, cloneEntry(entry))

	id := entry.ID
	t.undo = append(t.undo, func() {
		for i := len(s.entries) - 1; i >= 0; i-- {
			if s.entries[i].ID == id {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
		}
		if hadLast {
			s.lastCreatedAt[key] = prevLast
		} else {
			delete(s.lastCreatedAt, key)
		}
	})
	return entry, nil
}

func (t *memTx) InsertOpening(_ context.Context, snap domain.OpeningSnapshot) (bool, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openings[snap.Date]; exists {
		return false, nil
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	snap.Balances = snap.Balances.Clone()
	s.openings[snap.Date] = snap
	date := snap.Date
	t.undo = append(t.undo, func() { delete(s.openings, date) })
	return true, nil
}

func (t *memTx) InsertClosing(_ context.Context, snap domain.ClosingSnapshot) (bool, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.closings[snap.Date]; exists {
		return false, nil
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	snap.Balances = snap.Balances.Clone()
	s.closings[snap.Date] = snap
	date := snap.Date
	t.undo = append(t.undo, func() { delete(s.closings, date) })
	return true, nil
}

func (t *memTx) CreateDocument(_ context.Context, doc domain.Document) error {
	if doc.ID == "" || !doc.Kind.Valid() {
		return store.ErrInvalidDocument
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return store.ErrConflict
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	s.documents[doc.ID] = cloneDocument(doc)
	id := doc.ID
	t.undo = append(t.undo, func() { delete(s.documents, id) })
	return nil
}

// GetDocumentForUpdate takes a per-document lock held until the unit ends.
func (t *memTx) GetDocumentForUpdate(ctx context.Context, id string) (*domain.Document, error) {
	key := "doc:" + id
	if _, ok := t.held[key]; !ok {
		if err := t.s.locks.acquire(ctx, key); err != nil {
			return nil, err
		}
		t.held[key] = struct{}{}
	}
	return t.s.GetDocument(ctx, id)
}

func (t *memTx) UpdateDocument(_ context.Context, doc domain.Document) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.documents[doc.ID]
	if !exists {
		return store.ErrNotFound
	}
	s.documents[doc.ID] = cloneDocument(doc)
	t.undo = append(t.undo, func() { s.documents[prev.ID] = prev })
	return nil
}

func (t *memTx) LatestEntry(ctx context.Context, acc domain.Account, date calendar.Date) (*domain.JournalEntry, error) {
	return t.s.LatestEntry(ctx, acc, date)
}

func (t *memTx) LatestEntriesForDate(ctx context.Context, date calendar.Date) ([]domain.JournalEntry, error) {
	return t.s.LatestEntriesForDate(ctx, date)
}

func (t *memTx) GetOpening(ctx context.Context, date calendar.Date) (*domain.OpeningSnapshot, error) {
	return t.s.GetOpening(ctx, date)
}

func (t *memTx) GetClosing(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	return t.s.GetClosing(ctx, date)
}

func (t *memTx) LatestClosingBefore(ctx context.Context, date calendar.Date) (*domain.ClosingSnapshot, error) {
	return t.s.LatestClosingBefore(ctx, date)
}

func (t *memTx) BankAccountExists(ctx context.Context, id string) (bool, error) {
	return t.s.BankAccountExists(ctx, id)
}

func (t *memTx) CardExists(ctx context.Context, id string) (bool, error) {
	return t.s.CardExists(ctx, id)
}

func (t *memTx) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return t.s.GetDocument(ctx, id)
}
