package locker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
)

// slot is a one-token semaphore for a single account id.
type slot struct {
	ch   chan struct{}
	refs int
}

// Locker serializes postings per account within this process.
// Ids are always acquired in ascending order so two postings over the same pair cannot deadlock.
type Locker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
	maxHold time.Duration
	logger  *slog.Logger
}

// New creates a locker. timeout bounds acquisition; maxHold bounds how long a handle may be held
// before the supervising timer releases it. Zero disables either bound.
func New(timeout, maxHold time.Duration, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		slots:   make(map[string]*slot),
		timeout: timeout,
		maxHold: maxHold,
		logger:  logger,
	}
}

// Handle holds the locks of one posting.
type Handle struct {
	locker     *Locker
	ids        []string
	acquiredAt time.Time
	once       sync.Once
	timer      *time.Timer
}

// IDs returns the locked account ids in acquisition order.
func (h *Handle) IDs() []string {
	return append([]string(nil), h.ids...)
}

// Release frees every lock held by the handle. It is safe to call more than once.
func (h *Handle) Release() {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.free()
}

// free must not touch h.timer: the supervising timer calls it and may fire before
// Acquire has stored the timer.
func (h *Handle) free() {
	h.once.Do(func() {
		h.locker.releaseAll(h.ids)
	})
}

// Ordered deduplicates ids and sorts them ascending.
func Ordered(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Acquire blocks until every id is held or the budget runs out. On failure nothing stays held.
// Expiry of the caller's context is a POSTING_TIMEOUT; expiry of the lock budget alone is a LOCK_TIMEOUT.
func (l *Locker) Acquire(ctx context.Context, ids []string) (*Handle, error) {
	ordered := Ordered(ids)
	if len(ordered) == 0 {
		return nil, apperrors.BadRequestf("no account ids to lock")
	}

	lockCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	held := make([]string, 0, len(ordered))
	for _, id := range ordered {
		s := l.ref(id)
		select {
		case s.ch <- struct{}{}:
			held = append(held, id)
		case <-lockCtx.Done():
			l.unref(id)
			l.releaseAll(held)
			if ctx.Err() != nil {
				return nil, apperrors.NewAppError(apperrors.CodePostingTimeout, "posting cancelled while waiting for account locks", ctx.Err())
			}
			return nil, apperrors.NewAppError(apperrors.CodeLockTimeout, "could not lock account "+id, lockCtx.Err())
		}
	}

	h := &Handle{locker: l, ids: held, acquiredAt: time.Now()}
	if l.maxHold > 0 {
		h.timer = time.AfterFunc(l.maxHold, func() {
			l.logger.Error("Force-releasing abandoned account lock handle",
				"account_ids", h.ids, "held_for", time.Since(h.acquiredAt).String())
			h.free()
		})
	}
	return h, nil
}

func (l *Locker) ref(id string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *Locker) releaseAll(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[ids[i]]
		l.mu.Unlock()
		if s != nil {
			<-s.ch
		}
		l.unref(ids[i])
	}
}
