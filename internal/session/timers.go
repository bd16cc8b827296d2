// Package session ends idle (user, room) conversations: after a quiet period
// the cached context is summarised, the summary stored and the cache cleared.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

// ContextStore is the cache the timers read and clear.
type ContextStore interface {
	Get(ctx context.Context, userID, room string) []model.Turn
	Clear(ctx context.Context, userID, room string)
}

// Summarizer condenses a session's turns.
type Summarizer interface {
	Summarize(ctx context.Context, userID, room string, turns []model.Turn) (string, error)
}

// SummaryStore persists session summaries.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s *model.SessionSummary) error
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Timers holds one inactivity timer per (user, room).
type Timers struct {
	timeout    time.Duration
	cache      ContextStore
	summarizer Summarizer
	store      SummaryStore
	log        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[model.SessionKey]*entry
	nextGen uint64
	stopped bool
}

// New creates the timer set. Fired sessions run under a context that Stop
// cancels.
func New(timeout time.Duration, cache ContextStore, summarizer Summarizer, store SummaryStore, log *logger.Logger) *Timers {
	ctx, cancel := context.WithCancel(context.Background())
	return &Timers{
		timeout:    timeout,
		cache:      cache,
		summarizer: summarizer,
		store:      store,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[model.SessionKey]*entry),
	}
}

// Reset cancels any pending timer for (userID, room) and starts a new one.
func (t *Timers) Reset(userID, room string) {
	key := model.SessionKey{UserID: userID, Room: room}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	if e, ok := t.pending[key]; ok {
		e.timer.Stop()
	}
	t.nextGen++
	gen := t.nextGen
	t.pending[key] = &entry{
		gen:   gen,
		timer: time.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
}

// expire runs on the timer goroutine. A timer superseded by Reset after it
// had already started is ignored.
func (t *Timers) expire(key model.SessionKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.pending[key]
	if !ok || e.gen != gen || t.stopped {
		t.mu.Unlock()
		return
	}
	delete(t.pending, key)
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	t.Fire(t.ctx, key.UserID, key.Room)
}

// Fire ends the (userID, room) session: a non-empty context is summarised,
// the summary saved and the cache entry cleared. Failures are logged and the
// entry is left to expire by TTL.
func (t *Timers) Fire(ctx context.Context, userID, room string) {
	log := t.log.WithSession(userID, room)

	turns := t.cache.Get(ctx, userID, room)
	if len(turns) == 0 {
		metrics.SessionsEndedTotal.WithLabelValues("empty").Inc()
		return
	}

	summary, err := t.summarizer.Summarize(ctx, userID, room, turns)
	if err != nil {
		metrics.SessionsEndedTotal.WithLabelValues("summarize_error").Inc()
		log.Error("failed to summarize session", zap.Int("turns", len(turns)), zap.Error(err))
		return
	}

	err = t.store.SaveSummary(ctx, &model.SessionSummary{
		UserID:  userID,
		Room:    room,
		Summary: summary,
	})
	if err != nil {
		metrics.SessionsEndedTotal.WithLabelValues("save_error").Inc()
		log.Error("failed to save session summary", zap.Error(err))
		return
	}

	t.cache.Clear(ctx, userID, room)
	metrics.SessionsEndedTotal.WithLabelValues("summarized").Inc()
	log.Info("session summarized", zap.Int("turns", len(turns)))
}

// Pending reports the number of armed timers.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels every pending timer and waits for running firings to return.
func (t *Timers) Stop() {
	t.mu.Lock()
	t.stopped = true
	for key, e := range t.pending {
		e.timer.Stop()
		delete(t.pending, key)
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}
