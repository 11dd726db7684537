// Package hub fans real-time quotes out to subscribers. Each symbol with at
// least one subscriber has exactly one poll loop; every subscriber of that
// symbol receives the same fetched value.
package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/metrics"
	"go.uber.org/zap"
)

// DefaultPollInterval is the tick period of a symbol's poll loop.
const DefaultPollInterval = 5 * time.Second

// joinBuffer bounds pending replays of the last value to new subscribers.
const joinBuffer = 64

// Fetcher returns the current quote of symbol. The hub passes a context that
// is canceled when the symbol loses its last subscriber.
type Fetcher func(ctx context.Context, symbol string) (*core.Quote, error)

// Callback receives broadcast quotes. Callbacks run on the symbol's poll
// loop and must not block.
type Callback func(core.Quote)

// Handle identifies one subscription.
type Handle struct {
	ID     uuid.UUID
	Symbol string
}

// Config holds hub configuration
type Config struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type subscriber struct {
	cb   Callback
	seen uint64
}

type topic struct {
	symbol string
	subs   map[uuid.UUID]*subscriber
	last   core.Quote
	seq    uint64
	joined chan uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub owns the subscription registry and the per-symbol poll loops.
type Hub struct {
	cfg     Config
	fetch   Fetcher
	logger  *zap.Logger
	metrics *metrics.Registry

	mu          sync.Mutex
	topics      map[string]*topic
	subscribers int
	closed      bool
	wg          sync.WaitGroup
}

// New creates a hub that polls through fetch.
func New(cfg Config, fetch Fetcher, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Hub{
		cfg:    cfg,
		fetch:  fetch,
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// SetMetrics sets the metrics registry
func (h *Hub) SetMetrics(reg *metrics.Registry) {
	h.metrics = reg
}

// Subscribe registers cb for symbol. The first subscriber of a symbol starts
// its poll loop; a later subscriber is sent the last broadcast value.
func (h *Hub) Subscribe(symbol string, cb Callback) (Handle, error) {
	if cb == nil {
		return Handle{}, core.Errorf(core.ErrInvalidRequest, "nil callback")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Handle{}, core.Errorf(core.ErrInvalidRequest, "hub is closed")
	}

	t, ok := h.topics[symbol]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		t = &topic{
			symbol: symbol,
			subs:   make(map[uuid.UUID]*subscriber),
			joined: make(chan uuid.UUID, joinBuffer),
			ctx:    ctx,
			cancel: cancel,
		}
		h.topics[symbol] = t
		h.wg.Add(1)
		go h.run(t)

		h.logger.Debug("symbol activated", zap.String("symbol", symbol))
	}

	id := uuid.New()
	t.subs[id] = &subscriber{cb: cb}
	h.subscribers++
	replay := t.seq > 0
	h.updateGauges()
	h.mu.Unlock()

	if replay {
		select {
		case t.joined <- id:
		case <-t.ctx.Done():
		}
	}
	return Handle{ID: id, Symbol: symbol}, nil
}

// Unsubscribe removes a subscription. It reports false, and does nothing,
// when the handle is unknown or already removed. Removing the last
// subscriber of a symbol stops its poll loop.
func (h *Hub) Unsubscribe(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[handle.Symbol]
	if !ok {
		return false
	}
	if _, ok := t.subs[handle.ID]; !ok {
		return false
	}
	delete(t.subs, handle.ID)
	h.subscribers--

	if len(t.subs) == 0 {
		t.cancel()
		delete(h.topics, handle.Symbol)
		h.logger.Debug("symbol deactivated", zap.String("symbol", handle.Symbol))
	}
	h.updateGauges()
	return true
}

// ActiveSymbols returns the symbols with a running poll loop.
func (h *Hub) ActiveSymbols() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.topics))
	for s := range h.topics {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Subscribers returns the number of registered subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribers
}

// Close stops every poll loop and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, t := range h.topics {
		t.cancel()
	}
	h.topics = make(map[string]*topic)
	h.subscribers = 0
	h.updateGauges()
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) run(t *topic) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	h.tick(t)
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			h.tick(t)
		case id := <-t.joined:
			h.replay(t, id)
		}
	}
}

func (h *Hub) tick(t *topic) {
	q, err := h.fetch(t.ctx, t.symbol)
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		h.metrics.RecordHubTick("failed")
		h.logger.Warn("realtime fetch failed",
			zap.String("symbol", t.symbol),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	if q == nil || (t.seq > 0 && q.Price == t.last.Price && q.Time.Equal(t.last.Time)) {
		h.mu.Unlock()
		h.metrics.RecordHubTick("unchanged")
		return
	}
	t.seq++
	t.last = *q
	value := t.last
	callbacks := make([]Callback, 0, len(t.subs))
	for _, s := range t.subs {
		s.seen = t.seq
		callbacks = append(callbacks, s.cb)
	}
	h.mu.Unlock()

	h.metrics.RecordHubTick("broadcast")
	for _, cb := range callbacks {
		h.deliver(t.symbol, cb, value)
	}
}

// replay sends the last broadcast value to a subscriber that joined after it.
func (h *Hub) replay(t *topic, id uuid.UUID) {
	h.mu.Lock()
	s, ok := t.subs[id]
	if !ok || t.seq == 0 || s.seen == t.seq {
		h.mu.Unlock()
		return
	}
	s.seen = t.seq
	cb, value := s.cb, t.last
	h.mu.Unlock()

	h.deliver(t.symbol, cb, value)
}

func (h *Hub) deliver(symbol string, cb Callback, q core.Quote) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber callback panicked",
				zap.String("symbol", symbol),
				zap.Any("panic", r),
			)
		}
	}()
	cb(q)
}

// updateGauges publishes registry sizes. Callers must hold h.mu.
func (h *Hub) updateGauges() {
	h.metrics.SetHubActiveSymbols(len(h.topics))
	h.metrics.SetHubSubscribers(h.subscribers)
}
