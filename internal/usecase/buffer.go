package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/metrics"
)

const DefaultDebounceWindow = 30 * time.Second

// FlushFunc receives one logical turn: the fragments of a burst joined by
// newlines, and the chat id of the last fragment.
type FlushFunc func(ctx context.Context, key, chatID, text string)

// Buffer coalesces inbound fragments per customer key. Each fragment re-arms
// the key's quiet timer; when it fires the entry is removed and flushed.
type Buffer struct {
	window time.Duration
	flush  FlushFunc
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*bufferEntry
	gen     uint64
	stopped bool
}

type bufferEntry struct {
	fragments []string
	chatID    string
	ctx       context.Context
	timer     *time.Timer
	gen       uint64
}

func NewBuffer(window time.Duration, flush FlushFunc, logger zerolog.Logger) (*Buffer, error) {
	if flush == nil {
		return nil, errors.New("usecase: flush func must not be nil")
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Buffer{
		window:  window,
		flush:   flush,
		logger:  logger.With().Str("component", "buffer").Logger(),
		entries: make(map[string]*bufferEntry),
	}, nil
}

// Add appends text to the burst for key and restarts its quiet timer.
func (b *Buffer) Add(ctx context.Context, key, chatID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	e, ok := b.entries[key]
	if !ok {
		e = &bufferEntry{}
		b.entries[key] = e
	}
	e.fragments = append(e.fragments, text)
	e.chatID = chatID
	e.ctx = ctx
	if e.timer != nil {
		e.timer.Stop()
	}
	b.gen++
	gen := b.gen
	e.gen = gen
	e.timer = time.AfterFunc(b.window, func() { b.fire(key, gen) })

	b.logger.Debug().Str("customer_key", key).Int("fragments", len(e.fragments)).Msg("fragment buffered")
}

// fire flushes key if gen is still the armed generation. A timer that was
// stopped too late to prevent its run lands here with a stale gen.
func (b *Buffer) fire(key string, gen uint64) {
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok || e.gen != gen || b.stopped {
		b.mu.Unlock()
		return
	}
	delete(b.entries, key)
	b.mu.Unlock()

	metrics.BufferFlushes.Inc()
	metrics.BufferedFragments.Observe(float64(len(e.fragments)))
	b.flush(e.ctx, key, e.chatID, strings.Join(e.fragments, "\n"))
}

// Pending returns the number of fragments waiting for key.
func (b *Buffer) Pending(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return len(e.fragments)
	}
	return 0
}

// Stop cancels every pending timer and drops unflushed bursts.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for key, e := range b.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(b.entries, key)
	}
}
