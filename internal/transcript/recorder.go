// Package transcript persists the text messages of a conversation.
//
// A [Recorder] takes [conversation.Message] values from the controller's
// message sink without blocking it and writes them to a
// [memory.TranscriptStore] from its own goroutine. Entries whose write fails
// stay queued and are tried again on the next flush, so a short database
// outage loses nothing as long as the backlog stays below its cap.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/memory"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultMaxPending    = 1000

	// finalFlushTimeout bounds the flush Run performs on shutdown.
	finalFlushTimeout = 5 * time.Second
)

// Config configures a [Recorder].
type Config struct {
	// Store receives the entries. Required.
	Store memory.TranscriptStore

	// Interval is how often a failed backlog is retried. Default: 5s.
	Interval time.Duration

	// MaxPending caps the backlog; the oldest entries are dropped beyond it.
	// Default: 1000.
	MaxPending int

	// Metrics counts write failures and drops. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Recorder buffers messages and writes them in arrival order.
// All methods are safe for concurrent use.
type Recorder struct {
	store      memory.TranscriptStore
	interval   time.Duration
	maxPending int
	metrics    *observe.Metrics

	mu      sync.Mutex
	pending []memory.TranscriptEntry

	// flushMu serializes Flush calls so entries are written in order.
	flushMu sync.Mutex
	notify  chan struct{}
}

// New creates a [Recorder]. Start writing with [Recorder.Run].
func New(cfg Config) *Recorder {
	r := &Recorder{
		store:      cfg.Store,
		interval:   cfg.Interval,
		maxPending: cfg.MaxPending,
		metrics:    cfg.Metrics,
		notify:     make(chan struct{}, 1),
	}
	if r.interval <= 0 {
		r.interval = defaultFlushInterval
	}
	if r.maxPending <= 0 {
		r.maxPending = defaultMaxPending
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Record queues msg as a peer entry. It never blocks, which makes it usable
// as a [conversation.WithMessageSink] callback.
func (r *Recorder) Record(msg conversation.Message) {
	entry := memory.TranscriptEntry{
		SessionID: msg.SessionID,
		Turn:      msg.Turn,
		Username:  msg.Identity.Username,
		Language:  msg.Identity.Language,
		Persona:   msg.Identity.Persona,
		Role:      memory.RolePeer,
		Text:      msg.Text,
		Timestamp: msg.Received,
	}

	r.mu.Lock()
	r.pending = append(r.pending, entry)
	dropped := r.trimLocked()
	r.mu.Unlock()
	r.reportDropped(context.Background(), dropped)

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of entries not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run writes queued entries until ctx is cancelled, then makes one last
// bounded attempt to write what is left. It always returns nil.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if err := r.Flush(fctx); err != nil {
				slog.Warn("transcript: final flush failed", "pending", r.Pending(), "err", err)
			}
			return nil
		case <-r.notify:
		case <-ticker.C:
		}
		if err := r.Flush(ctx); err != nil {
			slog.Warn("transcript: flush failed", "pending", r.Pending(), "err", err)
		}
	}
}

// Flush writes every queued entry in order. It stops at the first failure
// and keeps that entry and the ones after it queued.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i, entry := range batch {
		if err := r.store.WriteEntry(ctx, entry); err != nil {
			r.metrics.RecordError(ctx, "transcript_write")
			r.reportDropped(ctx, r.requeue(batch[i:]))
			return fmt.Errorf("transcript: write entry of turn %d: %w", entry.Turn, err)
		}
	}
	return nil
}

// requeue puts unwritten entries back in front of those recorded meanwhile
// and returns how many of the oldest it had to drop.
func (r *Recorder) requeue(rest []memory.TranscriptEntry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(append([]memory.TranscriptEntry(nil), rest...), r.pending...)
	return r.trimLocked()
}

func (r *Recorder) reportDropped(ctx context.Context, dropped int) {
	if dropped == 0 {
		return
	}
	slog.Warn("transcript: backlog full, dropping oldest entries", "dropped", dropped)
	for range dropped {
		r.metrics.RecordError(ctx, "transcript_dropped")
	}
}

// trimLocked drops the oldest entries beyond maxPending and returns how many
// it dropped. Must be called with r.mu held.
func (r *Recorder) trimLocked() int {
	over := len(r.pending) - r.maxPending
	if over <= 0 {
		return 0
	}
	r.pending = append([]memory.TranscriptEntry(nil), r.pending[over:]...)
	return over
}
