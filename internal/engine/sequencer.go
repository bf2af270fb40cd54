package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"droc_go/internal/event"
	"droc_go/internal/infra"
	"droc_go/pkg/quant"
)

// Journal is the durable event log the sequencer writes ahead to.
type Journal interface {
	SaveEvent(ctx context.Context, ev event.Event) error
	GetLastSeq(ctx context.Context) (uint64, error)
}

// Subscriber receives every journaled event in sequence order.
type Subscriber interface {
	Name() string
	Publish(ctx context.Context, ev event.Event) error
}

const recentCap = 256

// Stats is a read-only view of what the sequencer has processed.
type Stats struct {
	NextSeq  uint64            `json:"next_seq"`
	LastSlot quant.Slot        `json:"last_slot"`
	Counts   map[string]uint64 `json:"counts"`
	Recent   []json.RawMessage `json:"recent,omitempty"`
}

// Sequencer orders engine events and journals them. Emit is safe for
// concurrent use; Run MUST be run in a single goroutine.
type Sequencer struct {
	inbox chan event.Event

	emitMu   sync.Mutex
	assigned uint64 // last sequence handed out by Emit

	store       Journal
	subscribers []Subscriber
	metrics     *infra.Metrics
	logger      *slog.Logger

	mu       sync.RWMutex // guards the fields below for external reads
	nextSeq  uint64       // next sequence Run expects
	lastSlot quant.Slot
	counts   map[event.Type]uint64
	recent   []event.Event
}

// NewSequencer creates a new sequencer instance. store and metrics may be nil.
func NewSequencer(inboxSize int, store Journal, metrics *infra.Metrics, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Sequencer{
		inbox:   make(chan event.Event, inboxSize),
		nextSeq: 1,
		store:   store,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "sequencer")),
		counts:  make(map[event.Type]uint64),
	}
}

// Restore continues numbering after the last journaled event.
func (s *Sequencer) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	last, err := s.store.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("restore sequence: %w", err)
	}
	s.emitMu.Lock()
	s.assigned = last
	s.emitMu.Unlock()

	s.mu.Lock()
	s.nextSeq = last + 1
	s.mu.Unlock()
	s.logger.Info("Sequencer restored", slog.Uint64("next_seq", last+1))
	return nil
}

// Subscribe registers a fan-out target. Call before Run.
func (s *Sequencer) Subscribe(sub Subscriber) {
	s.subscribers = append(s.subscribers, sub)
}

// Emit stamps ev with the next sequence and queues it without blocking.
// A full inbox drops the event; the sequence is only consumed on success,
// so drops never create gaps.
func (s *Sequencer) Emit(ev event.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	seq := s.assigned + 1
	ev.Stamp(seq)
	select {
	case s.inbox <- ev:
		s.assigned = seq
	default:
		s.metrics.RecordDropped()
		s.logger.Warn("Journal inbox full, event dropped",
			slog.String("type", ev.GetType().String()),
			slog.String("id", ev.GetID()))
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started")

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			// Halt after dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.logger.Info("Sequencer stopping...")
			return
		case ev := <-s.inbox:
			s.processEvent(ctx, ev)
		}
	}
}

// drain journals whatever is already queued so a clean shutdown loses nothing.
func (s *Sequencer) drain() {
	for {
		select {
		case ev := <-s.inbox:
			s.processEvent(context.Background(), ev)
		default:
			return
		}
	}
}

func (s *Sequencer) processEvent(ctx context.Context, ev event.Event) {
	// 1. Sequence Gap Check (Halt Policy)
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}

	// 2. WAL-first: Persistence
	start := time.Now()
	if s.store != nil {
		if err := s.store.SaveEvent(context.Background(), ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}
	s.metrics.RecordEvent(time.Since(start).Nanoseconds())

	// 3. Bookkeeping for external reads; advances nextSeq
	s.record(ev)

	// 4. Fan-out (best effort)
	for _, sub := range s.subscribers {
		if err := sub.Publish(ctx, ev); err != nil {
			s.logger.Warn("Subscriber publish failed",
				slog.String("subscriber", sub.Name()),
				slog.Uint64("seq", ev.GetSeq()),
				slog.Any("error", err))
		}
	}
}

// ReplayEvent processes an event synchronously without WAL logging or fan-out.
// This is used exclusively by journal verification.
func (s *Sequencer) ReplayEvent(ev event.Event) {
	// Replay must still respect sequence order
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}
	s.record(ev)
}

func (s *Sequencer) record(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	s.counts[ev.GetType()]++
	if ev.GetSlot() > s.lastSlot {
		s.lastSlot = ev.GetSlot()
	}
	if len(s.recent) == recentCap {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:recentCap-1]
	}
	s.recent = append(s.recent, ev)
}

// Stats returns a snapshot of processed-event statistics (external read).
func (s *Sequencer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		NextSeq:  s.nextSeq,
		LastSlot: s.lastSlot,
		Counts:   make(map[string]uint64, len(s.counts)),
	}
	for t, n := range s.counts {
		st.Counts[t.String()] = n
	}
	return st
}

// DumpState writes the sequencer state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	st := s.Stats()
	s.mu.RLock()
	for _, ev := range s.recent {
		if b, err := json.Marshal(ev); err == nil {
			st.Recent = append(st.Recent, b)
		}
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}

// LogSubscriber writes every event to a structured logger.
type LogSubscriber struct {
	Logger *slog.Logger
}

func (l LogSubscriber) Name() string { return "log" }

func (l LogSubscriber) Publish(_ context.Context, ev event.Event) error {
	l.Logger.Debug("event",
		slog.Uint64("seq", ev.GetSeq()),
		slog.String("type", ev.GetType().String()),
		slog.Int64("slot", int64(ev.GetSlot())),
		slog.String("id", ev.GetID()))
	return nil
}
