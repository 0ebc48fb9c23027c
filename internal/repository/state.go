package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/metrics"
)

// SnapshotSink persists and restores full snapshots of the State.
// LoadSnapshot returns ErrSnapshotNotFound when nothing was saved yet.
type SnapshotSink interface {
	LoadSnapshot(ctx context.Context) (domain.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
}

// State owns conversations, the alias cache and the allow-list. Every
// mutation that must survive a crash writes a full snapshot before returning.
type State struct {
	sink   SnapshotSink
	logger zerolog.Logger

	mu            sync.RWMutex
	conversations map[string]*domain.ConversationRecord
	aliases       map[string]string
	allowed       map[string]struct{}

	// persistMu keeps snapshot capture and write in one critical section so
	// an older snapshot can never land after a newer one.
	persistMu sync.Mutex
}

// NewState creates an empty State backed by sink.
func NewState(sink SnapshotSink, logger zerolog.Logger) (*State, error) {
	if sink == nil {
		return nil, errors.New("repository: snapshot sink must not be nil")
	}
	return &State{
		sink:          sink,
		logger:        logger.With().Str("component", "state").Logger(),
		conversations: make(map[string]*domain.ConversationRecord),
		aliases:       make(map[string]string),
		allowed:       make(map[string]struct{}),
	}, nil
}

// Load hydrates the State from the sink. A missing or unreadable snapshot
// leaves the State empty; Load never fails.
func (s *State) Load(ctx context.Context) {
	snap, err := s.sink.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		s.logger.Info().Msg("no persisted state, starting empty")
		return
	case err != nil:
		s.logger.Warn().Err(err).Msg("persisted state unreadable, starting empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range snap.Conversations {
		if rec.CustomerKey == "" {
			rec.CustomerKey = key
		}
		s.conversations[key] = &rec
	}
	for raw, key := range snap.LIDCache {
		s.aliases[raw] = key
	}
	for _, key := range snap.Allowed {
		s.allowed[key] = struct{}{}
	}
	s.logger.Info().
		Int("conversations", len(s.conversations)).
		Int("aliases", len(s.aliases)).
		Int("allowed", len(s.allowed)).
		Msg("state loaded")
}

// Conversation returns a copy of the record for key.
func (s *State) Conversation(key string) (domain.ConversationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[key]
	if !ok {
		return domain.ConversationRecord{}, false
	}
	return copyRecord(rec), true
}

// EnsureConversation returns the record for key, creating and persisting an
// empty one on first reference.
func (s *State) EnsureConversation(ctx context.Context, key string) domain.ConversationRecord {
	s.mu.Lock()
	rec, ok := s.conversations[key]
	if !ok {
		rec = &domain.ConversationRecord{CustomerKey: key, History: []domain.Turn{}}
		s.conversations[key] = rec
	}
	out := copyRecord(rec)
	s.mu.Unlock()

	if !ok {
		s.persist(ctx)
	}
	return out
}

// ResetConversation starts a new campaign cycle for key: customer data is
// overwritten, history emptied and the key allow-listed.
func (s *State) ResetConversation(ctx context.Context, key string, data domain.CustomerData) {
	s.mu.Lock()
	rec, ok := s.conversations[key]
	if !ok {
		rec = &domain.ConversationRecord{CustomerKey: key}
		s.conversations[key] = rec
	}
	rec.CustomerData = data
	rec.History = []domain.Turn{}
	s.allowed[key] = struct{}{}
	s.mu.Unlock()

	s.persist(ctx)
}

// AppendTurns appends turns to the history of key in order.
func (s *State) AppendTurns(ctx context.Context, key string, turns ...domain.Turn) {
	if len(turns) == 0 {
		return
	}
	s.mu.Lock()
	rec, ok := s.conversations[key]
	if !ok {
		rec = &domain.ConversationRecord{CustomerKey: key}
		s.conversations[key] = rec
	}
	rec.History = append(rec.History, turns...)
	s.mu.Unlock()

	s.persist(ctx)
}

func (s *State) IsAllowed(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowed[key]
	return ok
}

func (s *State) Alias(raw string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.aliases[raw]
	return key, ok
}

// LearnAlias records raw -> key permanently. An existing mapping is kept.
func (s *State) LearnAlias(ctx context.Context, raw, key string) {
	s.mu.Lock()
	if _, ok := s.aliases[raw]; ok {
		s.mu.Unlock()
		return
	}
	s.aliases[raw] = key
	s.mu.Unlock()

	s.persist(ctx)
}

// AllowedConversations returns copies of every allow-listed record that
// exists, ordered by customer key.
func (s *State) AllowedConversations() []domain.ConversationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.allowed))
	for key := range s.allowed {
		if _, ok := s.conversations[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]domain.ConversationRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, copyRecord(s.conversations[key]))
	}
	return out
}

// Snapshot returns a deep copy of the State in its persisted shape.
func (s *State) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := domain.Snapshot{
		Conversations: make(map[string]domain.ConversationRecord, len(s.conversations)),
		LIDCache:      make(map[string]string, len(s.aliases)),
		Allowed:       make([]string, 0, len(s.allowed)),
	}
	for key, rec := range s.conversations {
		snap.Conversations[key] = copyRecord(rec)
	}
	for raw, key := range s.aliases {
		snap.LIDCache[raw] = key
	}
	for key := range s.allowed {
		snap.Allowed = append(snap.Allowed, key)
	}
	sort.Strings(snap.Allowed)
	return snap
}

// Stats returns the sizes of the three structures.
func (s *State) Stats() (conversations, aliases, allowed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), len(s.aliases), len(s.allowed)
}

func (s *State) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.sink.SaveSnapshot(ctx, s.Snapshot()); err != nil {
		metrics.StorePersistErrors.Inc()
		s.logger.Error().Err(err).Msg("persist state")
	}
}

func copyRecord(rec *domain.ConversationRecord) domain.ConversationRecord {
	out := *rec
	out.History = append([]domain.Turn{}, rec.History...)
	return out
}
