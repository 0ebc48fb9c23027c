package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
)

const (
	defaultLogLimit         = 50
	defaultLogFlushInterval = 30 * time.Second
)

// LogEntry is one diagnostic record of a transport message.
type LogEntry struct {
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
	Body      string `json:"body"`
	PushName  string `json:"pushName,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// MessageLog keeps the last messages of every chat for diagnostic replay.
// It is flushed on an interval rather than on every write; nothing in the
// conversation pipeline reads it back.
type MessageLog struct {
	path   string
	limit  int
	logger zerolog.Logger

	mu    sync.Mutex
	chats map[string][]LogEntry
	dirty bool
}

func NewMessageLog(path string, limit int, logger zerolog.Logger) (*MessageLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: message log path must not be empty")
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	return &MessageLog{
		path:   path,
		limit:  limit,
		logger: logger.With().Str("component", "message_log").Logger(),
		chats:  make(map[string][]LogEntry),
	}, nil
}

// Load merges the persisted log into memory. Read errors are logged only.
func (l *MessageLog) Load() {
	chats := make(map[string][]LogEntry)
	if _, err := readJSON(l.path, &chats); err != nil {
		l.logger.Warn().Err(err).Msg("message log unreadable, starting empty")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for chat, entries := range chats {
		l.chats[chat] = entries
	}
}

// Record appends msg to the log of its remote chat, skipping ids already seen.
func (l *MessageLog) Record(msg domain.ChannelMessage) {
	chat := msg.RemoteChat()
	if chat == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.chats[chat]
	if msg.ID != "" {
		for _, e := range entries {
			if e.ID == msg.ID {
				return
			}
		}
	}
	entries = append(entries, LogEntry{
		ID:        msg.ID,
		FromMe:    msg.FromMe,
		Body:      msg.Body,
		PushName:  msg.PushName,
		Timestamp: msg.Timestamp,
	})
	if len(entries) > l.limit {
		entries = entries[len(entries)-l.limit:]
	}
	l.chats[chat] = entries
	l.dirty = true
}

// Entries returns a copy of the log for chat.
func (l *MessageLog) Entries(chat string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.chats[chat]...)
}

// Flush writes the log if it changed since the last flush.
func (l *MessageLog) Flush() error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	chats := make(map[string][]LogEntry, len(l.chats))
	for chat, entries := range l.chats {
		chats[chat] = append([]LogEntry(nil), entries...)
	}
	l.dirty = false
	l.mu.Unlock()

	if err := writeJSONAtomic(l.path, chats); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (l *MessageLog) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultLogFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := l.Flush(); err != nil {
				l.logger.Error().Err(err).Msg("final message log flush")
			}
			return nil
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.logger.Error().Err(err).Msg("flush message log")
			}
		}
	}
}
