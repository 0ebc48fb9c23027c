package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/repository"
)

type sentMessage struct {
	to    string
	text  string
	media string
}

type fakeTransport struct {
	mu sync.Mutex

	sendErr    error
	mediaErr   error
	fetchMsgs  []domain.ChannelMessage
	fetchErr   error
	resolveTo  string
	resolveErr error

	sends        []sentMessage
	typing       []string
	fetches      int
	resolveCalls []string
}

func (f *fakeTransport) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sentMessage{to: to, text: text})
	return nil
}

func (f *fakeTransport) SendMedia(_ context.Context, to, mediaURL, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return f.mediaErr
	}
	f.sends = append(f.sends, sentMessage{to: to, text: caption, media: mediaURL})
	return nil
}

func (f *fakeTransport) StartTyping(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, "start:"+chatID)
	return nil
}

func (f *fakeTransport) ClearTyping(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, "clear:"+chatID)
	return nil
}

func (f *fakeTransport) FetchMessages(_ context.Context, _ string, _ int) ([]domain.ChannelMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.fetchMsgs, f.fetchErr
}

func (f *fakeTransport) ResolveAddress(_ context.Context, candidate string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls = append(f.resolveCalls, candidate)
	return f.resolveTo, f.resolveErr
}

func (f *fakeTransport) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sends...)
}

func (f *fakeTransport) typingEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typing...)
}

func (f *fakeTransport) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	calls [][]domain.ChatMessage
}

func (f *fakeLLM) Chat(_ context.Context, _ string, messages []domain.ChatMessage) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.reply, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) lastCall() []domain.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestStore(t *testing.T) *repository.State {
	t.Helper()
	s, err := repository.NewState(repository.NewMemorySink(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func newTestEngine(t *testing.T, store Store, tr *fakeTransport, llm *fakeLLM, opts ...EngineOption) *Engine {
	t.Helper()
	r, err := NewResponder(llm, "test-model", "")
	require.NoError(t, err)
	opts = append([]EngineOption{WithTypingDelay(0)}, opts...)
	e, err := NewEngine(store, tr, r, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return e
}
