package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/hiddentag"
	"cart-recovery-agent/internal/metrics"
)

const (
	DefaultTypingDelay = 20 * time.Second
	FallbackText       = "Oi! Já te respondo, só um minuto."
)

type outbound interface {
	Sender
	Presence
}

// Engine produces, sends and records assistant turns. Calls for the same
// customer key run one at a time.
type Engine struct {
	store       Store
	transport   outbound
	generator   Generator
	logger      zerolog.Logger
	typingDelay time.Duration
	mediaURL    string

	locks *keyedMutex
}

type EngineOption func(*Engine)

// WithTypingDelay sets how long the composing indicator shows before a reply.
// Zero disables the wait.
func WithTypingDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.typingDelay = d
		}
	}
}

// WithCampaignMedia attaches the image at url to every first turn.
func WithCampaignMedia(url string) EngineOption {
	return func(e *Engine) {
		e.mediaURL = strings.TrimSpace(url)
	}
}

func NewEngine(store Store, transport outbound, generator Generator, logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	e := &Engine{
		store:       store,
		transport:   transport,
		generator:   generator,
		logger:      logger.With().Str("component", "engine").Logger(),
		typingDelay: DefaultTypingDelay,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Advance answers one logical inbound turn. Failures never propagate: a
// responder error becomes FallbackText and a failed send keeps only the
// customer turn.
func (e *Engine) Advance(ctx context.Context, key, chatID, inbound string) {
	unlock := e.locks.Lock(key)
	defer unlock()
	log := e.logger.With().Str("customer_key", key).Str("chat_id", chatID).Logger()

	if err := e.transport.StartTyping(ctx, chatID); err != nil {
		log.Debug().Err(err).Msg("start typing")
	}
	defer func() {
		if err := e.transport.ClearTyping(context.WithoutCancel(ctx), chatID); err != nil {
			log.Debug().Err(err).Msg("clear typing")
		}
	}()

	if !sleepCtx(ctx, e.typingDelay) {
		log.Warn().Msg("shutdown during typing delay, turn dropped")
		return
	}

	customer := domain.Turn{Role: domain.RoleCustomer, Text: inbound}
	rec := e.store.EnsureConversation(ctx, key)
	e.store.AppendTurns(ctx, key, customer)
	history := append(rec.History, customer)

	reply := hiddentag.Encode(e.generate(ctx, log, history, rec.CustomerData), key)
	if err := e.transport.Send(ctx, chatID, reply); err != nil {
		log.Error().Err(err).Msg("send reply")
		return
	}
	e.store.AppendTurns(ctx, key, domain.Turn{Role: domain.RoleAssistant, Text: reply})
	log.Info().Int("turns", len(history)+1).Msg("reply sent")
}

// Restart begins a new campaign cycle for key: customer data is replaced,
// history emptied and the first turn sent, all under the key lock so no
// in-flight Advance can land between the reset and the outreach script.
// The campaign image is tried first and the text goes alone when it fails.
func (e *Engine) Restart(ctx context.Context, key, chatID string, data domain.CustomerData) error {
	unlock := e.locks.Lock(key)
	defer unlock()
	log := e.logger.With().Str("customer_key", key).Str("chat_id", chatID).Logger()

	e.store.ResetConversation(ctx, key, data)
	rec, _ := e.store.Conversation(key)
	text := hiddentag.Encode(e.generate(ctx, log, rec.History, rec.CustomerData), key)

	sent := false
	if e.mediaURL != "" {
		if err := e.transport.SendMedia(ctx, chatID, e.mediaURL, text); err != nil {
			log.Warn().Err(err).Msg("campaign media failed, sending text only")
		} else {
			sent = true
		}
	}
	if !sent {
		if err := e.transport.Send(ctx, chatID, text); err != nil {
			return fmt.Errorf("usecase: send first turn: %w", err)
		}
	}

	e.store.AppendTurns(ctx, key, domain.Turn{Role: domain.RoleAssistant, Text: text})
	log.Info().Bool("media", sent).Msg("first turn sent")
	return nil
}

func (e *Engine) generate(ctx context.Context, log zerolog.Logger, history []domain.Turn, data domain.CustomerData) string {
	text, err := e.generator.Generate(ctx, history, data)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	ev := log.Warn().Err(err)
	if status, ok := upstreamStatusCode(err); ok {
		ev = ev.Int("status", status)
	}
	ev.Msg("responder failed, using fallback")
	metrics.ResponderFallbacks.Inc()
	return FallbackText
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
