package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/metrics"
)

type keyResolver interface {
	Resolve(ctx context.Context, raw string) string
}

type fragmentBuffer interface {
	Add(ctx context.Context, key, chatID, text string)
}

type allowList interface {
	IsAllowed(key string) bool
}

// Inbound filters channel messages down to allow-listed customers and feeds
// them to the session buffer.
type Inbound struct {
	resolver keyResolver
	allowed  allowList
	buffer   fragmentBuffer
	recorder MessageRecorder
	logger   zerolog.Logger
}

// NewInbound builds the pipeline. recorder may be nil.
func NewInbound(resolver keyResolver, allowed allowList, buffer fragmentBuffer, recorder MessageRecorder, logger zerolog.Logger) (*Inbound, error) {
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if allowed == nil {
		return nil, errors.New("usecase: allow list must not be nil")
	}
	if buffer == nil {
		return nil, errors.New("usecase: buffer must not be nil")
	}
	return &Inbound{
		resolver: resolver,
		allowed:  allowed,
		buffer:   buffer,
		recorder: recorder,
		logger:   logger.With().Str("component", "inbound").Logger(),
	}, nil
}

func (p *Inbound) Handle(ctx context.Context, msg domain.ChannelMessage) {
	if p.recorder != nil {
		p.recorder.Record(msg)
	}
	if msg.FromMe || msg.IsStatus {
		metrics.InboundMessages.WithLabelValues("own_or_status").Inc()
		return
	}
	if strings.TrimSpace(msg.Body) == "" {
		metrics.InboundMessages.WithLabelValues("empty").Inc()
		return
	}

	key := p.resolver.Resolve(ctx, msg.RemoteChat())
	if key == "" {
		metrics.InboundMessages.WithLabelValues("unresolved").Inc()
		p.logger.Debug().Str("raw_id", msg.From).Msg("sender not resolved, dropping")
		return
	}
	if !p.allowed.IsAllowed(key) {
		metrics.InboundMessages.WithLabelValues("not_allowed").Inc()
		return
	}

	p.buffer.Add(ctx, key, msg.From, msg.Body)
	metrics.InboundMessages.WithLabelValues("buffered").Inc()
	p.logger.Info().Str("customer_key", key).Msg("message buffered")
}
