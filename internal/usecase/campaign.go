package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/metrics"
)

const KindAbandonedCart = "Carrinho Abandonado"

// acceptedEvents maps commerce event names to the campaign kind they start.
// Anything else is ignored.
var acceptedEvents = map[string]string{
	"checkout.abandoned": KindAbandonedCart,
	"cart.reminder":      KindAbandonedCart,
}

type restarter interface {
	Restart(ctx context.Context, key, chatID string, data domain.CustomerData) error
}

type CampaignInput struct {
	Phone string
	Event string
	Data  domain.CustomerData
}

type CampaignOutput struct {
	CustomerKey string
	ChatID      string
}

// Campaign turns commerce events into fresh conversations.
type Campaign struct {
	addresses AddressResolver
	engine    restarter
	logger    zerolog.Logger
}

func NewCampaign(addresses AddressResolver, engine restarter, logger zerolog.Logger) (*Campaign, error) {
	if addresses == nil {
		return nil, errors.New("usecase: address resolver must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	return &Campaign{
		addresses: addresses,
		engine:    engine,
		logger:    logger.With().Str("component", "campaign").Logger(),
	}, nil
}

// Start resets the conversation of the contact, allow-lists it and sends the
// first turn. Unaccepted events return an ErrorIgnored without touching state.
func (c *Campaign) Start(ctx context.Context, in CampaignInput) (CampaignOutput, error) {
	phone := digitsOnly(in.Phone)
	if phone == "" {
		metrics.Campaigns.WithLabelValues("invalid").Inc()
		return CampaignOutput{}, newError(ErrorInvalidInput, "missing_phone", nil)
	}
	event := strings.TrimSpace(in.Event)
	kind, ok := acceptedEvents[event]
	if !ok {
		metrics.Campaigns.WithLabelValues("ignored").Inc()
		c.logger.Info().Str("event", event).Msg("event ignored")
		return CampaignOutput{}, newError(ErrorIgnored, "event_not_accepted", nil)
	}

	chatID := phone + "@c.us"
	if addr, err := c.addresses.ResolveAddress(ctx, chatID); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("address lookup failed, using provisional id")
	} else if addr = strings.TrimSpace(addr); addr != "" {
		chatID = addr
	}
	key := NormalizeKey(chatID)
	if key == "" {
		key = phone
	}

	data := in.Data
	data.Kind = kind
	c.logger.Info().Str("customer_key", key).Str("event", event).Str("name", data.Name).Msg("campaign started")

	if err := c.engine.Restart(ctx, key, chatID, data); err != nil {
		metrics.Campaigns.WithLabelValues("send_failed").Inc()
		return CampaignOutput{}, newError(ErrorInternal, "first_turn_failed", err)
	}
	metrics.Campaigns.WithLabelValues("accepted").Inc()
	return CampaignOutput{CustomerKey: key, ChatID: chatID}, nil
}
