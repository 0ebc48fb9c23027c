package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/hiddentag"
	"cart-recovery-agent/internal/metrics"
)

const (
	opaqueSuffix       = "@lid"
	defaultFetchWindow = 15
)

var addressSuffixes = []string{"@s.whatsapp.net", "@lid", "@c.us"}

// NormalizeKey strips channel suffixes from raw and keeps only its digits.
func NormalizeKey(raw string) string {
	s := strings.TrimSpace(raw)
	for _, suffix := range addressSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}
	return digitsOnly(s)
}

// IsOpaque reports whether raw is an anonymised identifier that carries no
// phone number.
func IsOpaque(raw string) bool {
	return strings.HasSuffix(strings.TrimSpace(raw), opaqueSuffix)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolver maps raw channel identifiers to customer keys.
type Resolver struct {
	store   Store
	history HistoryFetcher
	logger  zerolog.Logger
	window  int
}

func NewResolver(store Store, history HistoryFetcher, logger zerolog.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history fetcher must not be nil")
	}
	return &Resolver{
		store:   store,
		history: history,
		logger:  logger.With().Str("component", "resolver").Logger(),
		window:  defaultFetchWindow,
	}, nil
}

// Resolve returns the customer key for raw, or "" when it cannot be
// determined. Opaque identifiers are matched against the last bot message in
// their chat and the mapping is cached for good.
func (r *Resolver) Resolve(ctx context.Context, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if key, ok := r.store.Alias(raw); ok {
		metrics.IdentityResolutions.WithLabelValues("cache").Inc()
		return key
	}
	if !IsOpaque(raw) {
		key := NormalizeKey(raw)
		if key != "" {
			metrics.IdentityResolutions.WithLabelValues("direct").Inc()
		}
		return key
	}

	msgs, err := r.history.FetchMessages(ctx, raw, r.window)
	if err != nil {
		r.logger.Warn().Err(err).Str("raw_id", raw).Msg("history fetch failed")
		metrics.IdentityResolutions.WithLabelValues("error").Inc()
		return ""
	}

	sent := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].FromMe && strings.TrimSpace(msgs[i].Body) != "" {
			sent = strings.TrimSpace(msgs[i].Body)
			break
		}
	}
	if sent == "" {
		metrics.IdentityResolutions.WithLabelValues("unresolved").Inc()
		return ""
	}

	if key, ok := hiddentag.Decode(sent); ok && r.store.IsAllowed(key) {
		return r.learn(ctx, raw, key, "trailer")
	}

	for _, rec := range r.store.AllowedConversations() {
		last, ok := rec.LastAssistantTurn()
		if !ok {
			continue
		}
		remembered := strings.TrimSpace(last)
		if remembered == "" {
			continue
		}
		if strings.Contains(sent, remembered) || strings.Contains(remembered, sent) {
			return r.learn(ctx, raw, rec.CustomerKey, "heuristic")
		}
	}

	metrics.IdentityResolutions.WithLabelValues("unresolved").Inc()
	return ""
}

func (r *Resolver) learn(ctx context.Context, raw, key, source string) string {
	r.store.LearnAlias(ctx, raw, key)
	metrics.IdentityResolutions.WithLabelValues(source).Inc()
	r.logger.Info().Str("raw_id", raw).Str("customer_key", key).Str("source", source).Msg("identity learned")
	return key
}
