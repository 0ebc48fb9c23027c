package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/hiddentag"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"5511999990000@c.us", "5511999990000"},
		{"5511999990000@s.whatsapp.net", "5511999990000"},
		{"+55 (11) 99999-0000", "5511999990000"},
		{"123456@lid", "123456"},
		{"  5511999990000  ", "5511999990000"},
		{"status@broadcast", ""},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeKey(tc.raw), "raw=%q", tc.raw)
	}
}

func TestIsOpaque(t *testing.T) {
	require.True(t, IsOpaque("123456@lid"))
	require.False(t, IsOpaque("5511999990000@c.us"))
	require.False(t, IsOpaque("5511999990000"))
}

func newTestResolver(t *testing.T, store Store, tr *fakeTransport) *Resolver {
	t.Helper()
	r, err := NewResolver(store, tr, zerolog.Nop())
	require.NoError(t, err)
	return r
}

// seedCampaign allow-lists key with one assistant turn.
func seedCampaign(t *testing.T, store Store, key, lastAssistant string) {
	t.Helper()
	ctx := context.Background()
	store.ResetConversation(ctx, key, domain.CustomerData{Name: "Cliente " + key})
	if lastAssistant != "" {
		store.AppendTurns(ctx, key, domain.Turn{Role: domain.RoleAssistant, Text: lastAssistant})
	}
}

func TestNewResolver_Validates(t *testing.T) {
	_, err := NewResolver(nil, &fakeTransport{}, zerolog.Nop())
	require.Error(t, err)
	_, err = NewResolver(newTestStore(t), nil, zerolog.Nop())
	require.Error(t, err)
}

func TestResolver_DirectIdentifier(t *testing.T) {
	store := newTestStore(t)
	tr := &fakeTransport{}
	r := newTestResolver(t, store, tr)

	require.Equal(t, "5511999990000", r.Resolve(context.Background(), "5511999990000@c.us"))
	require.Zero(t, tr.fetchCount())
	_, cached := store.Alias("5511999990000@c.us")
	require.False(t, cached, "direct identifiers are not cached")
}

func TestResolver_OpaqueMatchIsCachedAndIdempotent(t *testing.T) {
	store := newTestStore(t)
	seedCampaign(t, store, "5511911110000", "Oi Bia, vi que você quase comprou o tapete!")
	seedCampaign(t, store, "5511999990000", "Oi Ana, seu carrinho ainda está aqui: https://x/y")

	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{
		{ID: "1", FromMe: true, Body: "mensagem antiga"},
		{ID: "2", Body: "oi"},
		// transport truncated the tail of the sent text
		{ID: "3", FromMe: true, Body: "  Oi Ana, seu carrinho ainda está aqui  "},
		{ID: "4", Body: "ainda ta ai?"},
	}}
	r := newTestResolver(t, store, tr)
	ctx := context.Background()

	first := r.Resolve(ctx, "777@lid")
	require.Equal(t, "5511999990000", first)
	require.Equal(t, 1, tr.fetchCount())

	second := r.Resolve(ctx, "777@lid")
	require.Equal(t, first, second)
	require.Equal(t, 1, tr.fetchCount(), "second resolution must be a cache hit")

	key, ok := store.Alias("777@lid")
	require.True(t, ok)
	require.Equal(t, "5511999990000", key)
}

func TestResolver_SentTextContainedInMemory(t *testing.T) {
	store := newTestStore(t)
	seedCampaign(t, store, "5511999990000", "Oi")
	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{
		{FromMe: true, Body: "Oi"},
	}}
	r := newTestResolver(t, store, tr)
	require.Equal(t, "5511999990000", r.Resolve(context.Background(), "1@lid"))
}

func TestResolver_TrailerIsDecoded(t *testing.T) {
	store := newTestStore(t)
	seedCampaign(t, store, "5511999990000", "texto que não bate")
	sent := hiddentag.Encode("Oi Ana, tudo bem?", "5511999990000")
	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: sent}}}
	r := newTestResolver(t, store, tr)

	require.Equal(t, "5511999990000", r.Resolve(context.Background(), "9@lid"))
	key, ok := store.Alias("9@lid")
	require.True(t, ok)
	require.Equal(t, "5511999990000", key)
}

func TestResolver_TrailerOfUnknownKeyIsNotTrusted(t *testing.T) {
	store := newTestStore(t)
	seedCampaign(t, store, "5511999990000", "outra coisa")
	sent := hiddentag.Encode("Oi Ana", "5500000000000")
	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: sent}}}
	r := newTestResolver(t, store, tr)

	require.Empty(t, r.Resolve(context.Background(), "9@lid"))
	_, ok := store.Alias("9@lid")
	require.False(t, ok)
}

func TestResolver_NoMatch(t *testing.T) {
	cases := []struct {
		name string
		tr   *fakeTransport
	}{
		{name: "fetch error", tr: &fakeTransport{fetchErr: errors.New("chat not found")}},
		{name: "no bot message", tr: &fakeTransport{fetchMsgs: []domain.ChannelMessage{{Body: "oi"}}}},
		{name: "blank bot message", tr: &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: "   "}}}},
		{name: "different text", tr: &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: "promoção de natal"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			seedCampaign(t, store, "5511999990000", "Oi Ana")
			r := newTestResolver(t, store, tc.tr)

			require.Empty(t, r.Resolve(context.Background(), "5@lid"))
			_, ok := store.Alias("5@lid")
			require.False(t, ok)
		})
	}
}

func TestResolver_OnlyAllowListedRecordsMatch(t *testing.T) {
	store := newTestStore(t)
	// record exists but was never allow-listed by a campaign
	store.AppendTurns(context.Background(), "5511999990000", domain.Turn{Role: domain.RoleAssistant, Text: "Oi Ana"})
	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: "Oi Ana"}}}
	r := newTestResolver(t, store, tr)

	require.Empty(t, r.Resolve(context.Background(), "5@lid"))
}

func TestResolver_TieGoesToFirstKeyInOrder(t *testing.T) {
	store := newTestStore(t)
	seedCampaign(t, store, "5522000000000", "Oi! Seu carrinho está esperando.")
	seedCampaign(t, store, "5511000000000", "Oi! Seu carrinho está esperando.")
	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: "Oi! Seu carrinho está esperando."}}}
	r := newTestResolver(t, store, tr)

	require.Equal(t, "5511000000000", r.Resolve(context.Background(), "5@lid"))
}

func TestResolver_SkipsRecordsWithoutAssistantText(t *testing.T) {
	store := newTestStore(t)
	seedCampaign(t, store, "5511000000000", "")
	seedCampaign(t, store, "5522000000000", "Oi Ana")
	tr := &fakeTransport{fetchMsgs: []domain.ChannelMessage{{FromMe: true, Body: "Oi Ana"}}}
	r := newTestResolver(t, store, tr)

	require.Equal(t, "5522000000000", r.Resolve(context.Background(), "5@lid"))
}
