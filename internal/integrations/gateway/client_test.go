package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/usecase"
)

var _ usecase.Transport = (*Client)(nil)

// fakeGateway is a websocket server speaking the gateway frame protocol.
type fakeGateway struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(req frame) *frame

	mu          sync.Mutex
	conn        *websocket.Conn
	requests    []frame
	connections int
}

func newFakeGateway(t *testing.T, respond func(req frame) *frame) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, respond: respond}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.connections++
		g.mu.Unlock()
		defer func() { _ = conn.Close() }()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req frame
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			g.mu.Lock()
			g.requests = append(g.requests, req)
			g.mu.Unlock()
			if g.respond == nil {
				continue
			}
			if res := g.respond(req); res != nil {
				res.ID = req.ID
				res.Type = typeResult
				_ = g.write(*res)
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *fakeGateway) push(typ string, payload any) {
	raw, err := json.Marshal(payload)
	require.NoError(g.t, err)
	require.NoError(g.t, g.write(frame{Type: typ, Payload: raw}))
}

func (g *fakeGateway) dropConnection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.conn.Close()
}

func (g *fakeGateway) lastRequest() frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func okResult(payload any) *frame {
	raw, _ := json.Marshal(payload)
	return &frame{OK: true, Payload: raw}
}

// startClient runs a client against g and waits until it is connected.
func startClient(t *testing.T, g *fakeGateway, pub message.Publisher, opts ...Option) *Client {
	t.Helper()
	if pub == nil {
		pub = NewBus(zerolog.Nop())
	}
	opts = append([]Option{WithRequestTimeout(time.Second), WithReconnectDelay(10 * time.Millisecond)}, opts...)
	c, err := New(g.url(), pub, zerolog.Nop(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.conn != nil && c.Status().Connected
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(" ", NewBus(zerolog.Nop()), zerolog.Nop())
	require.Error(t, err)

	_, err = New("ws://x", nil, zerolog.Nop())
	require.Error(t, err)
}

func TestClient_NotConnected(t *testing.T) {
	c, err := New("ws://127.0.0.1:1", NewBus(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	err = c.Send(context.Background(), "5511@c.us", "oi")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_Requests(t *testing.T) {
	g := newFakeGateway(t, func(req frame) *frame {
		switch req.Type {
		case typeResolve:
			return okResult(resolveResult{Address: "5511999990000@c.us"})
		case typeFetch:
			return okResult(fetchResult{Messages: []domain.ChannelMessage{
				{ID: "m1", FromMe: true, Body: "Oi Ana"},
				{ID: "m2", Body: "oi"},
			}})
		default:
			return &frame{OK: true}
		}
	})
	c := startClient(t, g, nil)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, "5511999990000@c.us", "Olá"))
	req := g.lastRequest()
	require.Equal(t, typeSend, req.Type)
	require.NotEmpty(t, req.ID)
	var sp sendPayload
	require.NoError(t, json.Unmarshal(req.Payload, &sp))
	require.Equal(t, sendPayload{To: "5511999990000@c.us", Text: "Olá"}, sp)

	require.NoError(t, c.SendMedia(ctx, "5511999990000@c.us", "https://img/x.png", "legenda"))
	require.NoError(t, json.Unmarshal(g.lastRequest().Payload, &sp))
	require.Equal(t, "https://img/x.png", sp.MediaURL)
	require.Equal(t, "legenda", sp.Text)

	addr, err := c.ResolveAddress(ctx, "5511999990000")
	require.NoError(t, err)
	require.Equal(t, "5511999990000@c.us", addr)

	msgs, err := c.FetchMessages(ctx, "123@lid", 15)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.True(t, msgs[0].FromMe)
	var fp fetchPayload
	require.NoError(t, json.Unmarshal(g.lastRequest().Payload, &fp))
	require.Equal(t, fetchPayload{ChatID: "123@lid", Limit: 15}, fp)

	require.NoError(t, c.StartTyping(ctx, "123@lid"))
	var tp typingPayload
	require.NoError(t, json.Unmarshal(g.lastRequest().Payload, &tp))
	require.Equal(t, "composing", tp.State)
	require.NoError(t, c.ClearTyping(ctx, "123@lid"))
	require.NoError(t, json.Unmarshal(g.lastRequest().Payload, &tp))
	require.Equal(t, "clear", tp.State)
}

func TestClient_GatewayError(t *testing.T) {
	g := newFakeGateway(t, func(req frame) *frame {
		return &frame{OK: false, Error: "number not registered"}
	})
	c := startClient(t, g, nil)

	err := c.Send(context.Background(), "1@c.us", "oi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "number not registered")
}

func TestClient_RequestTimeout(t *testing.T) {
	g := newFakeGateway(t, nil)
	c := startClient(t, g, nil, WithRequestTimeout(50*time.Millisecond))

	_, err := c.ResolveAddress(context.Background(), "1")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClient_PendingFailsOnDisconnect(t *testing.T) {
	var g *fakeGateway
	g = newFakeGateway(t, func(req frame) *frame {
		go g.dropConnection()
		return nil
	})
	c := startClient(t, g, nil, WithRequestTimeout(2*time.Second))

	err := c.Send(context.Background(), "1@c.us", "oi")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_Reconnects(t *testing.T) {
	g := newFakeGateway(t, nil)
	startClient(t, g, nil)

	g.dropConnection()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.connections >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_StatusFollowsSessionEvents(t *testing.T) {
	g := newFakeGateway(t, nil)
	c := startClient(t, g, nil)

	g.push(typeQR, qrPayload{QR: "data:image/png;base64,AAAA"})
	require.Eventually(t, func() bool { return c.Status().QR != "" }, time.Second, 5*time.Millisecond)
	require.False(t, c.Status().Ready)

	g.push(typeReady, struct{}{})
	require.Eventually(t, func() bool { return c.Status().Ready }, time.Second, 5*time.Millisecond)
	require.Empty(t, c.Status().QR)

	g.push(typeDisconnected, struct{}{})
	require.Eventually(t, func() bool { return !c.Status().Ready }, time.Second, 5*time.Millisecond)
}

func TestClient_PublishesMessagesInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, InboundTopic)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	go drain(ctx, msgs, func(_ context.Context, cm domain.ChannelMessage) {
		mu.Lock()
		got = append(got, cm.Body)
		mu.Unlock()
	})

	g := newFakeGateway(t, nil)
	startClient(t, g, bus)

	for _, body := range []string{"oi", "ainda ta ai?", "quero o tapete"} {
		g.push(typeMessage, domain.ChannelMessage{ID: body, From: "5511999990000@c.us", Body: body})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"oi", "ainda ta ai?", "quero o tapete"}, got)
}

type fakeSubscriber struct {
	ch    chan *message.Message
	topic string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	f.topic = topic
	return f.ch, nil
}

func (f *fakeSubscriber) Close() error { return nil }

func TestConsume_AcksAndSkipsUndecodable(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan *message.Message, 2)}
	bad := message.NewMessage("1", []byte("{broken"))
	good := message.NewMessage("2", []byte(`{"id":"m1","from":"1@c.us","body":"oi"}`))
	sub.ch <- bad
	sub.ch <- good
	close(sub.ch)

	var handled []domain.ChannelMessage
	err := Consume(context.Background(), sub, func(_ context.Context, cm domain.ChannelMessage) {
		handled = append(handled, cm)
	})
	require.NoError(t, err)
	require.Equal(t, InboundTopic, sub.topic)
	require.Len(t, handled, 1)
	require.Equal(t, "oi", handled[0].Body)

	for _, m := range []*message.Message{bad, good} {
		select {
		case <-m.Acked():
		default:
			t.Fatalf("message %s was not acked", m.UUID)
		}
	}
}
