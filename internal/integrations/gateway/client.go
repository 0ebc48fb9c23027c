// Package gateway talks to the chat gateway over a websocket. The gateway owns
// the chat session (pairing, media upload, protocol); this client only issues
// requests and forwards the events it reports.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
	eventQueueSize        = 256
)

// Frame types exchanged with the gateway.
const (
	typeSend         = "send"
	typeResolve      = "resolve_address"
	typeFetch        = "fetch_messages"
	typeTyping       = "typing"
	typeResult       = "result"
	typeMessage      = "message"
	typeQR           = "qr"
	typeReady        = "ready"
	typeDisconnected = "disconnected"
)

var (
	ErrNotConnected = errors.New("gateway: not connected")
	ErrTimeout      = errors.New("gateway: request timed out")
)

type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type sendPayload struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

type resolvePayload struct {
	Candidate string `json:"candidate"`
}

type resolveResult struct {
	Address string `json:"address"`
}

type fetchPayload struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit"`
}

type fetchResult struct {
	Messages []domain.ChannelMessage `json:"messages"`
}

type typingPayload struct {
	ChatID string `json:"chatId"`
	State  string `json:"state"`
}

type qrPayload struct {
	QR string `json:"qr"`
}

// Status is the session state last reported by the gateway.
type Status struct {
	Connected bool
	Ready     bool
	QR        string
}

// Client is a request/response client over one websocket connection, with
// automatic reconnect. Inbound message events are published on InboundTopic.
type Client struct {
	url            string
	dialer         *websocket.Dialer
	publisher      message.Publisher
	logger         zerolog.Logger
	requestTimeout time.Duration
	reconnectDelay time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan frame
	status  Status

	events chan domain.ChannelMessage
}

type Option func(*Client)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func New(url string, publisher message.Publisher, logger zerolog.Logger, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("gateway: url must not be empty")
	}
	if publisher == nil {
		return nil, errors.New("gateway: publisher must not be nil")
	}
	c := &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		publisher:      publisher,
		logger:         logger.With().Str("component", "gateway").Logger(),
		requestTimeout: defaultRequestTimeout,
		reconnectDelay: defaultReconnectDelay,
		pending:        make(map[string]chan frame),
		events:         make(chan domain.ChannelMessage, eventQueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status returns a copy of the current session state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run keeps a connection to the gateway open until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	go c.pump(ctx)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn().Err(err).Dur("retry_in", c.reconnectDelay).Msg("gateway connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

// pump publishes queued events so a slow subscriber never stalls the reader,
// which also carries request results.
func (c *Client) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cm := <-c.events:
			if err := publishMessage(c.publisher, cm); err != nil {
				c.logger.Error().Err(err).Str("message_id", cm.ID).Msg("publish inbound message")
			}
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.status.Connected = true
	c.mu.Unlock()
	c.logger.Info().Str("url", c.url).Msg("gateway connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		c.dropConn(conn)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("gateway: read: %w", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable gateway frame")
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Type {
	case typeResult:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	case typeMessage:
		var cm domain.ChannelMessage
		if err := json.Unmarshal(f.Payload, &cm); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable message event")
			return
		}
		select {
		case c.events <- cm:
		default:
			c.logger.Error().Str("message_id", cm.ID).Msg("event queue full, dropping message")
		}
	case typeQR:
		var p qrPayload
		_ = json.Unmarshal(f.Payload, &p)
		c.mu.Lock()
		c.status.QR = p.QR
		c.status.Ready = false
		c.mu.Unlock()
		c.logger.Info().Msg("gateway waiting for pairing")
	case typeReady:
		c.mu.Lock()
		c.status.QR = ""
		c.status.Ready = true
		c.mu.Unlock()
		c.logger.Info().Msg("chat session ready")
	case typeDisconnected:
		c.mu.Lock()
		c.status.Ready = false
		c.mu.Unlock()
		c.logger.Warn().Msg("chat session disconnected")
	default:
		c.logger.Debug().Str("type", f.Type).Msg("ignoring gateway frame")
	}
}

// dropConn forgets conn and fails every request still waiting on it.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.status = Status{}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, typ string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: %s: encode payload: %w", typ, err)
	}
	id := uuid.NewString()
	data, err := json.Marshal(frame{ID: id, Type: typ, Payload: body})
	if err != nil {
		return fmt.Errorf("gateway: %s: encode frame: %w", typ, err)
	}

	ch := make(chan frame, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.requestTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("gateway: %s: write: %w", typ, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	select {
	case res, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if !res.OK {
			return fmt.Errorf("gateway: %s: %s", typ, res.Error)
		}
		if out != nil && len(res.Payload) > 0 {
			if err := json.Unmarshal(res.Payload, out); err != nil {
				return fmt.Errorf("gateway: %s: decode result: %w", typ, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, typ)
	}
}

// Send delivers a text message to a chat id.
func (c *Client) Send(ctx context.Context, to, text string) error {
	err := c.call(ctx, typeSend, sendPayload{To: to, Text: text}, nil)
	countSend("text", err)
	return err
}

// SendMedia delivers the image at mediaURL with caption as its text. The
// gateway downloads the media itself.
func (c *Client) SendMedia(ctx context.Context, to, mediaURL, caption string) error {
	err := c.call(ctx, typeSend, sendPayload{To: to, Text: caption, MediaURL: mediaURL}, nil)
	countSend("media", err)
	return err
}

// ResolveAddress returns the routable chat id for a contact candidate, or ""
// when the gateway does not know one.
func (c *Client) ResolveAddress(ctx context.Context, candidate string) (string, error) {
	var res resolveResult
	if err := c.call(ctx, typeResolve, resolvePayload{Candidate: candidate}, &res); err != nil {
		return "", err
	}
	return res.Address, nil
}

// FetchMessages returns up to limit recent messages of a chat, oldest first.
func (c *Client) FetchMessages(ctx context.Context, chatID string, limit int) ([]domain.ChannelMessage, error) {
	var res fetchResult
	if err := c.call(ctx, typeFetch, fetchPayload{ChatID: chatID, Limit: limit}, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *Client) StartTyping(ctx context.Context, chatID string) error {
	return c.call(ctx, typeTyping, typingPayload{ChatID: chatID, State: "composing"}, nil)
}

func (c *Client) ClearTyping(ctx context.Context, chatID string) error {
	return c.call(ctx, typeTyping, typingPayload{ChatID: chatID, State: "clear"}, nil)
}

func countSend(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.OutboundSends.WithLabelValues(kind, result).Inc()
}
